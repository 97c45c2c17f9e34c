package graph

// Layout assigns every vertex to a display row using the longest path from
// any source, so a vertex always renders below everything that triggered it.
// Vertices within a row keep their discovery order
func (g *Graph[V]) Layout() [][]ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Edges always point to greater IDs, so ID order is topological
	depth := make([]int, len(g.present))
	var rows [][]ID
	for i, ok := range g.present {
		if !ok {
			continue
		}
		d := 0
		for _, p := range g.in[i] {
			d = max(d, depth[p]+1)
		}
		depth[i] = d
		for len(rows) <= d {
			rows = append(rows, nil)
		}
		rows[d] = append(rows[d], ID(i))
	}
	return rows
}

// Depth returns the length of the longest path in the graph, counted in
// vertices
func (g *Graph[V]) Depth() int {
	return len(g.Layout())
}
