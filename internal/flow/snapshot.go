package flow

import (
	"fmt"
	"io"

	"github.com/kode4food/buildflow/internal/graph"
	"github.com/kode4food/buildflow/pkg/api"
)

// Snapshot copies the graph into its serializable form
func Snapshot(g *Graph) *api.GraphSnapshot {
	ids := g.IDs()
	res := &api.GraphSnapshot{
		Vertices: make([]*api.Vertex, 0, len(ids)),
		Edges:    make([]api.Edge, 0, len(ids)),
	}
	for _, id := range ids {
		if h, ok := g.Vertex(id); ok {
			res.Vertices = append(res.Vertices, h.Vertex())
		}
	}
	for _, e := range g.Edges() {
		res.Edges = append(res.Edges, api.Edge{
			From: int(e.From),
			To:   int(e.To),
		})
	}
	for _, row := range g.Layout() {
		r := make([]int, len(row))
		for i, id := range row {
			r[i] = int(id)
		}
		res.Rows = append(res.Rows, r)
	}
	return res
}

// WriteRecordDOT renders the graph of a retained run record in the same DOT
// form a live run produces. Join IDs reserved but never inserted leave at
// most one gap per vertex, so every vertex index must be below twice the
// vertex count
func WriteRecordDOT(w io.Writer, rec *api.RunRecord) error {
	g := graph.New[*api.Vertex](0)
	if rec.Graph != nil {
		limit := 2 * len(rec.Graph.Vertices)
		for i, v := range rec.Graph.Vertices {
			if v == nil {
				return fmt.Errorf("%w: vertex #%d is empty",
					graph.ErrIntegrity, i)
			}
			if v.Index < 0 || v.Index >= limit {
				return fmt.Errorf("%w: vertex index %d out of range",
					graph.ErrIntegrity, v.Index)
			}
			g.AddVertex(graph.ID(v.Index), v)
		}
		for _, e := range rec.Graph.Edges {
			err := g.AddEdge(graph.ID(e.From), graph.ID(e.To))
			if err != nil {
				return err
			}
		}
	}
	name := fmt.Sprintf("%s#%s", rec.Flow, rec.ID)
	return graph.WriteDOT(w, g, name, snapshotLabel)
}

func snapshotLabel(_ graph.ID, v *api.Vertex) string {
	switch v.Kind {
	case api.VertexStart:
		return fmt.Sprintf("%s\n%s", v.Job, v.Result)
	case api.VertexJoin:
		return fmt.Sprintf("join#%d\n%s", v.Index, v.Result)
	default:
		return fmt.Sprintf("%s#%d\n%s", v.Job, v.Index, v.Result)
	}
}
