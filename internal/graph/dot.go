package graph

import (
	"bufio"
	"fmt"
	"io"
)

// Labeler renders the display label of a vertex
type Labeler[V any] func(ID, V) string

// WriteDOT writes the graph in Graphviz DOT form. Vertices are emitted in
// layout order and named by their ID
func WriteDOT[V any](
	w io.Writer, g *Graph[V], name string, label Labeler[V],
) error {
	bw := bufio.NewWriter(w)
	_, _ = fmt.Fprintf(bw, "digraph %q {\n", name)
	_, _ = fmt.Fprintln(bw, "  rankdir=TB;")
	_, _ = fmt.Fprintln(bw, "  node [shape=box];")

	for _, ids := range g.Layout() {
		for _, id := range ids {
			v, _ := g.Vertex(id)
			_, _ = fmt.Fprintf(bw, "  n%d [label=%q];\n", id, label(id, v))
		}
	}
	for _, e := range g.Edges() {
		_, _ = fmt.Fprintf(bw, "  n%d -> n%d;\n", e.From, e.To)
	}
	_, _ = fmt.Fprintln(bw, "}")
	return bw.Flush()
}
