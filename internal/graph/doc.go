// Package graph implements the append-only execution graph of a flow run
//
// Vertices live in an arena indexed by dense IDs and edges are stored as ID
// adjacency lists, all guarded by a single mutex. Edges may only point from
// an existing vertex to a vertex with a greater ID, which keeps the graph
// acyclic by construction
package graph
