// Package server implements the HTTP API server for the orchestrator
//
// This package provides REST endpoints for starting, inspecting, and
// cancelling flow runs, rendering their execution graphs, managing node
// resource locks, and a WebSocket stream of run events
package server
