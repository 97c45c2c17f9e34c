// Package api defines the shared data types of the build flow orchestrator
//
// This package contains the result lattice, run and graph records, directive
// programs, run events, and the HTTP request and response messages exchanged
// with the orchestrator service
package api
