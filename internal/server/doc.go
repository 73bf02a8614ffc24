// Package server wires the huddle chat core into a running process.
//
// New builds the components in dependency order: token verifier, store,
// presence registry, typing cache and conversation service. The HTTP mux
// serves:
//
//	GET /health    liveness, always 200
//	GET /ready     200 while the store answers a ping
//	GET /updates   WebSocket event stream (see package realtime)
//	GET /metrics   Prometheus collectors, when metrics.enabled is set
//
// Run blocks until its context is cancelled. Shutdown closes the registry
// first, since hijacked WebSocket connections are not tracked by
// http.Server, then drains HTTP and closes the store.
package server
