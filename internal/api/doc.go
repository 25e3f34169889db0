// Package api implements the local HTTP and WebSocket trigger surface for
// SpeechLink.
//
// This package provides:
//   - Push-to-talk engage/release endpoints for any input surface
//   - WebSocket hub that accepts engage/release and pushes state changes
//   - Diagnostics, health and Prometheus metrics endpoints
//   - Middleware stack (request ID, logging, recovery, CORS, rate limit)
//
// # Architecture
//
// The API never records or publishes audio itself. Triggers are forwarded
// to the capture controller, which owns the session; outcomes and state
// changes flow back to WebSocket subscribers through the Hub.
//
// # Graceful Degradation
//
// The server operates without a broker connection or journal. Triggers
// still start and stop recordings; utterances are then dropped and the
// outcome says so.
package api
