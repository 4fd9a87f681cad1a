// ABOUTME: Package documentation for the api package
// ABOUTME: Describes the local HTTP surface and its endpoints

// Package api serves the local HTTP interface.
//
// Endpoints:
//
//	GET  /health                            - liveness check
//	GET  /api/conversations                 - grouped conversation list
//	GET  /api/conversations/{id}/thread     - resolved thread (?html=1 renders markdown)
//	POST /api/conversations/{id}/variant    - switch a message variant
//	POST /api/send                          - send a message, SSE response
//	POST /api/abort                         - abort the in-flight stream
//
// The send endpoint streams server-sent events: a "started" event carrying
// the local message id, "delta" events with the accumulated assistant
// content, and a final "done" or "error" event. Thread responses include
// the current stream state so clients reconnecting mid-stream can recover.
//
// Conversation graphs are served through the cache in store; a fetch
// failure falls back to the last cached copy when one exists.
package api
