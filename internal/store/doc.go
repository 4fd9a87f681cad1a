// ABOUTME: Package documentation for the store package
// ABOUTME: Describes the conversation cache and its implementations

// Package store provides the local cache for upstream conversation data.
//
// Two tables back the cache: the conversation index (id, title, update
// time) used to render the sidebar without a round trip, and raw graph
// JSON keyed by conversation id so a recently viewed thread reopens
// instantly. Rows carry a fetched_at timestamp; staleness policy lives in
// the caller.
//
// Stream completion invalidates both rows for the affected conversation,
// since the server-side graph has grown a node the cache has not seen.
//
// Two implementations are provided: SQLiteStore for production use and
// MockStore for tests.
package store
