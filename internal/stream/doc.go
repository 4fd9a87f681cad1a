// Package stream consumes the backend's live token stream and folds it into
// a single in-progress assistant message.
//
// # Wire format
//
// The send endpoint responds with a chunked body of newline-delimited
// records. Each record is either "data: <json>" or the "data: [DONE]"
// sentinel. The JSON payloads come in several shapes:
//
//	{"p": "/message/content/parts/0", "o": "append", "v": "fragment"}
//	{"p": "", "o": "add", "v": {"message": {...}, "conversation_id": "..."}}
//	{"o": "patch", "v": "fragment"}
//	{"message": {"id": "...", "author": {"role": "assistant"}, ...}}
//	{"type": "message_stream_complete"} / {"is_complete": true}
//
// ParseLine normalizes all of them into Delta values; anything that does
// not parse is swallowed silently, because the wire format is not ours to
// control.
//
// # State machine
//
// The Merger moves Idle → Streaming → Completed on the happy path, and
// Streaming → Aborted on cancellation. Content is append-only within a
// session except for the one-shot initialization at message start. Exactly
// one stream is active at a time: Begin cancels any prior session and
// returns a handle, and Apply drops events tagged with a superseded handle,
// so late-arriving chunks from an aborted stream can never touch displayed
// state.
//
// Normal completion fires the onComplete callback so callers can invalidate
// cached thread state and re-read the backend-persisted conversation.
package stream
