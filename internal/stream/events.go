// ABOUTME: Wire-format parsing for the backend's SSE delta stream
// ABOUTME: Normalizes the several shapes the backend emits into one Delta type

package stream

import (
	"encoding/json"
	"strings"

	"github.com/obsidianchat/obsidian/internal/graph"
)

// doneSentinel is the backend's explicit end-of-stream marker. It arrives as
// a data line but is not JSON.
const doneSentinel = "[DONE]"

// DeltaKind distinguishes the normalized stream events.
type DeltaKind int

const (
	// DeltaNone marks a line that parsed but carries nothing to apply
	// (unknown operation, keep-alive, non-assistant add).
	DeltaNone DeltaKind = iota
	// DeltaInit starts (or fully replaces) the in-progress assistant
	// message.
	DeltaInit
	// DeltaAppend extends the in-progress message content.
	DeltaAppend
	// DeltaComplete marks the stream finished without altering content.
	DeltaComplete
)

// Delta is one normalized stream event. ConversationID may ride along on
// any kind; the backend attaches it opportunistically.
type Delta struct {
	Kind           DeltaKind
	MessageID      string
	Role           string
	Text           string
	ConversationID string
}

// wireMessage mirrors the message object embedded in add events and in the
// flat full-replacement shape.
type wireMessage struct {
	ID      string        `json:"id"`
	Author  graph.Author  `json:"author"`
	Content graph.Content `json:"content"`
}

// wireValue is the v field of a patch-style event: either a raw string
// fragment or an object carrying a message.
type wireValue struct {
	Message        *wireMessage `json:"message"`
	ConversationID string       `json:"conversation_id"`
}

// wireDelta is the loose union of every JSON payload the backend sends on
// the wire. Unknown fields are ignored.
type wireDelta struct {
	ConversationID string          `json:"conversation_id"`
	Path           *string         `json:"p"`
	Op             string          `json:"o"`
	Value          json.RawMessage `json:"v"`
	Message        *wireMessage    `json:"message"`
	Type           string          `json:"type"`
	IsComplete     bool            `json:"is_complete"`
}

// ParseLine parses one line of the chunked response body. It reports
// ok=false for lines that carry no event: blank lines, lines without the
// data marker, and malformed JSON. Streaming is best-effort against an
// uncontrolled wire format, so garbage is swallowed, never surfaced.
func ParseLine(line string) (Delta, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, "data:") {
		return Delta{}, false
	}

	payload := strings.TrimSpace(trimmed[len("data:"):])
	if payload == doneSentinel {
		return Delta{Kind: DeltaComplete}, true
	}

	var wire wireDelta
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return Delta{}, false
	}
	return normalize(wire), true
}

// normalize maps a decoded wire payload onto a Delta.
func normalize(wire wireDelta) Delta {
	d := Delta{Kind: DeltaNone, ConversationID: wire.ConversationID}

	// Patch-style events: {p: path, o: op, v: value}.
	if wire.Path != nil {
		switch wire.Op {
		case "add":
			var v wireValue
			if err := json.Unmarshal(wire.Value, &v); err == nil && v.Message != nil {
				d.Kind = DeltaInit
				d.MessageID = v.Message.ID
				d.Role = v.Message.Author.Role
				d.Text = firstPart(v.Message.Content)
				if v.ConversationID != "" {
					d.ConversationID = v.ConversationID
				}
			}
			return d

		case "append":
			// Two sub-shapes: a path addressing the first content part
			// explicitly, or a bare string against the implicit target.
			var fragment string
			if err := json.Unmarshal(wire.Value, &fragment); err == nil {
				if strings.Contains(*wire.Path, "/content/parts/0") || !strings.Contains(*wire.Path, "/content") {
					d.Kind = DeltaAppend
					d.Text = fragment
				}
			}
			return d

		case "patch":
			var fragment string
			if err := json.Unmarshal(wire.Value, &fragment); err == nil {
				d.Kind = DeltaAppend
				d.Text = fragment
			}
			return d
		}
		return d
	}

	// Flat full-replacement shape: {message: {...}}.
	if wire.Message != nil && wire.Message.Author.Role == graph.RoleAssistant && firstPart(wire.Message.Content) != "" {
		d.Kind = DeltaInit
		d.MessageID = wire.Message.ID
		d.Role = wire.Message.Author.Role
		d.Text = firstPart(wire.Message.Content)
		return d
	}

	// Structured completion events.
	if wire.Type == "message_stream_complete" || wire.IsComplete {
		d.Kind = DeltaComplete
	}
	return d
}

// firstPart extracts the first string entry of a content parts array.
func firstPart(c graph.Content) string {
	if len(c.Parts) == 0 {
		return ""
	}
	if s, ok := c.Parts[0].(string); ok {
		return s
	}
	return ""
}
