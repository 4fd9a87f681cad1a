// ABOUTME: Conversation graph types and the turn-root ascent used for branch grouping
// ABOUTME: Mapping is a flat id-keyed arena; parent/child links are ids, never pointers

package graph

import (
	"strings"
	"time"
)

// Author roles as reported by the backend.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Author identifies who produced a message.
type Author struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// Content is the payload of a message. The backend sends either a parts
// array (entries are usually strings, but multimodal entries are objects)
// or a plain text field.
type Content struct {
	ContentType string `json:"content_type"`
	Parts       []any  `json:"parts,omitempty"`
	Text        string `json:"text,omitempty"`
}

// Metadata carries the message flags we care about. Everything else the
// backend attaches is ignored.
type Metadata struct {
	HiddenFromConversation bool `json:"is_visually_hidden_from_conversation"`
}

// Message is one message within a graph node.
type Message struct {
	ID         string   `json:"id"`
	Author     Author   `json:"author"`
	Content    Content  `json:"content"`
	CreateTime *float64 `json:"create_time"` // unix seconds, may be null
	Status     string   `json:"status,omitempty"`
	EndTurn    *bool    `json:"end_turn,omitempty"`
	Metadata   Metadata `json:"metadata"`
	Recipient  string   `json:"recipient,omitempty"`
}

// Node is one entry in the conversation graph. Message is nil for
// placeholder nodes such as the synthetic root.
type Node struct {
	ID       string   `json:"id"`
	Message  *Message `json:"message"`
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children"`
}

// Mapping is the raw node arena as fetched from the backend, keyed by node
// id. It is read-only after fetch and replaced wholesale on refetch.
type Mapping map[string]*Node

// ConversationDetail is the backend's full conversation payload.
type ConversationDetail struct {
	Title          string  `json:"title"`
	Mapping        Mapping `json:"mapping"`
	CurrentNode    string  `json:"current_node"`
	ConversationID string  `json:"conversation_id"`
}

// Role returns the author role of the node's message, or "" when the node
// carries no message.
func (n *Node) Role() string {
	if n == nil || n.Message == nil {
		return ""
	}
	return n.Message.Author.Role
}

// RenderContent flattens a message's content into displayable text: parts
// are joined with newlines (non-string entries are dropped), falling back
// to the text field when no parts are present.
func RenderContent(msg *Message) string {
	if msg == nil {
		return ""
	}
	if len(msg.Content.Parts) > 0 {
		parts := make([]string, 0, len(msg.Content.Parts))
		for _, p := range msg.Content.Parts {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	}
	return msg.Content.Text
}

// CreatedAt converts the message's create_time into a time.Time. Messages
// without a timestamp get the zero time so that resolving the same graph
// twice yields identical output.
func (m *Message) CreatedAt() time.Time {
	if m == nil || m.CreateTime == nil {
		return time.Time{}
	}
	sec := int64(*m.CreateTime)
	nsec := int64((*m.CreateTime - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// TurnRoot ascends from the given node until it finds the nearest ancestor
// whose message role is "user" (the turn root). It returns the turn root id
// and the branch root id: the direct descendant of the turn root along the
// ascent path, which identifies which assistant branch this node belongs to.
//
// Assistant replies may be preceded by non-conversational nodes (tool calls
// and the like), so the climb skips through anything that is not a user
// message. Returns ok=false for an orphaned branch with no user ancestor.
func TurnRoot(m Mapping, nodeID string) (turnRootID, branchRootID string, ok bool) {
	node, exists := m[nodeID]
	if !exists {
		return "", "", false
	}

	branchRootID = node.ID
	ptr := node.Parent

	// Bounded by the arena size: the backend never sends cycles, but a
	// malformed graph must not hang the walk.
	for steps := 0; ptr != "" && steps <= len(m); steps++ {
		parent, exists := m[ptr]
		if !exists {
			break
		}
		if parent.Role() == RoleUser {
			return ptr, branchRootID, true
		}
		branchRootID = parent.ID
		ptr = parent.Parent
	}
	return "", "", false
}

// siblingsWithRole filters the given child ids to those whose message role
// matches, preserving the children order. Children order is the source of
// truth for variant indexing and is never re-sorted.
func siblingsWithRole(m Mapping, childIDs []string, role string) []string {
	out := make([]string, 0, len(childIDs))
	for _, id := range childIDs {
		if node, ok := m[id]; ok && node.Role() == role {
			out = append(out, id)
		}
	}
	return out
}

// indexOf returns the position of id within ids, or -1.
func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
