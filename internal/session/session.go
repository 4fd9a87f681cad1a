// ABOUTME: Per-client chat session state and thread assembly
// ABOUTME: Tracks the active conversation, leaf pointer, pending echo, and stream handle

package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianchat/obsidian/internal/graph"
	"github.com/obsidianchat/obsidian/internal/stream"
)

// Pending is the local echo of a user message that has been sent but not
// yet confirmed back in the server-side graph.
type Pending struct {
	ID        string
	Content   string
	CreatedAt time.Time
}

// Session holds the mutable chat state for one client: which conversation
// is open, which leaf of its graph is displayed, the optimistic user echo,
// and the handle of the in-flight stream if any.
type Session struct {
	mu             sync.Mutex
	conversationID string
	leaf           string
	lastParent     string
	pending        *Pending
	handle         uint64

	merger *stream.Merger
	logger *slog.Logger
}

// New creates a session bound to a stream merger.
func New(logger *slog.Logger, merger *stream.Merger) *Session {
	return &Session{
		merger: merger,
		logger: logger.With("component", "session"),
	}
}

// Open switches the session to a conversation. Any pending echo and stream
// state from the previous conversation is dropped; a stream still running
// for it keeps delivering into a dead handle.
func (s *Session) Open(conversationID, leaf string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID != s.conversationID {
		s.pending = nil
		s.merger.Reset()
		s.logger.Debug("conversation opened", "conversation_id", conversationID)
	}
	s.conversationID = conversationID
	s.leaf = leaf
}

// StartNewChat clears the session down to the empty state used before the
// first exchange of a brand-new conversation.
func (s *Session) StartNewChat() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversationID = ""
	s.leaf = ""
	s.lastParent = ""
	s.pending = nil
	s.merger.Reset()
}

// ConversationID returns the active conversation id, empty for a new chat.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Leaf returns the node id the displayed thread resolves from.
func (s *Session) Leaf() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaf
}

// SetLeaf moves the displayed thread to resolve from a different leaf,
// typically after a variant switch or a refetch.
func (s *Session) SetLeaf(leaf string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaf = leaf
}

// AdoptConversation records the id and current node handed back by the
// backend after the first exchange of a new chat.
func (s *Session) AdoptConversation(conversationID, currentNode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversationID == "" {
		s.conversationID = conversationID
	}
	if currentNode != "" {
		s.leaf = currentNode
	}
}

// StagePending creates the optimistic echo for an outgoing user message and
// records the parent node it will hang from. The returned copy carries the
// generated id the send request must reuse.
func (s *Session) StagePending(content string) Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Pending{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.pending = &p
	s.lastParent = s.leaf
	return p
}

// LastParent returns the node id the most recently staged message was sent
// under.
func (s *Session) LastParent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastParent
}

// ClearPending drops the optimistic echo, typically after a send failed.
func (s *Session) ClearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// BeginStream registers a new stream for this session, superseding any
// prior one, and returns the handle its events must be applied under.
func (s *Session) BeginStream(cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	conversationID := s.conversationID
	s.mu.Unlock()

	h := s.merger.Begin(conversationID, cancel)

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	return h
}

// Handle returns the handle of the most recently started stream.
func (s *Session) Handle() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// AbortStream cancels the in-flight stream and discards its partial
// content.
func (s *Session) AbortStream() {
	s.merger.Abort()
}

// Assemble produces the display list for the session: the resolved thread,
// then the pending echo unless the graph already contains it, then the
// in-progress assistant message when it has visible content and the graph
// does not already carry it. An echo found in the resolved thread is
// consumed; the server copy wins from then on. The same applies to a
// completed stream message once a refetched graph contains it.
func (s *Session) Assemble(resolved []graph.DisplayMessage) []graph.DisplayMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]graph.DisplayMessage, 0, len(resolved)+2)
	out = append(out, resolved...)

	if s.pending != nil {
		confirmed := false
		for i := range resolved {
			if resolved[i].ID == s.pending.ID {
				confirmed = true
				break
			}
		}
		if confirmed {
			s.pending = nil
		} else {
			out = append(out, graph.DisplayMessage{
				ID:         s.pending.ID,
				Role:       graph.RoleUser,
				SenderName: "You",
				Content:    s.pending.Content,
				CreatedAt:  s.pending.CreatedAt,
			})
		}
	}

	msg, state := s.merger.Snapshot()
	if strings.TrimSpace(msg.Content) != "" {
		confirmed := false
		for i := range resolved {
			if resolved[i].ID == msg.ID {
				confirmed = true
				break
			}
		}
		if confirmed {
			if state == stream.StateCompleted {
				s.merger.Reset()
			}
		} else {
			out = append(out, graph.DisplayMessage{
				ID:         msg.ID,
				Role:       graph.RoleAssistant,
				SenderName: "Assistant",
				Content:    msg.Content,
			})
		}
	}
	return out
}
