// ABOUTME: Incremental stream-merge state machine for the in-progress assistant reply
// ABOUTME: Applies deltas in arrival order; stale or post-abort events are discarded

package stream

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"
)

// State is the merger's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Message is the single mutable in-progress assistant message. Content only
// ever grows within one streaming session.
type Message struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	IsComplete bool   `json:"is_complete"`
}

// scanBufferSize bounds a single stream line. Delta fragments are small but
// the flat full-replacement shape can carry a whole message.
const scanBufferSize = 1 << 20

// Merger reconciles the live delta stream into one in-progress message.
// Exactly one stream may be active at a time: Begin supersedes (and cancels)
// any prior session, and events tagged with a stale session handle are
// dropped rather than applied.
type Merger struct {
	mu             sync.Mutex
	state          State
	msg            Message
	conversationID string
	session        uint64
	cancel         context.CancelFunc
	err            error
	logger         *slog.Logger

	// onComplete is invoked (outside the lock) when a stream finishes
	// normally, so cached thread and conversation-list entries can be
	// invalidated before the next read.
	onComplete func(conversationID string)
}

// NewMerger creates a merger. Pass nil logger for the default.
func NewMerger(logger *slog.Logger, onComplete func(conversationID string)) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		logger:     logger.With("component", "stream"),
		onComplete: onComplete,
	}
}

// Begin starts a new streaming session, aborting any stream still in
// flight. The returned handle tags every subsequent Apply; events from a
// superseded session are ignored. cancel is the transport cancellation hook
// for this session.
func (m *Merger) Begin(conversationID string, cancel context.CancelFunc) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}

	m.session++
	m.cancel = cancel
	m.state = StateIdle
	m.msg = Message{}
	m.conversationID = conversationID
	m.err = nil

	m.logger.Debug("stream session started",
		"session", m.session,
		"conversation_id", conversationID)
	return m.session
}

// Apply folds one delta into the in-progress message. Events from stale
// sessions, events after an abort, and appends before any init are all
// discarded. Returns true when the delta changed visible state.
func (m *Merger) Apply(handle uint64, d Delta) bool {
	m.mu.Lock()

	if handle != m.session || m.state == StateAborted {
		m.mu.Unlock()
		return false
	}

	if d.ConversationID != "" {
		m.conversationID = d.ConversationID
	}

	changed := false
	var completedConv string

	switch d.Kind {
	case DeltaInit:
		// Only a message explicitly authored by the assistant opens a
		// streaming session; anything else is skipped.
		if d.Role != "assistant" {
			break
		}
		m.msg = Message{ID: d.MessageID, Content: d.Text}
		m.state = StateStreaming
		changed = true

	case DeltaAppend:
		// An append before any init has no target.
		if m.state != StateStreaming || m.msg.IsComplete {
			break
		}
		m.msg.Content += d.Text
		changed = true

	case DeltaComplete:
		if m.state != StateStreaming {
			break
		}
		m.msg.IsComplete = true
		m.state = StateCompleted
		completedConv = m.conversationID
		changed = true
	}

	onComplete := m.onComplete
	m.mu.Unlock()

	if completedConv != "" && onComplete != nil {
		onComplete(completedConv)
	}
	return changed
}

// Run consumes a chunked response body line by line, applying each parsed
// delta in arrival order. notify, when non-nil, is called after every delta
// that changed visible state. Run returns when the body ends or the context
// is cancelled; deltas for a superseded session are dropped silently.
func (m *Merger) Run(ctx context.Context, handle uint64, body io.Reader, notify func(Message, State)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		d, ok := ParseLine(scanner.Text())
		if !ok {
			continue
		}
		if !m.Apply(handle, d) {
			continue
		}
		if notify != nil {
			msg, state := m.Snapshot()
			notify(msg, state)
		}
	}
	return scanner.Err()
}

// Abort cancels the active stream and clears the in-progress message. Any
// buffered events that arrive afterwards are discarded by Apply, including
// an init that had not landed yet. Abort with no session begun is a no-op.
func (m *Merger) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.cancel != nil
	if active {
		m.cancel()
		m.cancel = nil
	}
	if !active && m.state == StateIdle && m.msg.Content == "" {
		return
	}
	m.state = StateAborted
	m.msg = Message{}
	m.logger.Debug("stream aborted", "session", m.session)
}

// Fail records a transport error for the active session. Accumulated
// content is kept; only the streaming flag drops so the presentation layer
// can show the error with a retry affordance.
func (m *Merger) Fail(handle uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if handle != m.session || m.state == StateAborted {
		return
	}
	m.err = err
	if m.state == StateStreaming {
		m.state = StateIdle
	}
	m.logger.Warn("stream transport error", "session", handle, "error", err)
}

// Reset clears all stream state. Used on conversation switch.
func (m *Merger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.session++
	m.state = StateIdle
	m.msg = Message{}
	m.conversationID = ""
	m.err = nil
}

// Snapshot returns the current in-progress message and state.
func (m *Merger) Snapshot() (Message, State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msg, m.state
}

// ConversationID returns the conversation id the stream reported, which for
// a brand-new chat is only known once the backend assigns one.
func (m *Merger) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// Err returns the recorded transport error, if any.
func (m *Merger) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
