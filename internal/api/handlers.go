// ABOUTME: HTTP handlers for the local API
// ABOUTME: Conversation list, resolved threads, variant switching, streaming send, abort

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/obsidianchat/obsidian/internal/graph"
	"github.com/obsidianchat/obsidian/internal/store"
	"github.com/obsidianchat/obsidian/internal/stream"
	"github.com/obsidianchat/obsidian/internal/transport"
)

// conversationItem is one sidebar entry.
type conversationItem struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	UpdateTime time.Time `json:"update_time"`
}

// conversationGroup buckets sidebar entries by recency.
type conversationGroup struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Conversations []conversationItem `json:"conversations"`
}

// threadMessage is one resolved message as served to clients.
type threadMessage struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	SenderName string             `json:"sender_name"`
	Content    string             `json:"content"`
	HTML       string             `json:"html,omitempty"`
	CreatedAt  *time.Time         `json:"created_at,omitempty"`
	Variant    *graph.VariantInfo `json:"variant,omitempty"`
}

// threadResponse is the assembled thread plus stream status.
type threadResponse struct {
	ConversationID string          `json:"conversation_id"`
	Title          string          `json:"title"`
	Messages       []threadMessage `json:"messages"`
	StreamState    string          `json:"stream_state"`
	StreamError    string          `json:"stream_error,omitempty"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	list, err := s.upstream.ListConversations(ctx, 0, 50)
	if err != nil {
		if errors.Is(err, transport.ErrUnauthorized) {
			s.sendJSONError(w, http.StatusUnauthorized, "upstream rejected credentials, run login")
			return
		}
		// Offline: serve whatever the cache has.
		entries, cacheErr := s.cache.ListConversations(ctx)
		if cacheErr != nil || len(entries) == 0 {
			s.logger.Error("conversation list unavailable", "error", err)
			s.sendJSONError(w, http.StatusBadGateway, "upstream unavailable and no cached conversations")
			return
		}
		s.logger.Warn("serving cached conversation list", "error", err)
		s.writeGroupedList(w, entriesToItems(entries))
		return
	}

	now := time.Now()
	entries := make([]store.ConversationEntry, 0, len(list.Items))
	items := make([]conversationItem, 0, len(list.Items))
	for _, it := range list.Items {
		entries = append(entries, store.ConversationEntry{
			ID:         it.ID,
			Title:      it.Title,
			UpdateTime: it.UpdateTime,
			FetchedAt:  now,
		})
		items = append(items, conversationItem{ID: it.ID, Title: it.Title, UpdateTime: it.UpdateTime})
	}
	if err := s.cache.UpsertConversations(ctx, entries); err != nil {
		s.logger.Warn("conversation index cache write failed", "error", err)
	}

	s.writeGroupedList(w, items)
}

func entriesToItems(entries []store.ConversationEntry) []conversationItem {
	items := make([]conversationItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, conversationItem{ID: e.ID, Title: e.Title, UpdateTime: e.UpdateTime})
	}
	return items
}

// writeGroupedList buckets items by update recency and drops empty groups.
// Items are assumed newest-first.
func (s *Server) writeGroupedList(w http.ResponseWriter, items []conversationItem) {
	groups := []conversationGroup{
		{ID: "today", Name: "Today"},
		{ID: "yesterday", Name: "Yesterday"},
		{ID: "last7", Name: "Previous 7 Days"},
		{ID: "last30", Name: "Previous 30 Days"},
		{ID: "older", Name: "Earlier"},
	}

	now := time.Now()
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfYesterday := startOfToday.AddDate(0, 0, -1)
	sevenDaysAgo := startOfToday.AddDate(0, 0, -7)
	thirtyDaysAgo := startOfToday.AddDate(0, 0, -30)

	for _, it := range items {
		t := it.UpdateTime.In(now.Location())
		var idx int
		switch {
		case !t.Before(startOfToday):
			idx = 0
		case !t.Before(startOfYesterday):
			idx = 1
		case t.After(sevenDaysAgo):
			idx = 2
		case t.After(thirtyDaysAgo):
			idx = 3
		default:
			idx = 4
		}
		groups[idx].Conversations = append(groups[idx].Conversations, it)
	}

	out := make([]conversationGroup, 0, len(groups))
	for _, g := range groups {
		if len(g.Conversations) > 0 {
			out = append(out, g)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"groups": out})
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	detail, err := s.loadDetail(r.Context(), id)
	if err != nil {
		s.threadLoadError(w, err)
		return
	}

	// Opening a conversation adopts its current node as the leaf unless the
	// session is already positioned inside this conversation.
	if s.session.ConversationID() != id || s.session.Leaf() == "" {
		s.session.Open(id, detail.CurrentNode)
	}

	s.writeThread(w, r, detail)
}

func (s *Server) handleSwitchVariant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		MessageID string `json:"message_id"`
		Index     int    `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "message_id and index are required")
		return
	}

	detail, err := s.loadDetail(r.Context(), id)
	if err != nil {
		s.threadLoadError(w, err)
		return
	}

	if s.session.ConversationID() != id || s.session.Leaf() == "" {
		s.session.Open(id, detail.CurrentNode)
	}

	newLeaf := graph.SwitchVariant(detail.Mapping, s.session.Leaf(), req.MessageID, req.Index)
	s.session.SetLeaf(newLeaf)

	s.writeThread(w, r, detail)
}

// writeThread resolves and assembles the displayed thread. ?html=1 adds
// rendered markdown for assistant messages.
func (s *Server) writeThread(w http.ResponseWriter, r *http.Request, detail *graph.ConversationDetail) {
	resolved := graph.Resolve(detail.Mapping, s.session.Leaf())
	assembled := s.session.Assemble(resolved)
	withHTML := r.URL.Query().Get("html") == "1"

	msgs := make([]threadMessage, 0, len(assembled))
	for _, m := range assembled {
		tm := threadMessage{
			ID:         m.ID,
			Role:       m.Role,
			SenderName: m.SenderName,
			Content:    m.Content,
			Variant:    m.Variant,
		}
		if !m.CreatedAt.IsZero() {
			t := m.CreatedAt
			tm.CreatedAt = &t
		}
		if withHTML && m.Role == graph.RoleAssistant {
			tm.HTML = s.renderMarkdown(m.Content)
		}
		msgs = append(msgs, tm)
	}

	_, state := s.merger.Snapshot()
	resp := threadResponse{
		ConversationID: detail.ConversationID,
		Title:          detail.Title,
		Messages:       msgs,
		StreamState:    state.String(),
	}
	if err := s.merger.Err(); err != nil {
		resp.StreamError = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) threadLoadError(w http.ResponseWriter, err error) {
	if errors.Is(err, transport.ErrUnauthorized) {
		s.sendJSONError(w, http.StatusUnauthorized, "upstream rejected credentials, run login")
		return
	}
	s.logger.Error("conversation load failed", "error", err)
	s.sendJSONError(w, http.StatusBadGateway, "conversation unavailable")
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
		Message        string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		s.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	switch {
	case req.ConversationID == "":
		s.session.StartNewChat()
	case s.session.ConversationID() != req.ConversationID:
		detail, err := s.loadDetail(r.Context(), req.ConversationID)
		if err != nil {
			s.threadLoadError(w, err)
			return
		}
		s.session.Open(req.ConversationID, detail.CurrentNode)
	}

	pending := s.session.StagePending(req.Message)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	handle := s.session.BeginStream(cancel)

	body, err := s.upstream.SendMessage(ctx, transport.SendRequest{
		ConversationID: req.ConversationID,
		ParentID:       s.session.LastParent(),
		MessageID:      pending.ID,
		Message:        req.Message,
	})
	if err != nil {
		s.session.ClearPending()
		s.merger.Fail(handle, err)
		if errors.Is(err, transport.ErrUnauthorized) {
			s.sendJSONError(w, http.StatusUnauthorized, "upstream rejected credentials, run login")
			return
		}
		s.logger.Error("send failed", "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "send failed")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.writeSSEEvent(w, "started", map[string]string{"message_id": pending.ID})
	flusher.Flush()

	runErr := s.merger.Run(ctx, handle, body, func(msg stream.Message, state stream.State) {
		s.writeSSEEvent(w, "delta", map[string]any{
			"message_id":  msg.ID,
			"content":     msg.Content,
			"is_complete": msg.IsComplete,
		})
		flusher.Flush()
	})

	// A brand-new chat learns its conversation id from the stream.
	if conv := s.merger.ConversationID(); conv != "" {
		s.session.AdoptConversation(conv, "")
	}

	msg, state := s.merger.Snapshot()
	switch {
	case state == stream.StateCompleted:
		s.writeSSEEvent(w, "done", map[string]any{
			"conversation_id": s.merger.ConversationID(),
			"message_id":      msg.ID,
			"content":         msg.Content,
		})
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		s.merger.Fail(handle, runErr)
		s.writeSSEEvent(w, "error", map[string]string{"error": "stream interrupted"})
	case state == stream.StateStreaming:
		// Body ended without a completion marker.
		s.merger.Fail(handle, errors.New("stream ended early"))
		s.writeSSEEvent(w, "error", map[string]string{"error": "stream ended early"})
	}
	flusher.Flush()
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.session.AbortStream()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "aborted"})
}
