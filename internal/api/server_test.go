// ABOUTME: Tests for the local API handlers
// ABOUTME: Runs against a stub upstream and the in-memory cache

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianchat/obsidian/internal/graph"
	"github.com/obsidianchat/obsidian/internal/session"
	"github.com/obsidianchat/obsidian/internal/store"
	"github.com/obsidianchat/obsidian/internal/stream"
	"github.com/obsidianchat/obsidian/internal/transport"
)

type fakeUpstream struct {
	mu         sync.Mutex
	detail     *graph.ConversationDetail
	detailErr  error
	fetchCalls int
	list       *transport.ConversationList
	listErr    error
	streamBody string
	sendErr    error
	lastSend   transport.SendRequest
}

func (f *fakeUpstream) FetchConversation(ctx context.Context, id string) (*graph.ConversationDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return f.detail, nil
}

func (f *fakeUpstream) ListConversations(ctx context.Context, offset, limit int) (*transport.ConversationList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.list, nil
}

func (f *fakeUpstream) SendMessage(ctx context.Context, sr transport.SendRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSend = sr
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return io.NopCloser(strings.NewReader(f.streamBody)), nil
}

func newTestServer(t *testing.T, up *fakeUpstream) (*Server, *store.MockStore, *http.ServeMux) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := store.NewMockStore()
	merger := stream.NewMerger(logger, func(conversationID string) {
		cache.Invalidate(context.Background(), conversationID)
	})
	sess := session.New(logger, merger)
	srv := NewServer(up, cache, sess, merger, 5*time.Minute, logger)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return srv, cache, mux
}

func node(id string, msg *graph.Message, parent string, children ...string) *graph.Node {
	return &graph.Node{ID: id, Message: msg, Parent: parent, Children: children}
}

func message(id, role, text string) *graph.Message {
	return &graph.Message{
		ID:      id,
		Author:  graph.Author{Role: role},
		Content: graph.Content{ContentType: "text", Parts: []any{text}},
	}
}

func testDetail() *graph.ConversationDetail {
	return &graph.ConversationDetail{
		Title:          "Test chat",
		ConversationID: "conv-1",
		CurrentNode:    "a1",
		Mapping: graph.Mapping{
			"root": node("root", nil, "", "u1"),
			"u1":   node("u1", message("u1", graph.RoleUser, "Hi"), "root", "a1", "a2"),
			"a1":   node("a1", message("a1", graph.RoleAssistant, "Hello"), "u1"),
			"a2":   node("a2", message("a2", graph.RoleAssistant, "Hey there"), "u1"),
		},
	}
}

type sseEvent struct {
	event string
	data  map[string]any
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.data))
			}
		}
		events = append(events, ev)
	}
	return events
}

func getThread(t *testing.T, mux *http.ServeMux, id string) threadResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/"+id+"/thread", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp threadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleThread(t *testing.T) {
	up := &fakeUpstream{detail: testDetail()}
	_, _, mux := newTestServer(t, up)

	resp := getThread(t, mux, "conv-1")
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Equal(t, "Test chat", resp.Title)
	assert.Equal(t, "idle", resp.StreamState)

	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "u1", resp.Messages[0].ID)
	assert.Equal(t, "Hi", resp.Messages[0].Content)
	assert.Equal(t, "a1", resp.Messages[1].ID)
	assert.Equal(t, "Hello", resp.Messages[1].Content)

	require.NotNil(t, resp.Messages[1].Variant)
	assert.Equal(t, 1, resp.Messages[1].Variant.Index)
	assert.Equal(t, 2, resp.Messages[1].Variant.Total)
}

func TestHandleThread_ServesFromCacheWhenFresh(t *testing.T) {
	up := &fakeUpstream{detail: testDetail()}
	_, _, mux := newTestServer(t, up)

	getThread(t, mux, "conv-1")
	getThread(t, mux, "conv-1")

	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Equal(t, 1, up.fetchCalls)
}

func TestHandleThread_FallsBackToStaleCache(t *testing.T) {
	up := &fakeUpstream{detail: testDetail()}
	srv, cache, mux := newTestServer(t, up)

	getThread(t, mux, "conv-1")

	// Upstream goes away and the cached row ages out of its TTL.
	up.mu.Lock()
	up.detailErr = fmt.Errorf("connection refused")
	up.mu.Unlock()
	srv.detailTTL = 0
	_ = cache

	resp := getThread(t, mux, "conv-1")
	assert.Equal(t, "Test chat", resp.Title)
}

func TestHandleThread_Unauthorized(t *testing.T) {
	up := &fakeUpstream{detailErr: transport.ErrUnauthorized}
	_, _, mux := newTestServer(t, up)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/thread", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleThread_RendersHTML(t *testing.T) {
	detail := testDetail()
	detail.Mapping["a1"].Message.Content.Parts = []any{"**bold** text"}
	up := &fakeUpstream{detail: detail}
	_, _, mux := newTestServer(t, up)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/thread?html=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp threadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Empty(t, resp.Messages[0].HTML)
	assert.Contains(t, resp.Messages[1].HTML, "<strong>bold</strong>")
}

func TestHandleSwitchVariant(t *testing.T) {
	up := &fakeUpstream{detail: testDetail()}
	_, _, mux := newTestServer(t, up)

	getThread(t, mux, "conv-1")

	body := strings.NewReader(`{"message_id": "a1", "index": 2}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/variant", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp threadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "a2", resp.Messages[1].ID)
	assert.Equal(t, "Hey there", resp.Messages[1].Content)
	assert.Equal(t, 2, resp.Messages[1].Variant.Index)
}

func TestHandleSwitchVariant_WrapAround(t *testing.T) {
	up := &fakeUpstream{detail: testDetail()}
	_, _, mux := newTestServer(t, up)

	getThread(t, mux, "conv-1")

	// Index 0 wraps to the last variant.
	body := strings.NewReader(`{"message_id": "a1", "index": 0}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/variant", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp threadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a2", resp.Messages[1].ID)
}

func TestHandleSwitchVariant_BadRequest(t *testing.T) {
	up := &fakeUpstream{detail: testDetail()}
	_, _, mux := newTestServer(t, up)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/variant", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListConversations_Grouping(t *testing.T) {
	now := time.Now()
	up := &fakeUpstream{list: &transport.ConversationList{
		Items: []transport.ConversationSummary{
			{ID: "conv-today", Title: "Fresh", UpdateTime: now.Add(-time.Hour)},
			{ID: "conv-old", Title: "Ancient", UpdateTime: now.AddDate(0, -6, 0)},
		},
		Total: 2,
	}}
	_, cache, mux := newTestServer(t, up)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Groups []conversationGroup `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Groups, 2)
	assert.Equal(t, "today", resp.Groups[0].ID)
	assert.Equal(t, "conv-today", resp.Groups[0].Conversations[0].ID)
	assert.Equal(t, "older", resp.Groups[1].ID)

	// The fetched page landed in the cache.
	entries, err := cache.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHandleListConversations_OfflineFallback(t *testing.T) {
	now := time.Now()
	up := &fakeUpstream{list: &transport.ConversationList{
		Items: []transport.ConversationSummary{
			{ID: "conv-1", Title: "Cached", UpdateTime: now},
		},
	}}
	_, _, mux := newTestServer(t, up)

	// Warm the cache, then lose the upstream.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	up.mu.Lock()
	up.listErr = fmt.Errorf("connection refused")
	up.mu.Unlock()

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cached")
}

func TestHandleSend_StreamsDeltas(t *testing.T) {
	detail := testDetail()
	up := &fakeUpstream{
		detail: detail,
		streamBody: strings.Join([]string{
			`data: {"p": "/message", "o": "add", "v": {"message": {"id": "msg-new", "author": {"role": "assistant"}, "content": {"content_type": "text", "parts": ["Hel"]}}, "conversation_id": "conv-1"}}`,
			`data: {"p": "/message/content/parts/0", "o": "append", "v": "lo"}`,
			`data: {"p": "", "o": "patch", "v": " world"}`,
			`data: {"type": "message_stream_complete", "conversation_id": "conv-1"}`,
			`data: [DONE]`,
			``,
		}, "\n"),
	}
	_, cache, mux := newTestServer(t, up)

	// Warm the detail cache so completion has something to invalidate.
	getThread(t, mux, "conv-1")
	_, err := cache.GetDetail(context.Background(), "conv-1")
	require.NoError(t, err)

	body := strings.NewReader(`{"conversation_id": "conv-1", "message": "question"}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/send", body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.GreaterOrEqual(t, len(events), 3)

	assert.Equal(t, "started", events[0].event)
	localID := events[0].data["message_id"].(string)
	assert.NotEmpty(t, localID)

	last := events[len(events)-1]
	require.Equal(t, "done", last.event)
	assert.Equal(t, "Hello world", last.data["content"])
	assert.Equal(t, "conv-1", last.data["conversation_id"])

	// The send request carried the local echo id and the session leaf.
	up.mu.Lock()
	assert.Equal(t, localID, up.lastSend.MessageID)
	assert.Equal(t, "a1", up.lastSend.ParentID)
	up.mu.Unlock()

	// Completion invalidated the cached graph.
	_, err = cache.GetDetail(context.Background(), "conv-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleSend_UpstreamFailure(t *testing.T) {
	up := &fakeUpstream{detail: testDetail(), sendErr: fmt.Errorf("connection refused")}
	_, _, mux := newTestServer(t, up)

	body := strings.NewReader(`{"conversation_id": "conv-1", "message": "question"}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/send", body))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleSend_TruncatedStreamReportsError(t *testing.T) {
	up := &fakeUpstream{
		detail: testDetail(),
		streamBody: strings.Join([]string{
			`data: {"p": "/message", "o": "add", "v": {"message": {"id": "msg-new", "author": {"role": "assistant"}, "content": {"content_type": "text", "parts": ["partial"]}}}}`,
			``,
		}, "\n"),
	}
	srv, _, mux := newTestServer(t, up)

	body := strings.NewReader(`{"conversation_id": "conv-1", "message": "question"}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/send", body))
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	last := events[len(events)-1]
	assert.Equal(t, "error", last.event)

	// Partial content is kept for the next thread render.
	msg, _ := srv.merger.Snapshot()
	assert.Equal(t, "partial", msg.Content)
}

func TestHandleSend_MissingMessage(t *testing.T) {
	up := &fakeUpstream{}
	_, _, mux := newTestServer(t, up)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAbort(t *testing.T) {
	up := &fakeUpstream{detail: testDetail()}
	srv, _, mux := newTestServer(t, up)

	h := srv.session.BeginStream(func() {})
	srv.merger.Apply(h, stream.Delta{Kind: stream.DeltaInit, MessageID: "m", Role: "assistant", Text: "partial"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/abort", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	msg, state := srv.merger.Snapshot()
	assert.Empty(t, msg.Content)
	assert.Equal(t, stream.StateAborted, state)
}

func TestHealth(t *testing.T) {
	up := &fakeUpstream{}
	_, _, mux := newTestServer(t, up)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
