// ABOUTME: Local HTTP API server wiring for obsidian
// ABOUTME: Holds the upstream client, cache, session, and merger behind JSON/SSE handlers

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/obsidianchat/obsidian/internal/graph"
	"github.com/obsidianchat/obsidian/internal/session"
	"github.com/obsidianchat/obsidian/internal/store"
	"github.com/obsidianchat/obsidian/internal/stream"
	"github.com/obsidianchat/obsidian/internal/transport"
)

// Upstream is the slice of the transport client the server needs. Tests
// substitute a stub.
type Upstream interface {
	FetchConversation(ctx context.Context, id string) (*graph.ConversationDetail, error)
	ListConversations(ctx context.Context, offset, limit int) (*transport.ConversationList, error)
	SendMessage(ctx context.Context, sr transport.SendRequest) (io.ReadCloser, error)
}

// Server serves the local API: conversation list, resolved threads,
// variant switching, and streaming sends.
type Server struct {
	upstream  Upstream
	cache     store.Store
	session   *session.Session
	merger    *stream.Merger
	detailTTL time.Duration
	logger    *slog.Logger
}

// NewServer creates the API server. The merger must be the same instance
// the session was created with.
func NewServer(upstream Upstream, cache store.Store, sess *session.Session, merger *stream.Merger, detailTTL time.Duration, logger *slog.Logger) *Server {
	return &Server{
		upstream:  upstream,
		cache:     cache,
		session:   sess,
		merger:    merger,
		detailTTL: detailTTL,
		logger:    logger.With("component", "api"),
	}
}

// RegisterRoutes attaches all handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}/thread", s.handleThread)
	mux.HandleFunc("POST /api/conversations/{id}/variant", s.handleSwitchVariant)
	mux.HandleFunc("POST /api/send", s.handleSend)
	mux.HandleFunc("POST /api/abort", s.handleAbort)
}

// loadDetail returns the conversation graph, from cache when fresh enough,
// otherwise from upstream. A fetch failure with a cached copy on hand falls
// back to the stale copy.
func (s *Server) loadDetail(ctx context.Context, id string) (*graph.ConversationDetail, error) {
	cached, err := s.cache.GetDetail(ctx, id)
	if err == nil && time.Since(cached.FetchedAt) < s.detailTTL {
		var detail graph.ConversationDetail
		if jsonErr := json.Unmarshal(cached.Raw, &detail); jsonErr == nil {
			return &detail, nil
		}
		// Undecodable cache rows are treated as misses.
		s.logger.Warn("dropping corrupt cache row", "conversation_id", id)
	}

	detail, fetchErr := s.upstream.FetchConversation(ctx, id)
	if fetchErr != nil {
		if cached != nil {
			var stale graph.ConversationDetail
			if jsonErr := json.Unmarshal(cached.Raw, &stale); jsonErr == nil {
				s.logger.Warn("serving stale conversation from cache",
					"conversation_id", id, "error", fetchErr)
				return &stale, nil
			}
		}
		return nil, fetchErr
	}

	raw, err := json.Marshal(detail)
	if err == nil {
		if putErr := s.cache.PutDetail(ctx, id, raw, time.Now()); putErr != nil {
			s.logger.Warn("cache write failed", "conversation_id", id, "error", putErr)
		}
	}
	return detail, nil
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
