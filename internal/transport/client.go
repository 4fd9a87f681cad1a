// ABOUTME: HTTP client for the upstream backend-api conversation endpoints
// ABOUTME: Fetches conversation graphs and opens streaming message sends

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianchat/obsidian/internal/graph"
)

// ErrUnauthorized is returned when the upstream rejects the stored
// credentials. Callers should prompt for a fresh login rather than retry.
var ErrUnauthorized = errors.New("transport: upstream rejected credentials")

// CredentialSource supplies the bearer token and cookie string for each
// request. Implementations may reload from disk between calls.
type CredentialSource interface {
	Credentials() (token, cookie string)
}

// ConversationSummary is one entry of the upstream conversation list.
type ConversationSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	CreateTime time.Time `json:"create_time"`
	UpdateTime time.Time `json:"update_time"`
	IsArchived bool      `json:"is_archived"`
}

// ConversationList is the paged response of the conversations endpoint.
type ConversationList struct {
	Items  []ConversationSummary `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// SendRequest describes one outgoing user message. MessageID must be the
// id of the local echo so the refetched graph dedups against it.
type SendRequest struct {
	ConversationID string
	ParentID       string
	MessageID      string
	Message        string
}

// Client talks to one backend-api deployment.
type Client struct {
	baseURL string
	http    *http.Client
	creds   CredentialSource
	logger  *slog.Logger
}

// New creates a client. timeout bounds non-streaming calls; streaming sends
// use a separate client with no deadline since responses stay open for the
// length of a completion.
func New(baseURL string, timeout time.Duration, creds CredentialSource, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		creds:   creds,
		logger:  logger.With("component", "transport"),
	}
}

// FetchConversation retrieves the full graph for one conversation.
func (c *Client) FetchConversation(ctx context.Context, id string) (*graph.ConversationDetail, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/backend-api/conversation/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", id, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var detail graph.ConversationDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	if detail.ConversationID == "" {
		detail.ConversationID = id
	}
	return &detail, nil
}

// ListConversations retrieves one page of the conversation index, newest
// update first.
func (c *Client) ListConversations(ctx context.Context, offset, limit int) (*ConversationList, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", "updated")
	q.Set("is_archived", "false")

	req, err := c.newRequest(ctx, http.MethodGet, "/backend-api/conversations?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var list ConversationList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode conversation list: %w", err)
	}
	return &list, nil
}

// sendPayload mirrors the upstream conversation endpoint's request body.
type sendPayload struct {
	Action                     string            `json:"action"`
	ParentMessageID            string            `json:"parent_message_id"`
	Model                      string            `json:"model"`
	TimezoneOffsetMin          int               `json:"timezone_offset_min"`
	HistoryAndTrainingDisabled bool              `json:"history_and_training_disabled"`
	ForceUseSSE                bool              `json:"force_use_sse"`
	Messages                   []sendMessage     `json:"messages"`
	ConversationMode           map[string]string `json:"conversation_mode"`
	WebsocketRequestID         string            `json:"websocket_request_id"`
	ConversationID             string            `json:"conversation_id,omitempty"`
}

type sendMessage struct {
	ID      string        `json:"id"`
	Author  graph.Author  `json:"author"`
	Content graph.Content `json:"content"`
}

// SendMessage posts a user message and returns the open streaming response
// body. The caller owns the body and must close it; cancelling ctx tears
// the stream down.
func (c *Client) SendMessage(ctx context.Context, sr SendRequest) (io.ReadCloser, error) {
	parent := sr.ParentID
	if parent == "" {
		// A brand-new chat still needs a parent; the backend treats a
		// fresh uuid as the implicit root.
		parent = uuid.NewString()
	}

	payload := sendPayload{
		Action:            "next",
		ParentMessageID:   parent,
		Model:             "auto",
		TimezoneOffsetMin: -480,
		ForceUseSSE:       true,
		Messages: []sendMessage{{
			ID:     sr.MessageID,
			Author: graph.Author{Role: graph.RoleUser},
			Content: graph.Content{
				ContentType: "text",
				Parts:       []any{sr.Message},
			},
		}},
		ConversationMode:   map[string]string{"kind": "primary_assistant"},
		WebsocketRequestID: uuid.NewString(),
		ConversationID:     sr.ConversationID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode send payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/backend-api/conversation", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "text/event-stream")
	req.Header.Set("content-type", "application/json")

	// No client timeout on the streaming call; lifetime is governed by ctx.
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	c.logger.Debug("stream opened",
		"conversation_id", sr.ConversationID,
		"parent_id", parent)
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = browserHeaders()

	token, cookie := c.creds.Credentials()
	applyAuth(req, token, cookie)
	return req, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
