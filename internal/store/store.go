// ABOUTME: Store interface and data types for the local conversation cache
// ABOUTME: Caches the upstream conversation index and raw fetched graphs

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ConversationEntry is one cached row of the upstream conversation index.
type ConversationEntry struct {
	ID         string
	Title      string
	UpdateTime time.Time
	FetchedAt  time.Time
}

// CachedDetail holds the raw JSON of one fetched conversation graph. The
// bytes are stored verbatim so a cache hit decodes exactly what the
// upstream sent.
type CachedDetail struct {
	ID        string
	Raw       []byte
	FetchedAt time.Time
}

// Store defines the interface for conversation cache persistence
type Store interface {
	// Conversation index
	UpsertConversations(ctx context.Context, entries []ConversationEntry) error
	ListConversations(ctx context.Context) ([]ConversationEntry, error)

	// Conversation graphs
	PutDetail(ctx context.Context, id string, raw []byte, fetchedAt time.Time) error
	GetDetail(ctx context.Context, id string) (*CachedDetail, error)

	// Invalidate drops the cached graph and index row for a conversation,
	// forcing a refetch. Invalidating an uncached id is not an error.
	Invalidate(ctx context.Context, id string) error

	// Close releases database resources
	Close() error
}
