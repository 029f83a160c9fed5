package api

import (
	"context"

	"corkboard-api/domain"
	"corkboard-api/storage"
)

// Store abstracts persistence for handlers.
type Store interface {
	FetchSnapshot(ctx context.Context, boardID string) (*domain.Snapshot, error)
	Commit(ctx context.Context, m storage.Mutation) error
	InsertBoard(ctx context.Context, b *domain.Board) error
	DeleteBoard(ctx context.Context, boardID string, memberIDs []string) error
	BoardsFor(ctx context.Context, userID string) ([]storage.BoardSummary, error)
	UpsertMemberIndex(ctx context.Context, userID, boardID string, role domain.Role) error
	DeleteMemberIndex(ctx context.Context, userID, boardID string) error
	EnqueueNotifications(ctx context.Context, ns []storage.Notification) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents reprocessing of replayed mutation requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when persistence fails so
	// the caller may retry.
	Remove(ctx context.Context, userID, key string) error
}

// Broadcaster fans accepted events out to every other live viewer of a board.
type Broadcaster interface {
	Publish(ctx context.Context, ev domain.Event, origin string)
}
