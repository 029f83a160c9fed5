package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"corkboard-api/domain"
)

type backend interface {
	FetchSnapshot(ctx context.Context, boardID string) (*domain.Snapshot, error)
	Commit(ctx context.Context, m Mutation) error
	DeleteBoard(ctx context.Context, boardID string, memberIDs []string) error
}

// Cache wraps a Storage instance with redis-backed caching of assembled
// board snapshots. Every write through the cache evicts the board's entry,
// so a stale snapshot lives at most one TTL after an out-of-band write.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

// snapshotDoc is the serialized form of a board aggregate in the cache.
type snapshotDoc struct {
	Board *domain.Board  `json:"board"`
	Lists []*domain.List `json:"lists"`
	Tasks []*domain.Task `json:"tasks"`
}

func docFromSnapshot(s *domain.Snapshot) snapshotDoc {
	doc := snapshotDoc{Board: s.Board}
	for _, id := range s.Board.ListOrder {
		if l, ok := s.Lists[id]; ok {
			doc.Lists = append(doc.Lists, l)
		}
	}
	for _, l := range doc.Lists {
		for _, id := range l.TaskOrder {
			if t, ok := s.Tasks[id]; ok {
				doc.Tasks = append(doc.Tasks, t)
			}
		}
	}
	return doc
}

func (c *Cache) FetchSnapshot(ctx context.Context, boardID string) (*domain.Snapshot, error) {
	if snap, ok := c.loadFromCache(ctx, boardID); ok {
		return snap, nil
	}

	snap, err := c.base.FetchSnapshot(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, boardID, snap)
	return snap, nil
}

func (c *Cache) Commit(ctx context.Context, m Mutation) error {
	if err := c.base.Commit(ctx, m); err != nil {
		return err
	}
	c.evict(ctx, m.BoardID)
	return nil
}

func (c *Cache) DeleteBoard(ctx context.Context, boardID string, memberIDs []string) error {
	if err := c.base.DeleteBoard(ctx, boardID, memberIDs); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, boardID string) (*domain.Snapshot, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.Board == nil {
		_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		return nil, false
	}
	return domain.NewSnapshot(doc.Board, doc.Lists, doc.Tasks), true
}

func (c *Cache) store(ctx context.Context, boardID string, snap *domain.Snapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(docFromSnapshot(snap))
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, snapshotCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Result()
}

func snapshotCacheKey(boardID string) string {
	return "board:" + boardID
}
