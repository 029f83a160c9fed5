package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"corkboard-api/domain"
)

type stubBackend struct {
	fetchSnapshotFn func(ctx context.Context, boardID string) (*domain.Snapshot, error)
	commitFn        func(ctx context.Context, m Mutation) error
	deleteBoardFn   func(ctx context.Context, boardID string, memberIDs []string) error
}

func (s *stubBackend) FetchSnapshot(ctx context.Context, boardID string) (*domain.Snapshot, error) {
	if s.fetchSnapshotFn == nil {
		return nil, errors.New("unexpected FetchSnapshot call")
	}
	return s.fetchSnapshotFn(ctx, boardID)
}

func (s *stubBackend) Commit(ctx context.Context, m Mutation) error {
	if s.commitFn == nil {
		return errors.New("unexpected Commit call")
	}
	return s.commitFn(ctx, m)
}

func (s *stubBackend) DeleteBoard(ctx context.Context, boardID string, memberIDs []string) error {
	if s.deleteBoardFn == nil {
		return errors.New("unexpected DeleteBoard call")
	}
	return s.deleteBoardFn(ctx, boardID, memberIDs)
}

func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func snapshotFixture(boardID string) *domain.Snapshot {
	board := &domain.Board{ID: boardID, Title: "Roadmap", OwnerID: "u1", ListOrder: []string{"l1"}, CreatedAt: 1}
	lists := []*domain.List{{ID: "l1", BoardID: boardID, Title: "Todo", TaskOrder: []string{"t1"}, CreatedAt: 2}}
	tasks := []*domain.Task{{ID: "t1", BoardID: boardID, ListID: "l1", Title: "Ship it", CreatedAt: 3}}
	return domain.NewSnapshot(board, lists, tasks)
}

func TestCacheFetchSnapshotMissThenHit(t *testing.T) {
	mr, client := testRedis(t)
	ctx := context.Background()

	var calls int
	cache := NewCache(&stubBackend{
		fetchSnapshotFn: func(ctx context.Context, boardID string) (*domain.Snapshot, error) {
			calls++
			if boardID != "b1" {
				t.Fatalf("unexpected board id: %s", boardID)
			}
			return snapshotFixture(boardID), nil
		},
	}, client, time.Minute)

	snap, err := cache.FetchSnapshot(ctx, "b1")
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", calls)
	}
	if ttl := mr.TTL(snapshotCacheKey("b1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.FetchSnapshot(ctx, "b1")
	if err != nil {
		t.Fatalf("fetch cached snapshot: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
	if !reflect.DeepEqual(cached.Board, snap.Board) {
		t.Fatalf("unexpected cached board: %#v", cached.Board)
	}
	if !reflect.DeepEqual(cached.Lists["l1"].TaskOrder, []string{"t1"}) {
		t.Fatalf("unexpected cached list order: %#v", cached.Lists["l1"])
	}
	if cached.Tasks["t1"].ListID != "l1" {
		t.Fatalf("unexpected cached task: %#v", cached.Tasks["t1"])
	}
}

func TestCacheCommitEvicts(t *testing.T) {
	mr, client := testRedis(t)
	ctx := context.Background()

	cache := NewCache(&stubBackend{
		fetchSnapshotFn: func(ctx context.Context, boardID string) (*domain.Snapshot, error) {
			return snapshotFixture(boardID), nil
		},
		commitFn: func(ctx context.Context, m Mutation) error { return nil },
	}, client, time.Minute)

	if _, err := cache.FetchSnapshot(ctx, "b1"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if !mr.Exists(snapshotCacheKey("b1")) {
		t.Fatal("expected snapshot to be cached")
	}

	if err := cache.Commit(ctx, Mutation{BoardID: "b1"}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if mr.Exists(snapshotCacheKey("b1")) {
		t.Fatal("expected commit to evict cached snapshot")
	}
}

func TestCacheCommitFailureLeavesCache(t *testing.T) {
	mr, client := testRedis(t)
	ctx := context.Background()

	cache := NewCache(&stubBackend{
		fetchSnapshotFn: func(ctx context.Context, boardID string) (*domain.Snapshot, error) {
			return snapshotFixture(boardID), nil
		},
		commitFn: func(ctx context.Context, m Mutation) error { return domain.ErrPersistence },
	}, client, time.Minute)

	if _, err := cache.FetchSnapshot(ctx, "b1"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	if err := cache.Commit(ctx, Mutation{BoardID: "b1"}); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if !mr.Exists(snapshotCacheKey("b1")) {
		t.Fatal("failed commit should not evict")
	}
}

func TestCacheNilRedisFallsThrough(t *testing.T) {
	var calls int
	cache := NewCache(&stubBackend{
		fetchSnapshotFn: func(ctx context.Context, boardID string) (*domain.Snapshot, error) {
			calls++
			return snapshotFixture(boardID), nil
		},
	}, nil, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.FetchSnapshot(context.Background(), "b1"); err != nil {
			t.Fatalf("fetch snapshot: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected backend call per fetch without redis, got %d", calls)
	}
}
