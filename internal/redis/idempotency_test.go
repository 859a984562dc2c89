package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewFromClient(rdb, zap.NewNop()), mr
}

func TestIdempotencyService_NewRequest(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())

	result, err := svc.CheckOrReserve(context.Background(), "user-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for new request, got: %+v", result)
	}
}

func TestIdempotencyService_DuplicateInFlight(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if _, err := svc.CheckOrReserve(ctx, "user-1", "key-1"); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got: %v", err)
	}
}

func TestIdempotencyService_CachedResult(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	stored := &IdempotencyResult{ResourceID: "rem-42", StatusCode: 201}
	if err := svc.Store(ctx, "user-1", "key-1", stored, IdempotencyTTL); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := svc.CheckOrReserve(ctx, "user-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ResourceID != "rem-42" || got.StatusCode != 201 {
		t.Fatalf("unexpected cached result %+v", got)
	}
	if got.CreatedAt == 0 {
		t.Fatal("created_at should be filled in")
	}
}

func TestIdempotencyService_UserIsolation(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "user-1", "shared"); err != nil {
		t.Fatalf("user-1: %v", err)
	}
	result, err := svc.CheckOrReserve(ctx, "user-2", "shared")
	if err != nil {
		t.Fatalf("same key under another user should be free: %v", err)
	}
	if result != nil {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestIdempotencyService_ReleaseAllowsRetry(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.Release(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := svc.CheckOrReserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("retry after release: %v", err)
	}
}

func TestIdempotencyService_ReleaseKeepsStoredResult(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if err := svc.Store(ctx, "user-1", "key-1", &IdempotencyResult{ResourceID: "rem-1", StatusCode: 201}, time.Hour); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := svc.Release(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, err := svc.Check(ctx, "user-1", "key-1")
	if err != nil || got == nil {
		t.Fatalf("stored result should survive release, got %+v err %v", got, err)
	}
}

func TestIdempotencyService_ReservationExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	mr.FastForward(processingTTL + time.Second)

	if _, err := svc.CheckOrReserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("expired reservation should be reclaimable: %v", err)
	}
}

func TestLocker_AcquireRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewLocker(client, "dispatch", zap.NewNop())
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "sched-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if !mr.Exists("dispatch:sched-1") {
		t.Fatal("lock key should be prefixed")
	}

	ok, err = locker.Acquire(ctx, "sched-1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}

	if err := locker.Release(ctx, "sched-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = locker.Acquire(ctx, "sched-1", time.Minute)
	if !ok {
		t.Fatal("acquire after release should succeed")
	}
}

func TestLocker_Expires(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewLocker(client, "deadline", zap.NewNop())
	ctx := context.Background()

	if ok, _ := locker.Acquire(ctx, "goal-1:overdue:2025-06-04", time.Hour); !ok {
		t.Fatal("first acquire should succeed")
	}
	mr.FastForward(time.Hour + time.Second)
	if ok, _ := locker.Acquire(ctx, "goal-1:overdue:2025-06-04", time.Hour); !ok {
		t.Fatal("lock should be free after ttl")
	}
}

func TestClient_PingAndConns(t *testing.T) {
	client, _ := setupTestRedis(t)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if n := client.ActiveConns(); n < 0 {
		t.Fatalf("active conns = %d", n)
	}
}
