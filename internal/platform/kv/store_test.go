package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{LockKey("brand-analysis", "org_1"), "brand-analysis:org_1:lock"},
		{ProgressKey("brand-analysis", "org_1"), "brand-analysis:progress:org_1"},
		{LogKey("org_1", "github", "int_1"), "webhook-logs:org_1:github:int_1"},
		{AllLogsKey("org_1"), "webhook-logs:org_1:all"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestLock_MutualExclusion(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := LockKey("brand-analysis", "org_1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.TryAcquireLock(ctx, key, fmt.Sprintf("run_%d", i), time.Minute)
			if err != nil {
				t.Errorf("TryAcquireLock() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if acquired != 1 {
		t.Errorf("acquired = %d, want exactly 1", acquired)
	}
}

func TestLock_TTLSelfHeals(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	key := LockKey("brand-analysis", "org_1")

	if ok, _ := store.TryAcquireLock(ctx, key, "run_1", 300*time.Second); !ok {
		t.Fatal("first acquire should succeed")
	}
	if ok, _ := store.TryAcquireLock(ctx, key, "run_2", 300*time.Second); ok {
		t.Fatal("second acquire should fail while held")
	}

	mr.FastForward(301 * time.Second)

	if ok, _ := store.TryAcquireLock(ctx, key, "run_2", 300*time.Second); !ok {
		t.Fatal("acquire after TTL expiry should succeed")
	}
}

func TestLock_ReleaseChecksOwner(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	key := LockKey("content-generation", "org_1")

	store.TryAcquireLock(ctx, key, "run_1", time.Minute)

	if err := store.ReleaseLock(ctx, key, "run_2"); err != nil {
		t.Fatalf("ReleaseLock() error = %v", err)
	}
	if !mr.Exists(key) {
		t.Fatal("lock released by a non-owner")
	}

	if ok, _ := store.RefreshLock(ctx, key, "run_2", time.Hour); ok {
		t.Error("non-owner refreshed the lock")
	}
	if ok, _ := store.RefreshLock(ctx, key, "run_1", time.Hour); !ok {
		t.Error("owner failed to refresh the lock")
	}

	if err := store.ReleaseLock(ctx, key, "run_1"); err != nil {
		t.Fatalf("ReleaseLock() error = %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("owner release left the lock in place")
	}
}

func TestProgress(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	key := ProgressKey("brand-analysis", "org_1")

	if _, ok, err := store.GetProgress(ctx, key); err != nil || ok {
		t.Fatalf("GetProgress() on empty = ok %v, err %v", ok, err)
	}

	store.SetProgress(ctx, key, []byte(`{"status":"scraping"}`), 300*time.Second)
	val, ok, err := store.GetProgress(ctx, key)
	if err != nil || !ok || string(val) != `{"status":"scraping"}` {
		t.Fatalf("GetProgress() = %s, %v, %v", val, ok, err)
	}

	mr.FastForward(301 * time.Second)
	if _, ok, _ := store.GetProgress(ctx, key); ok {
		t.Error("progress should expire after its TTL")
	}
}

func TestAppendLog_Bounded(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	keys := []string{LogKey("org_1", "github", "int_1"), AllLogsKey("org_1")}

	for i := 0; i < 15; i++ {
		if err := store.AppendLog(ctx, keys, []byte(fmt.Sprintf("entry-%d", i)), 10, time.Hour); err != nil {
			t.Fatalf("AppendLog() error = %v", err)
		}
	}

	for _, key := range keys {
		entries, err := store.ListLogs(ctx, key, 100)
		if err != nil {
			t.Fatalf("ListLogs() error = %v", err)
		}
		if len(entries) != 10 {
			t.Fatalf("%s has %d entries, want 10", key, len(entries))
		}
		if string(entries[0]) != "entry-14" || string(entries[9]) != "entry-5" {
			t.Errorf("%s order = %s..%s, want most recent first", key, entries[0], entries[9])
		}
		if ttl := mr.TTL(key); ttl <= 0 {
			t.Errorf("%s has no expiry", key)
		}
	}
}

func TestClaimOnce_ForgetReopens(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	key := DeliveryKey("org_1", "d-1")

	if first, err := store.ClaimOnce(ctx, key, time.Hour); err != nil || !first {
		t.Fatalf("first claim = %v, %v", first, err)
	}
	if again, _ := store.ClaimOnce(ctx, key, time.Hour); again {
		t.Fatal("second claim succeeded")
	}

	if err := store.Forget(ctx, key); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if first, _ := store.ClaimOnce(ctx, key, time.Hour); !first {
		t.Error("claim after Forget failed")
	}

	mr.FastForward(time.Hour + time.Second)
	if first, _ := store.ClaimOnce(ctx, key, time.Hour); !first {
		t.Error("claim after TTL failed")
	}
}

func TestUnavailableStore(t *testing.T) {
	store := NewRedisStore(nil)
	ctx := context.Background()

	ok, err := store.TryAcquireLock(ctx, "k", "owner", time.Minute)
	if ok || !errors.Is(err, ErrUnavailable) {
		t.Errorf("TryAcquireLock() = %v, %v; want false, ErrUnavailable", ok, err)
	}
	if err := store.AppendLog(ctx, []string{"k"}, []byte("x"), 10, time.Minute); err != nil {
		t.Errorf("AppendLog() should skip silently, got %v", err)
	}
	if _, _, err := store.GetProgress(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetProgress() error = %v", err)
	}
}
