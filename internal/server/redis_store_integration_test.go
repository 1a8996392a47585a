//go:build redis

package server

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"
	"time"
)

func integrationStore(t *testing.T) *redisStore {
	t.Helper()
	addr := os.Getenv("VODSERVE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VODSERVE_TEST_REDIS_ADDR not set")
	}
	store := newRedisStore(addr, os.Getenv("VODSERVE_TEST_REDIS_PASSWORD"), 2*time.Second)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func randomKey(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("random key: %v", err)
	}
	return "vodserve:test:upload:" + hex.EncodeToString(buf)
}

func TestRedisStoreCountsWindow(t *testing.T) {
	store := integrationStore(t)
	key := randomKey(t)

	for i := 0; i < 3; i++ {
		allowed, _, err := store.Allow(key, 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		if !allowed {
			t.Fatalf("event %d should be allowed", i)
		}
	}

	allowed, retryAfter, err := store.Allow(key, 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if allowed {
		t.Fatal("fourth event should exceed the window")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retry hint %v", retryAfter)
	}
}

func TestRedisStoreWindowExpires(t *testing.T) {
	store := integrationStore(t)
	key := randomKey(t)

	if allowed, _, err := store.Allow(key, 1, time.Second); err != nil || !allowed {
		t.Fatalf("first event should pass: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, err := store.Allow(key, 1, time.Second); err != nil || allowed {
		t.Fatalf("second event should be throttled: allowed=%v err=%v", allowed, err)
	}

	time.Sleep(1100 * time.Millisecond)
	if allowed, _, err := store.Allow(key, 1, time.Second); err != nil || !allowed {
		t.Fatalf("window should have expired: allowed=%v err=%v", allowed, err)
	}
}
