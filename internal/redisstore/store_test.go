package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"framedata/api/internal/store"
	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*Store, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	kv, err := New("redis://"+s.Addr(), "test:", time.Second)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv, s
}

func TestNew(t *testing.T) {
	kv, _ := setupTestRedis(t)
	if err := kv.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not-a-url", "test:", time.Second); err == nil {
		t.Fatal("expected New() to fail on a malformed url")
	}
}

func TestInsertGetAndExists(t *testing.T) {
	kv, s := setupTestRedis(t)
	ctx := context.Background()

	if _, err := kv.Get(ctx, "pcnt::sf6"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get() on missing key error = %v, want ErrNotFound", err)
	}
	if err := kv.Insert(ctx, "pcnt::sf6", 1); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := kv.Insert(ctx, "pcnt::sf6", 5); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("second Insert() error = %v, want ErrAlreadyExists", err)
	}

	entry, err := kv.Get(ctx, "pcnt::sf6")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(entry.Value) != "1" || entry.Stamp != 1 {
		t.Fatalf("entry = %s@%d, want 1@1", entry.Value, entry.Stamp)
	}

	if !s.Exists("test:pcnt::sf6") {
		t.Fatal("expected key to carry the store prefix")
	}
	exists, err := kv.Exists(ctx, "pcnt::sf6")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v", exists, err)
	}
}

func TestReplaceGuardsOnStamp(t *testing.T) {
	kv, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := kv.Insert(ctx, "prop::sf6::1", map[string]any{"status": "pending"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	entry, err := kv.Get(ctx, "prop::sf6::1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if err := kv.Replace(ctx, "prop::sf6::1", map[string]any{"status": "approved"}, entry.Stamp); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if err := kv.Replace(ctx, "prop::sf6::1", map[string]any{"status": "rejected"}, entry.Stamp); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale Replace() error = %v, want ErrConflict", err)
	}
	if err := kv.Replace(ctx, "prop::sf6::2", map[string]any{}, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Replace() on missing key error = %v, want ErrNotFound", err)
	}

	current, err := kv.Get(ctx, "prop::sf6::1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var value map[string]string
	if err := json.Unmarshal(current.Value, &value); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if value["status"] != "approved" || current.Stamp != entry.Stamp+1 {
		t.Fatalf("current = %s@%d", current.Value, current.Stamp)
	}
}

func TestUpsertBumpsStamp(t *testing.T) {
	kv, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := kv.Upsert(ctx, "game::sf6", json.RawMessage(`{"title":"SF6"}`)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	first, err := kv.Get(ctx, "game::sf6")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := kv.Upsert(ctx, "game::sf6", json.RawMessage(`{"title":"Street Fighter 6"}`)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	second, err := kv.Get(ctx, "game::sf6")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if second.Stamp <= first.Stamp {
		t.Fatalf("stamp did not advance: %d -> %d", first.Stamp, second.Stamp)
	}
	if string(second.Value) != `{"title":"Street Fighter 6"}` {
		t.Fatalf("value = %s", second.Value)
	}
}
