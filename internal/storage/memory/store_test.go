package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/storage"
)

func TestMemoryStore_SetGet(t *testing.T) {
	store, err := New(100, 4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	key := storage.Key("parts.catalog.get_part", "d1", "T1")

	if err := store.Set(ctx, key, []byte(`{"id":1}`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if string(got) != `{"id":1}` {
		t.Errorf("Get() = %s", got)
	}

	if _, ok, _ := store.Get(ctx, storage.Key("parts.catalog.get_part", "d1", "T2")); ok {
		t.Error("other tenant observed the entry")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store, _ := New(10, 1, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	store.Set(ctx, "a.b:d:T1", []byte("1"), time.Second)
	if _, ok, _ := store.Get(ctx, "a.b:d:T1"); !ok {
		t.Fatal("fresh entry missing")
	}

	now = now.Add(time.Second)
	if _, ok, _ := store.Get(ctx, "a.b:d:T1"); ok {
		t.Error("expired entry returned")
	}
	if n, _ := store.Len(ctx); n != 0 {
		t.Errorf("Len() = %d after expiry read, want 0", n)
	}
}

func TestMemoryStore_ZeroTTLNotStored(t *testing.T) {
	store, _ := New(10, 1)
	ctx := context.Background()

	store.Set(ctx, "a.b:d:T1", []byte("1"), 0)
	if n, _ := store.Len(ctx); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

func TestMemoryStore_Eviction(t *testing.T) {
	store, _ := New(2, 1)
	ctx := context.Background()

	store.Set(ctx, "a.b:1:T1", []byte("1"), time.Minute)
	store.Set(ctx, "a.b:2:T1", []byte("2"), time.Minute)
	store.Get(ctx, "a.b:1:T1")
	store.Set(ctx, "a.b:3:T1", []byte("3"), time.Minute)

	if _, ok, _ := store.Get(ctx, "a.b:2:T1"); ok {
		t.Error("least recently used entry survived")
	}
	if _, ok, _ := store.Get(ctx, "a.b:1:T1"); !ok {
		t.Error("recently used entry was evicted")
	}
	if store.Evictions() != 1 {
		t.Errorf("Evictions() = %d, want 1", store.Evictions())
	}
}

func TestMemoryStore_Invalidate(t *testing.T) {
	store, _ := New(100, 8)
	ctx := context.Background()

	keys := []string{
		"payments.transactions.list:1:T1",
		"payments.transactions.get:2:T1",
		"payments.links.list:3:T1",
		"payments.transactions.list:1:T2",
	}
	for _, k := range keys {
		store.Set(ctx, k, []byte("x"), time.Minute)
	}

	n, err := store.Invalidate(ctx, "payments.transactions", "T1")
	if err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Invalidate() removed %d, want 2", n)
	}

	if _, ok, _ := store.Get(ctx, "payments.links.list:3:T1"); !ok {
		t.Error("sibling namespace removed")
	}
	if _, ok, _ := store.Get(ctx, "payments.transactions.list:1:T2"); !ok {
		t.Error("other tenant's entry removed")
	}

	// Nothing left to match.
	n, err = store.Invalidate(ctx, "payments.transactions", "T1")
	if err != nil || n != 0 {
		t.Errorf("second Invalidate() = %d, %v", n, err)
	}
	if evictions := store.Evictions(); evictions != 0 {
		t.Errorf("invalidation counted as eviction: %d", evictions)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store, _ := New(100, 4)
	ctx := context.Background()
	store.Set(ctx, "a.b:1:T1", []byte("x"), time.Minute)
	store.Set(ctx, "a.b:1:T2", []byte("x"), time.Minute)

	if err := store.Delete(ctx, "a.b:1:T1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, "a.b:1:T1"); ok {
		t.Error("deleted entry still served")
	}
	if _, ok, _ := store.Get(ctx, "a.b:1:T2"); !ok {
		t.Error("other tenant's entry removed")
	}
	if err := store.Delete(ctx, "missing:1:T1"); err != nil {
		t.Errorf("Delete() of missing key = %v", err)
	}
}

func TestMemoryStore_Flush(t *testing.T) {
	store, _ := New(100, 4)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		store.Set(ctx, fmt.Sprintf("a.b:%d:T1", i), []byte("x"), time.Minute)
	}

	n, _ := store.Flush(ctx)
	if n != 10 {
		t.Errorf("Flush() = %d, want 10", n)
	}
	if l, _ := store.Len(ctx); l != 0 {
		t.Errorf("Len() = %d after flush", l)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store, _ := New(1000, 8)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			tid := fmt.Sprintf("T%d", g%2)
			for i := 0; i < 200; i++ {
				key := storage.Key("a.b", fmt.Sprint(i), tid)
				store.Set(ctx, key, []byte("x"), time.Minute)
				store.Get(ctx, key)
				if i%50 == 0 {
					store.Invalidate(ctx, "a", tid)
				}
			}
		}(g)
	}
	wg.Wait()
}
