package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/mosaic/config"
	"github.com/use-agent/mosaic/models"
)

func testStore(t *testing.T) *BoardStore {
	t.Helper()
	return New(NewMemoryKV(), config.StoreConfig{
		Capacity:       200,
		DebounceWindow: 10 * time.Millisecond,
	})
}

func pins(ids ...string) []models.Pin {
	out := make([]models.Pin, len(ids))
	for i, id := range ids {
		out[i] = models.Pin{Identity: id, URL: "https://c.test/originals/" + id + ".jpg"}
	}
	return out
}

func identities(ps []models.Pin) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Identity
	}
	return out
}

func TestMerge_OrderMostRecentFirst(t *testing.T) {
	b := testStore(t)
	ctx := context.Background()

	b.Merge("board", pins("a1", "a2"))
	b.Flush("board")
	b.Merge("board", pins("a2", "a3"))
	b.Flush("board")

	got, err := b.Read(ctx, "board")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []string{"a3", "a2", "a1"}
	if len(got) != len(want) {
		t.Fatalf("stored %v, want %v", identities(got), want)
	}
	for i, id := range want {
		if got[i].Identity != id {
			t.Fatalf("stored %v, want %v", identities(got), want)
		}
	}
}

func TestMerge_DedupInvariant(t *testing.T) {
	b := testStore(t)
	ctx := context.Background()

	b.Merge("board", pins("x", "y", "x"))
	b.Flush("board")
	b.Merge("board", pins("y", "z", "x"))
	b.Flush("board")

	got, _ := b.Read(ctx, "board")
	seen := map[string]bool{}
	for _, p := range got {
		if seen[p.Identity] {
			t.Fatalf("duplicate identity %q in %v", p.Identity, identities(got))
		}
		seen[p.Identity] = true
	}
	if len(got) != 3 {
		t.Errorf("stored %d pins, want 3", len(got))
	}
}

func TestMerge_Idempotent(t *testing.T) {
	b := testStore(t)
	ctx := context.Background()

	batch := pins("p1", "p2", "p3")
	b.Merge("board", batch)
	b.Flush("board")
	first, _ := b.Read(ctx, "board")

	b.Merge("board", batch)
	b.Flush("board")
	second, _ := b.Read(ctx, "board")

	if len(first) != len(second) {
		t.Fatalf("re-merge changed length: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("re-merge changed state: %v -> %v", identities(first), identities(second))
		}
	}
}

func TestMerge_BoundedSize(t *testing.T) {
	b := New(NewMemoryKV(), config.StoreConfig{Capacity: 10, DebounceWindow: time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		var batch []models.Pin
		for j := 0; j < 7; j++ {
			batch = append(batch, models.Pin{Identity: fmt.Sprintf("p%d-%d", i, j), URL: "u"})
		}
		b.Merge("board", batch)
		b.Flush("board")

		got, _ := b.Read(ctx, "board")
		if len(got) > 10 {
			t.Fatalf("after merge %d: %d entries, capacity 10", i, len(got))
		}
	}

	// The newest batch survives at the head.
	got, _ := b.Read(ctx, "board")
	if got[0].Identity != "p4-6" {
		t.Errorf("head = %q, want most recent %q", got[0].Identity, "p4-6")
	}
}

func TestMerge_DebounceCoalesces(t *testing.T) {
	kv := &countingKV{KV: NewMemoryKV()}
	b := New(kv, config.StoreConfig{Capacity: 200, DebounceWindow: 20 * time.Millisecond})

	for i := 0; i < 10; i++ {
		b.Merge("board", pins(fmt.Sprintf("p%d", i)))
	}
	time.Sleep(100 * time.Millisecond)

	if n := kv.sets.Load(); n != 1 {
		t.Errorf("bursty merges committed %d writes, want 1", n)
	}
	got, _ := b.Read(context.Background(), "board")
	if len(got) != 10 {
		t.Errorf("stored %d pins, want 10", len(got))
	}
}

func TestRead_MissingCollection(t *testing.T) {
	b := testStore(t)
	got, err := b.Read(context.Background(), "never-written")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("missing collection returned %v", identities(got))
	}
}

func TestClear(t *testing.T) {
	b := testStore(t)
	ctx := context.Background()

	b.Merge("board", pins("a"))
	b.Flush("board")
	if err := b.Clear(ctx, "board"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ := b.Read(ctx, "board")
	if len(got) != 0 {
		t.Errorf("cleared collection still has %v", identities(got))
	}
}

func TestStoreGone_SkipsFurtherAccess(t *testing.T) {
	kv := &flakyKV{err: errors.New("sql: database is closed")}
	b := New(kv, config.StoreConfig{Capacity: 200, DebounceWindow: time.Millisecond})
	ctx := context.Background()

	if _, err := b.Read(ctx, "board"); err == nil {
		t.Fatal("first read should surface the error")
	}

	// After invalidation every operation is skipped, not retried.
	before := kv.calls
	b.Merge("board", pins("a"))
	b.Flush("board")
	if _, err := b.Read(ctx, "board"); err != nil {
		t.Errorf("post-invalidation read should be a silent no-op, got %v", err)
	}
	if kv.calls != before {
		t.Errorf("store kept hitting the dead backend (%d extra calls)", kv.calls-before)
	}
}

func TestCollectionFromURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.test/user/board/", "example.test/user/board"},
		{"https://example.test/user/board?page=2", "example.test/user/board"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := CollectionFromURL(tt.in); got != tt.want {
			t.Errorf("CollectionFromURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// countingKV counts Set calls.
type countingKV struct {
	KV
	sets atomic.Int64
}

func (c *countingKV) Set(ctx context.Context, key, value string) error {
	c.sets.Add(1)
	return c.KV.Set(ctx, key, value)
}

// flakyKV always fails, as a torn-down backend would.
type flakyKV struct {
	err   error
	calls int
}

func (f *flakyKV) Get(context.Context, string) (string, bool, error) {
	f.calls++
	return "", false, f.err
}

func (f *flakyKV) Set(context.Context, string, string) error {
	f.calls++
	return f.err
}

func (f *flakyKV) Remove(context.Context, string) error {
	f.calls++
	return f.err
}
