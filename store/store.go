// Package store persists discovered pins per board under a bounded,
// deduplicated cache. Merges are debounced so a burst of discovery
// batches commits as one write, and are idempotent: re-merging a batch
// that adds nothing skips the write entirely.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/use-agent/mosaic/config"
	"github.com/use-agent/mosaic/models"
)

// keyPrefix namespaces board entries in the shared KV.
const keyPrefix = "mosaic:board:"

// commitTimeout bounds one debounced read-merge-write round trip.
const commitTimeout = 5 * time.Second

// BoardStore is the merge-and-cache layer over a KV backend.
type BoardStore struct {
	kv       KV
	capacity int
	window   time.Duration

	mu        sync.Mutex
	pending   map[string][]models.Pin
	debounced map[string]func(func())
	gone      bool
}

// New creates a BoardStore with the configured capacity and debounce
// window.
func New(kv KV, cfg config.StoreConfig) *BoardStore {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 200
	}
	window := cfg.DebounceWindow
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &BoardStore{
		kv:        kv,
		capacity:  capacity,
		window:    window,
		pending:   make(map[string][]models.Pin),
		debounced: make(map[string]func(func())),
	}
}

// Merge schedules pins for the collection. Calls within the debounce
// window accumulate into one pending batch; the batch present when the
// window elapses is committed in a single write.
func (b *BoardStore) Merge(collection string, pins []models.Pin) {
	if collection == "" || len(pins) == 0 {
		return
	}

	b.mu.Lock()
	if b.gone {
		b.mu.Unlock()
		return
	}
	b.pending[collection] = append(b.pending[collection], pins...)
	d, ok := b.debounced[collection]
	if !ok {
		d = debounce.New(b.window)
		b.debounced[collection] = d
	}
	b.mu.Unlock()

	d(func() { b.Flush(collection) })
}

// Flush commits the collection's pending batch immediately. Useful at
// shutdown so the last debounce window is not lost.
func (b *BoardStore) Flush(collection string) {
	b.mu.Lock()
	batch := b.pending[collection]
	delete(b.pending, collection)
	gone := b.gone
	b.mu.Unlock()

	if gone || len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	b.commit(ctx, collection, batch)
}

// commit performs the read-diff-prepend-truncate merge.
func (b *BoardStore) commit(ctx context.Context, collection string, batch []models.Pin) {
	existing, err := b.Read(ctx, collection)
	if err != nil {
		return // advisory already handled in Read
	}

	known := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		known[p.Identity] = struct{}{}
	}

	// Only genuinely new identities survive; duplicates inside the batch
	// keep their first occurrence.
	var fresh []models.Pin
	for _, p := range batch {
		if _, ok := known[p.Identity]; ok {
			continue
		}
		known[p.Identity] = struct{}{}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		// Idempotent no-op: nothing new, skip the write entirely.
		return
	}

	// Most-recent-first: the last pin discovered ends up at the head.
	merged := make([]models.Pin, 0, len(fresh)+len(existing))
	for i := len(fresh) - 1; i >= 0; i-- {
		merged = append(merged, fresh[i])
	}
	merged = append(merged, existing...)
	if len(merged) > b.capacity {
		merged = merged[:b.capacity]
	}

	value, err := json.Marshal(merged)
	if err != nil {
		slog.Error("board encode failed", "collection", collection, "error", err)
		return
	}
	if err := b.kv.Set(ctx, keyPrefix+collection, string(value)); err != nil {
		b.markGone(err)
		return
	}
	slog.Debug("board merged",
		"collection", collection,
		"new", len(fresh),
		"total", len(merged),
	)
}

// Read returns the collection's ordered pin list, or an empty list when
// the collection has never been written.
func (b *BoardStore) Read(ctx context.Context, collection string) ([]models.Pin, error) {
	b.mu.Lock()
	gone := b.gone
	b.mu.Unlock()
	if gone {
		return nil, nil
	}

	raw, ok, err := b.kv.Get(ctx, keyPrefix+collection)
	if err != nil {
		b.markGone(err)
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var pins []models.Pin
	if err := json.Unmarshal([]byte(raw), &pins); err != nil {
		slog.Warn("board entry corrupt, treating as empty", "collection", collection, "error", err)
		return nil, nil
	}
	return pins, nil
}

// Clear removes the collection. Boards are never cleared implicitly.
func (b *BoardStore) Clear(ctx context.Context, collection string) error {
	b.mu.Lock()
	delete(b.pending, collection)
	gone := b.gone
	b.mu.Unlock()
	if gone {
		return nil
	}

	if err := b.kv.Remove(ctx, keyPrefix+collection); err != nil {
		b.markGone(err)
		return err
	}
	return nil
}

// markGone classifies a store failure. A single failed operation is
// transient and only skips itself; a torn-down backend is a
// host-environment invalidation: the advisory fires once, and every
// later read or write is skipped rather than retried, since the
// environment will not recover without a full reload.
func (b *BoardStore) markGone(err error) {
	if !isInvalidated(err) {
		slog.Debug("store operation failed, skipping", "error", err)
		return
	}

	b.mu.Lock()
	already := b.gone
	b.gone = true
	b.mu.Unlock()
	if !already {
		slog.Warn("persistence layer unreachable; skipping further store access",
			"code", models.ErrCodeStoreGone,
			"error", err,
		)
	}
}

// isInvalidated reports whether the error means the backend itself is
// gone, as opposed to one operation failing.
func isInvalidated(err error) bool {
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "sql: database is closed")
}
