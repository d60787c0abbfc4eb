// Package catalog maintains an in-memory card catalog backed by upstream
// bulk data. Readers hold an immutable Snapshot; Refresh builds and swaps
// in a new one atomically, so a failed refresh never disturbs lookups.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// BulkSource supplies the raw bulk card stream, normally the upstream API
// client.
type BulkSource interface {
	BulkData(ctx context.Context, bulkType string) (io.ReadCloser, error)
}

// Options configures a Catalog.
type Options struct {
	BulkType    string
	MaxAge      time.Duration
	KeepHistory int
	Index       *SearchIndex // optional
}

// RefreshStats summarizes one Refresh call.
type RefreshStats struct {
	Generation int64
	Loaded     int
	Skipped    int
	Refreshed  bool
	Duration   time.Duration
}

// Catalog is the shared card catalog. Safe for concurrent use.
type Catalog struct {
	source BulkSource
	store  *Store
	opts   Options

	current atomic.Pointer[Snapshot]

	// refreshMu serializes refreshes; lookups never take it.
	refreshMu sync.Mutex
}

// New creates a Catalog over the given source and store. If the store holds
// a current generation it is loaded immediately so lookups work offline.
func New(ctx context.Context, source BulkSource, store *Store, opts Options) (*Catalog, error) {
	if opts.BulkType == "" {
		opts.BulkType = "default_cards"
	}
	c := &Catalog{source: source, store: store, opts: opts}

	snap, err := store.LoadCurrent(ctx)
	switch {
	case err == nil:
		c.current.Store(snap)
		log.Infof("Loaded catalog generation %d with %d cards", snap.Generation, snap.Len())
	case err == ErrNoGeneration:
		log.Debug("Catalog store is empty, waiting for first refresh")
	default:
		return nil, fmt.Errorf("loading persisted catalog: %w", err)
	}
	return c, nil
}

// Snapshot returns the current catalog snapshot, or ErrNoGeneration when no
// refresh has ever completed.
func (c *Catalog) Snapshot() (*Snapshot, error) {
	snap := c.current.Load()
	if snap == nil {
		return nil, ErrNoGeneration
	}
	return snap, nil
}

// Refresh fetches the bulk dataset and swaps in a new snapshot. Unless
// force is set, a fresh-enough current generation short-circuits the fetch.
// Any failure leaves the previous snapshot in place.
func (c *Catalog) Refresh(ctx context.Context, force bool) (RefreshStats, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	start := time.Now()

	if !force && c.opts.MaxAge > 0 {
		gen, err := c.store.CurrentGeneration(ctx)
		if err == nil && time.Since(gen.CreatedAt) < c.opts.MaxAge {
			log.Infof("Catalog generation %d is %s old, skipping refresh",
				gen.ID, time.Since(gen.CreatedAt).Round(time.Minute))
			return RefreshStats{Generation: gen.ID, Duration: time.Since(start)}, nil
		}
	}

	body, err := c.source.BulkData(ctx, c.opts.BulkType)
	if err != nil {
		return RefreshStats{}, fmt.Errorf("fetching bulk data: %w", err)
	}
	defer body.Close()

	entries, skipped, err := decodeBulk(body)
	if err != nil {
		return RefreshStats{}, err
	}
	if len(entries) == 0 {
		return RefreshStats{}, fmt.Errorf("bulk data stream contained no usable cards")
	}

	genID, err := c.store.WriteGeneration(ctx, c.opts.BulkType, entries, c.opts.KeepHistory)
	if err != nil {
		return RefreshStats{}, fmt.Errorf("persisting catalog generation: %w", err)
	}

	snap := NewSnapshot(genID, len(entries))
	for _, e := range entries {
		snap.Add(e)
	}
	c.current.Store(snap)

	if c.opts.Index != nil {
		if err := c.opts.Index.Rebuild(entries); err != nil {
			// The snapshot is already live; a stale search index only
			// degrades name search, not deck builds.
			log.WithError(err).Warn("Failed to rebuild catalog search index")
		}
	}

	stats := RefreshStats{
		Generation: genID,
		Loaded:     len(entries),
		Skipped:    skipped,
		Refreshed:  true,
		Duration:   time.Since(start),
	}
	log.Infof("Catalog refreshed: generation %d, %d cards loaded, %d skipped in %s",
		stats.Generation, stats.Loaded, stats.Skipped, stats.Duration.Round(time.Millisecond))
	return stats, nil
}

// decodeBulk streams the bulk JSON array without holding the whole download
// in memory. Any structural or per-card error aborts the whole decode.
func decodeBulk(r io.Reader) (entries []*Entry, skipped int, err error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, 0, fmt.Errorf("reading bulk data stream: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, 0, fmt.Errorf("bulk data stream is not a JSON array (got %v)", tok)
	}

	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, 0, fmt.Errorf("decoding card at position %d: %w", len(entries)+skipped, err)
		}
		entry, ok, err := ParseEntry(raw)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if _, err := dec.Token(); err != nil {
		return nil, 0, fmt.Errorf("reading bulk data array close: %w", err)
	}
	return entries, skipped, nil
}
