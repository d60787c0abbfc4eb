package assets

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"ttsdeck/internal/deck"
	"ttsdeck/internal/scryfall"
)

// Fetcher retrieves a card face image from upstream.
type Fetcher interface {
	CardImage(ctx context.Context, cardID uuid.UUID, face int) ([]byte, error)
}

// CachedAsset is the result of a cache Get.
type CachedAsset struct {
	Ref       deck.AssetRef
	Path      string
	Size      int64
	Hash      string
	FromCache bool
}

// FetchError wraps an upstream failure for one ref. Transient mirrors the
// upstream classification after retries are exhausted.
type FetchError struct {
	Ref       deck.AssetRef
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching asset %s: %v", e.Ref, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CacheOptions tunes the cache's fetch behavior.
type CacheOptions struct {
	// Width bounds concurrent upstream fetches across all callers.
	Width int64
	// MaxRetries is the total number of attempts per ref.
	MaxRetries int
	// InitialRetryDelay doubles after each failed attempt.
	InitialRetryDelay time.Duration
}

// Cache is the read-through layer over the Store. Concurrent Gets for the
// same ref coalesce into one upstream fetch; distinct refs proceed in
// parallel up to the configured width.
type Cache struct {
	store   *Store
	fetcher Fetcher
	opts    CacheOptions

	group singleflight.Group
	sem   *semaphore.Weighted
}

// NewCache creates a cache over store and fetcher.
func NewCache(store *Store, fetcher Fetcher, opts CacheOptions) *Cache {
	if opts.Width < 1 {
		opts.Width = 1
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.InitialRetryDelay <= 0 {
		opts.InitialRetryDelay = time.Second
	}
	return &Cache{
		store:   store,
		fetcher: fetcher,
		opts:    opts,
		sem:     semaphore.NewWeighted(opts.Width),
	}
}

// Store exposes the underlying content store.
func (c *Cache) Store() *Store { return c.store }

// Get returns the cached image for ref, fetching it from upstream on a
// miss. A hit never touches the network.
func (c *Cache) Get(ctx context.Context, ref deck.AssetRef) (CachedAsset, error) {
	if info, err := c.store.Stat(ref); err == nil {
		return CachedAsset{Ref: ref, Path: info.Path, Size: info.Size, FromCache: true}, nil
	}

	v, err, shared := c.group.Do(ref.String(), func() (interface{}, error) {
		// A waiter may have landed the file while we queued.
		if info, err := c.store.Stat(ref); err == nil {
			return CachedAsset{Ref: ref, Path: info.Path, Size: info.Size, FromCache: true}, nil
		}
		return c.fetchAndStore(ctx, ref)
	})
	if err != nil {
		return CachedAsset{}, err
	}
	asset := v.(CachedAsset)
	if shared {
		log.Debugf("Asset fetch for %s was shared with concurrent callers", ref)
	}
	return asset, nil
}

// fetchAndStore downloads one image with bounded concurrency and retries,
// then persists it.
func (c *Cache) fetchAndStore(ctx context.Context, ref deck.AssetRef) (CachedAsset, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return CachedAsset{}, &FetchError{Ref: ref, Transient: true, Err: err}
	}
	defer c.sem.Release(1)

	var lastErr error
	delay := c.opts.InitialRetryDelay
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		data, err := c.fetcher.CardImage(ctx, ref.CardID, ref.Face)
		if err == nil {
			info, werr := c.store.Write(ref, data)
			if werr != nil {
				return CachedAsset{}, &FetchError{Ref: ref, Transient: false, Err: werr}
			}
			return CachedAsset{Ref: ref, Path: info.Path, Size: info.Size, Hash: info.Hash}, nil
		}

		lastErr = err
		if !scryfall.Transient(err) {
			log.WithError(err).Warnf("Permanent failure fetching asset %s", ref)
			return CachedAsset{}, &FetchError{Ref: ref, Transient: false, Err: err}
		}
		if attempt == c.opts.MaxRetries {
			break
		}
		log.WithError(err).Warnf("Attempt %d/%d for asset %s failed, retrying in %s",
			attempt, c.opts.MaxRetries, ref, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return CachedAsset{}, &FetchError{Ref: ref, Transient: true, Err: ctx.Err()}
		}
		delay *= 2
	}
	return CachedAsset{}, &FetchError{Ref: ref, Transient: true, Err: lastErr}
}
