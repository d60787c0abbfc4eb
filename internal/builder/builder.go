// Package builder orchestrates deck builds: extract, resolve, fetch
// assets, compose sheets, persist. One build runs per deck at a time;
// progress flows through the shared event bus.
package builder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ttsdeck/internal/assets"
	"ttsdeck/internal/catalog"
	"ttsdeck/internal/deck"
	"ttsdeck/internal/extract"
	"ttsdeck/internal/pages"
	"ttsdeck/internal/progress"
)

// State is a build's position in its lifecycle.
type State string

const (
	StateQueued         State = "queued"
	StateResolving      State = "resolving"
	StateFetchingAssets State = "fetching_assets"
	StateComposing      State = "composing"
	StatePersisting     State = "persisting"
	StateComplete       State = "complete"
	StateFailed         State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

var (
	// ErrAlreadyInFlight means a build for this deck is still running.
	ErrAlreadyInFlight = errors.New("deck build already in flight")
	// ErrBuildNotFound means no build record exists for the deck.
	ErrBuildNotFound = errors.New("no build record for deck")
)

// Build is the record of one deck build.
type Build struct {
	DeckID     uuid.UUID
	Source     string
	Title      string
	State      State
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	SheetCount int
}

// resolution caches a deck's resolved entries against the catalog
// generation that produced them.
type resolution struct {
	generation int64
	title      string
	entries    []deck.Entry
}

// Options configures a Builder.
type Options struct {
	// Concurrency bounds parallel asset fetches per build.
	Concurrency int
	// BackURL is the card back image referenced from save documents.
	BackURL string
	// FilesURL prefixes sheet image URLs in save documents.
	FilesURL string
	// JPEGQuality for sheet encoding; 0 means the encoder default.
	JPEGQuality int
}

// Builder runs deck builds. Safe for concurrent use.
type Builder struct {
	catalog    *catalog.Catalog
	extractors []extract.Extractor
	cache      *assets.Cache
	composer   *pages.Composer
	output     *OutputStore
	bus        *progress.Bus
	opts       Options

	mu       sync.Mutex
	builds   map[uuid.UUID]*Build
	resolved map[uuid.UUID]resolution
	cancels  map[uuid.UUID]context.CancelFunc
}

// New creates a Builder.
func New(cat *catalog.Catalog, extractors []extract.Extractor, cache *assets.Cache,
	composer *pages.Composer, output *OutputStore, bus *progress.Bus, opts Options) *Builder {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Builder{
		catalog:    cat,
		extractors: extractors,
		cache:      cache,
		composer:   composer,
		output:     output,
		bus:        bus,
		opts:       opts,
		builds:     make(map[uuid.UUID]*Build),
		resolved:   make(map[uuid.UUID]resolution),
		cancels:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// DeckID derives the stable deck identity for a source. The same source
// always maps to the same deck, which is what makes per-deck single
// flight and rebuilds possible.
func DeckID(source string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source))
}

// Start launches a build for the given source and returns its deck ID.
// A second Start for the same deck while the first still runs returns
// ErrAlreadyInFlight; a finished deck starts over.
func (b *Builder) Start(ctx context.Context, source string) (uuid.UUID, error) {
	extractor, err := extract.Find(b.extractors, source)
	if err != nil {
		return uuid.Nil, err
	}

	deckID := DeckID(source)
	b.mu.Lock()
	if existing, ok := b.builds[deckID]; ok && !existing.State.Terminal() {
		b.mu.Unlock()
		return deckID, fmt.Errorf("%w: deck %s", ErrAlreadyInFlight, deckID)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.builds[deckID] = &Build{
		DeckID:    deckID,
		Source:    source,
		State:     StateQueued,
		StartedAt: time.Now(),
	}
	b.cancels[deckID] = cancel
	b.mu.Unlock()

	log.Infof("Starting build of deck %s from %s source", deckID, extractor.Name())
	go b.run(runCtx, deckID, source, extractor)
	return deckID, nil
}

// Rebuild drops the deck's cached resolution and starts a fresh build.
// Cached assets stay: card images do not change between builds.
func (b *Builder) Rebuild(ctx context.Context, source string) (uuid.UUID, error) {
	deckID := DeckID(source)
	b.mu.Lock()
	delete(b.resolved, deckID)
	b.mu.Unlock()
	return b.Start(ctx, source)
}

// Cancel stops a running build and removes its record. Canceling an
// unknown or finished deck removes whatever record is left; no event is
// published.
func (b *Builder) Cancel(deckID uuid.UUID) {
	b.mu.Lock()
	if cancel, ok := b.cancels[deckID]; ok {
		cancel()
		delete(b.cancels, deckID)
	}
	delete(b.builds, deckID)
	b.bus.Forget(deckID)
	b.mu.Unlock()
}

// Status returns a copy of the deck's build record.
func (b *Builder) Status(deckID uuid.UUID) (Build, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	build, ok := b.builds[deckID]
	if !ok {
		return Build{}, fmt.Errorf("%w: %s", ErrBuildNotFound, deckID)
	}
	return *build, nil
}

// List returns copies of all build records.
func (b *Builder) List() []Build {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Build, 0, len(b.builds))
	for _, build := range b.builds {
		out = append(out, *build)
	}
	return out
}

// setState advances a build's record. Canceled builds have no record, in
// which case there is nothing to update.
func (b *Builder) setState(deckID uuid.UUID, state State, mutate func(*Build)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	build, ok := b.builds[deckID]
	if !ok {
		return false
	}
	build.State = state
	if mutate != nil {
		mutate(build)
	}
	return true
}

// publish delivers a progress event only while the build record exists.
// Cancel removes the record and forgets the stream under the same lock,
// so a canceled deck goes quiet no matter what its goroutine is still
// finishing.
func (b *Builder) publish(ev progress.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.builds[ev.DeckID]; ok {
		b.bus.Publish(ev)
	}
}

func (b *Builder) fail(deckID uuid.UUID, err error) {
	log.WithError(err).Errorf("Build of deck %s failed", deckID)
	alive := b.setState(deckID, StateFailed, func(build *Build) {
		build.Error = err.Error()
		build.FinishedAt = time.Now()
	})
	b.mu.Lock()
	delete(b.cancels, deckID)
	b.mu.Unlock()
	if alive {
		// Exactly one error event per failed build.
		b.publish(progress.Event{DeckID: deckID, Kind: progress.KindError, Message: err.Error()})
	}
}

func (b *Builder) run(ctx context.Context, deckID uuid.UUID, source string, extractor extract.Extractor) {
	// setState returning false means Cancel removed the record; the build
	// stops at the next stage boundary without touching output or the bus.
	if !b.setState(deckID, StateResolving, nil) {
		return
	}
	b.publish(progress.Event{DeckID: deckID, Kind: progress.KindLoading})

	title, entries, err := b.resolve(ctx, deckID, source, extractor)
	if err != nil {
		b.fail(deckID, err)
		return
	}
	if !b.setState(deckID, StateFetchingAssets, func(build *Build) { build.Title = title }) {
		return
	}

	refs := deck.DistinctFaces(entries)
	if err := b.fetchAssets(ctx, deckID, refs); err != nil {
		b.fail(deckID, err)
		return
	}

	if !b.setState(deckID, StateComposing, nil) {
		return
	}
	sheets, err := b.composer.Compose(refs, nil, func(ref deck.AssetRef) ([]byte, error) {
		return b.cache.Store().Read(ref)
	}, nil)
	if err != nil {
		b.fail(deckID, err)
		return
	}

	if !b.setState(deckID, StatePersisting, nil) {
		return
	}
	if err := b.persist(deckID, title, entries, sheets); err != nil {
		b.fail(deckID, err)
		return
	}

	if !b.setState(deckID, StateComplete, func(build *Build) {
		build.FinishedAt = time.Now()
		build.SheetCount = len(sheets)
	}) {
		return
	}
	b.mu.Lock()
	delete(b.cancels, deckID)
	b.mu.Unlock()
	b.publish(progress.Event{DeckID: deckID, Kind: progress.KindComplete})
	log.Infof("Finished build of deck %s (%q, %d sheets)", deckID, title, len(sheets))
}

// resolve extracts and resolves the decklist, reusing a cached resolution
// when it was produced by the current catalog generation.
func (b *Builder) resolve(ctx context.Context, deckID uuid.UUID, source string, extractor extract.Extractor) (string, []deck.Entry, error) {
	snap, err := b.catalog.Snapshot()
	if err != nil {
		return "", nil, fmt.Errorf("no catalog available, refresh it first: %w", err)
	}

	b.mu.Lock()
	cached, ok := b.resolved[deckID]
	b.mu.Unlock()
	if ok && cached.generation == snap.Generation {
		log.Debugf("Reusing cached resolution of deck %s (generation %d)", deckID, cached.generation)
		return cached.title, cached.entries, nil
	}

	list, err := extractor.Extract(ctx, source)
	if err != nil {
		return "", nil, err
	}
	entries, err := deck.Resolve(snap, list.Entries)
	if err != nil {
		return "", nil, err
	}

	b.mu.Lock()
	b.resolved[deckID] = resolution{generation: snap.Generation, title: list.Title, entries: entries}
	b.mu.Unlock()
	return list.Title, entries, nil
}

// fetchAssets pulls every face image through the cache with bounded
// parallelism, publishing progress as fetches finish.
func (b *Builder) fetchAssets(ctx context.Context, deckID uuid.UUID, refs []deck.AssetRef) error {
	total := len(refs)
	b.publish(progress.Event{DeckID: deckID, Kind: progress.KindRenderingImages, Done: 0, Total: total})

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)
	for _, ref := range refs {
		g.Go(func() error {
			if _, err := b.cache.Get(gctx, ref); err != nil {
				return err
			}
			b.publish(progress.Event{
				DeckID: deckID,
				Kind:   progress.KindRenderingImages,
				Done:   int(done.Add(1)),
				Total:  total,
			})
			return nil
		})
	}
	return g.Wait()
}

// persist encodes the sheets, assembles the save document and writes the
// deck's output atomically.
func (b *Builder) persist(deckID uuid.UUID, title string, entries []deck.Entry, sheets []pages.Sheet) error {
	total := len(sheets)
	b.publish(progress.Event{DeckID: deckID, Kind: progress.KindSavingPages, Done: 0, Total: total})

	images := make([][]byte, total)
	urls := make([]string, total)
	for i := range sheets {
		data, err := pages.EncodeJPEG(&sheets[i], b.opts.JPEGQuality)
		if err != nil {
			return err
		}
		images[i] = data
		urls[i] = b.opts.FilesURL + deckID.String() + "/" + SheetName(i)
	}

	saveDoc, err := BuildSaveDoc(title, entries, sheets, urls, b.opts.BackURL)
	if err != nil {
		return err
	}

	_, err = b.output.Write(deckID, saveDoc, images, func(done, total int) {
		b.publish(progress.Event{DeckID: deckID, Kind: progress.KindSavingPages, Done: done, Total: total})
	})
	return err
}
