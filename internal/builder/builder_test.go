package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsdeck/internal/assets"
	"ttsdeck/internal/catalog"
	"ttsdeck/internal/extract"
	"ttsdeck/internal/pages"
	"ttsdeck/internal/progress"
	"ttsdeck/internal/scryfall"
)

const testDecklist = "4 Lightning Bolt\n2 Counterspell\n\nCommander:\n1 Atraxa, Praetors' Voice\n"

func bulkPayload() string {
	lines := []string{
		`{"id":"00000000-0000-0000-0000-000000000001","name":"Lightning Bolt","set":"lea","released_at":"1993-08-05","collector_number":"161","lang":"en","mana_cost":"{R}","type_line":"Instant","oracle_text":"Deal 3 damage.","image_uris":{"large":"x"}}`,
		`{"id":"00000000-0000-0000-0000-000000000002","name":"Counterspell","set":"lea","released_at":"1993-08-05","collector_number":"54","lang":"en","mana_cost":"{U}{U}","type_line":"Instant","oracle_text":"Counter target spell.","image_uris":{"large":"x"}}`,
		`{"id":"00000000-0000-0000-0000-000000000003","name":"Atraxa, Praetors' Voice","set":"c16","released_at":"2016-11-11","collector_number":"28","lang":"en","mana_cost":"{G}{W}{U}{B}","type_line":"Legendary Creature","oracle_text":"Proliferate.","image_uris":{"large":"x"}}`,
	}
	return "[" + strings.Join(lines, ",") + "]"
}

type bulkFunc func(ctx context.Context, bulkType string) (io.ReadCloser, error)

func (f bulkFunc) BulkData(ctx context.Context, bulkType string) (io.ReadCloser, error) {
	return f(ctx, bulkType)
}

// imageFetcher serves a tiny valid PNG for every card face.
type imageFetcher struct {
	calls   atomic.Int32
	errFor  uuid.UUID
	err     error
	release chan struct{} // when non-nil, fetches block until closed
}

func (f *imageFetcher) CardImage(ctx context.Context, cardID uuid.UUID, face int) ([]byte, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil && (f.errFor == uuid.Nil || f.errFor == cardID) {
		return nil, f.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 48, 68))
	for y := 0; y < 68; y++ {
		for x := 0; x < 48; x++ {
			img.SetRGBA(x, y, color.RGBA{R: cardID[15] * 40, G: 80, B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newTestBuilder(t *testing.T, fetcher assets.Fetcher) (*Builder, *progress.Bus) {
	t.Helper()
	dir := t.TempDir()

	store, err := catalog.OpenStore(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	source := bulkFunc(func(ctx context.Context, bulkType string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(bulkPayload())), nil
	})
	cat, err := catalog.New(context.Background(), source, store, catalog.Options{KeepHistory: 2})
	require.NoError(t, err)
	_, err = cat.Refresh(context.Background(), false)
	require.NoError(t, err)

	assetStore, err := assets.NewStore(filepath.Join(dir, "cards"))
	require.NoError(t, err)
	cache := assets.NewCache(assetStore, fetcher, assets.CacheOptions{
		Width: 4, MaxRetries: 2, InitialRetryDelay: time.Millisecond,
	})

	output, err := NewOutputStore(filepath.Join(dir, "decks"))
	require.NoError(t, err)

	bus := progress.NewBus()
	b := New(cat,
		[]extract.Extractor{&extract.TextListExtractor{Title: "Test Deck"}},
		cache,
		pages.NewComposer(3, 2),
		output,
		bus,
		Options{Concurrency: 4, BackURL: "http://files.example/back.jpg", FilesURL: "http://files.example/"},
	)
	return b, bus
}

func waitTerminal(t *testing.T, sub *progress.Subscription) progress.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "subscription closed before a terminal event")
			if ev.Kind.Terminal() {
				return ev
			}
		case <-timeout:
			t.Fatal("build never reached a terminal state")
		}
	}
}

func TestBuildEndToEnd(t *testing.T) {
	fetcher := &imageFetcher{}
	b, bus := newTestBuilder(t, fetcher)

	deckID := DeckID(testDecklist)
	sub := bus.Subscribe(deckID)
	defer sub.Close()

	got, err := b.Start(context.Background(), testDecklist)
	require.NoError(t, err)
	assert.Equal(t, deckID, got)

	ev := waitTerminal(t, sub)
	require.Equal(t, progress.KindComplete, ev.Kind)

	build, err := b.Status(deckID)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, build.State)
	assert.Equal(t, "Test Deck", build.Title)
	assert.Equal(t, 1, build.SheetCount, "3 faces plus the back fit one 3x2 sheet")
	assert.Equal(t, int32(3), fetcher.calls.Load(), "one fetch per distinct face")

	raw, err := b.output.ReadSaveDoc(deckID)
	require.NoError(t, err)
	var doc ttsSave
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.ObjectStates, 2)

	sheetPath := filepath.Join(b.output.Dir(deckID), SheetName(0))
	data, err := os.ReadFile(sheetPath)
	require.NoError(t, err)
	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 3*pages.CardWidth, img.Bounds().Dx())
}

func TestBuildPublishesProgressSequence(t *testing.T) {
	b, bus := newTestBuilder(t, &imageFetcher{})
	deckID := DeckID(testDecklist)
	sub := bus.Subscribe(deckID)
	defer sub.Close()

	_, err := b.Start(context.Background(), testDecklist)
	require.NoError(t, err)

	seen := make(map[progress.Kind]bool)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			seen[ev.Kind] = true
			if ev.Kind.Terminal() {
				goto done
			}
		case <-timeout:
			t.Fatal("build never finished")
		}
	}
done:
	assert.True(t, seen[progress.KindLoading])
	assert.True(t, seen[progress.KindRenderingImages])
	assert.True(t, seen[progress.KindSavingPages])
	assert.True(t, seen[progress.KindComplete])
	assert.False(t, seen[progress.KindError])
}

func TestStartWhileInFlight(t *testing.T) {
	fetcher := &imageFetcher{release: make(chan struct{})}
	b, bus := newTestBuilder(t, fetcher)
	deckID := DeckID(testDecklist)
	sub := bus.Subscribe(deckID)
	defer sub.Close()

	_, err := b.Start(context.Background(), testDecklist)
	require.NoError(t, err)

	_, err = b.Start(context.Background(), testDecklist)
	assert.ErrorIs(t, err, ErrAlreadyInFlight)

	// A different deck is unaffected.
	_, err = b.Start(context.Background(), "1 Lightning Bolt")
	require.NoError(t, err)

	close(fetcher.release)
	ev := waitTerminal(t, sub)
	assert.Equal(t, progress.KindComplete, ev.Kind)

	// Finished decks can start again.
	_, err = b.Start(context.Background(), testDecklist)
	require.NoError(t, err)
}

func TestBuildFailsOnMissingImage(t *testing.T) {
	fetcher := &imageFetcher{err: scryfall.ErrNotFound}
	b, bus := newTestBuilder(t, fetcher)
	deckID := DeckID(testDecklist)
	sub := bus.Subscribe(deckID)
	defer sub.Close()

	_, err := b.Start(context.Background(), testDecklist)
	require.NoError(t, err)

	errorEvents := 0
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == progress.KindError {
				errorEvents++
				assert.NotEmpty(t, ev.Message)
			}
			if ev.Kind.Terminal() {
				// Drain briefly to catch a stray second error event.
				time.Sleep(50 * time.Millisecond)
				goto done
			}
		case <-timeout:
			t.Fatal("build never failed")
		}
	}
done:
	assert.Equal(t, 1, errorEvents, "a failed build publishes exactly one error event")

	build, err := b.Status(deckID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, build.State)
	assert.NotEmpty(t, build.Error)
}

func TestBuildFailsOnUnknownCard(t *testing.T) {
	b, bus := newTestBuilder(t, &imageFetcher{})
	source := "1 Completely Unknown Card"
	sub := bus.Subscribe(DeckID(source))
	defer sub.Close()

	_, err := b.Start(context.Background(), source)
	require.NoError(t, err)

	ev := waitTerminal(t, sub)
	assert.Equal(t, progress.KindError, ev.Kind)
	assert.Contains(t, ev.Message, "Completely Unknown Card")
}

func TestCancelRemovesRecordSilently(t *testing.T) {
	fetcher := &imageFetcher{release: make(chan struct{})}
	b, bus := newTestBuilder(t, fetcher)
	deckID := DeckID(testDecklist)
	sub := bus.Subscribe(deckID)
	defer sub.Close()

	_, err := b.Start(context.Background(), testDecklist)
	require.NoError(t, err)

	b.Cancel(deckID)
	close(fetcher.release)

	_, err = b.Status(deckID)
	assert.ErrorIs(t, err, ErrBuildNotFound)

	// No terminal event arrives for the canceled deck.
	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case ev := <-sub.Events():
			assert.False(t, ev.Kind.Terminal(), "canceled build must not publish %s", ev.Kind)
		case <-deadline:
			return
		}
	}
}

// completingFetcher finishes every fetch no matter what happened to the
// build: each call signals on started, waits for release, then serves a
// valid image without consulting the context.
type completingFetcher struct {
	inner   imageFetcher
	started chan struct{}
	release chan struct{}
}

func (f *completingFetcher) CardImage(ctx context.Context, cardID uuid.UUID, face int) ([]byte, error) {
	f.started <- struct{}{}
	<-f.release
	return f.inner.CardImage(context.Background(), cardID, face)
}

func TestCancelAfterFetchesStopsPipeline(t *testing.T) {
	fetcher := &completingFetcher{started: make(chan struct{}, 8), release: make(chan struct{})}
	b, bus := newTestBuilder(t, fetcher)
	deckID := DeckID(testDecklist)
	sub := bus.Subscribe(deckID)
	defer sub.Close()

	_, err := b.Start(context.Background(), testDecklist)
	require.NoError(t, err)

	// All three face fetches are in flight when the cancel lands.
	for i := 0; i < 3; i++ {
		select {
		case <-fetcher.started:
		case <-time.After(5 * time.Second):
			t.Fatal("fetches never started")
		}
	}
	b.Cancel(deckID)
	close(fetcher.release)

	// The fetches finish anyway, but the build must not compose, persist
	// or publish past the cancel.
	deadline := time.After(500 * time.Millisecond)
drain:
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				break drain
			}
			assert.NotEqual(t, progress.KindSavingPages, ev.Kind, "canceled build must not persist")
			assert.False(t, ev.Kind.Terminal(), "canceled build must not publish %s", ev.Kind)
		case <-deadline:
			break drain
		}
	}

	_, err = b.Status(deckID)
	assert.ErrorIs(t, err, ErrBuildNotFound)
	_, err = b.output.ReadSaveDoc(deckID)
	assert.ErrorIs(t, err, ErrNoOutput, "canceled build must not write output")
}

func TestRebuildReusesCachedAssets(t *testing.T) {
	fetcher := &imageFetcher{}
	b, bus := newTestBuilder(t, fetcher)
	deckID := DeckID(testDecklist)

	sub := bus.Subscribe(deckID)
	_, err := b.Start(context.Background(), testDecklist)
	require.NoError(t, err)
	require.Equal(t, progress.KindComplete, waitTerminal(t, sub).Kind)
	sub.Close()
	require.Equal(t, int32(3), fetcher.calls.Load())

	sub = bus.Subscribe(deckID)
	defer sub.Close()
	_, err = b.Rebuild(context.Background(), testDecklist)
	require.NoError(t, err)
	require.Equal(t, progress.KindComplete, waitTerminal(t, sub).Kind)

	assert.Equal(t, int32(3), fetcher.calls.Load(), "rebuilds reuse cached images")
}

func TestDeckIDIsStable(t *testing.T) {
	a := DeckID("https://archidekt.com/decks/12345")
	b := DeckID("https://archidekt.com/decks/12345")
	c := DeckID("https://archidekt.com/decks/54321")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestOutputStoreAtomicReplace(t *testing.T) {
	output, err := NewOutputStore(t.TempDir())
	require.NoError(t, err)
	deckID := uuid.New()

	_, err = output.ReadSaveDoc(deckID)
	assert.ErrorIs(t, err, ErrNoOutput)

	_, err = output.Write(deckID, []byte(`{"v":1}`), [][]byte{[]byte("img1"), []byte("img2")}, nil)
	require.NoError(t, err)

	// A rewrite with fewer sheets leaves no stale files behind.
	info, err := output.Write(deckID, []byte(`{"v":2}`), [][]byte{[]byte("img1")}, nil)
	require.NoError(t, err)

	doc, err := output.ReadSaveDoc(deckID)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(doc))

	entries, err := os.ReadDir(info.Dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"deck.json", "sheet_1.jpg"}, names)

	require.NoError(t, output.Remove(deckID))
	_, err = output.ReadSaveDoc(deckID)
	assert.ErrorIs(t, err, ErrNoOutput)
	assert.NoError(t, output.Remove(deckID))
}

func TestSheetNameNumbering(t *testing.T) {
	assert.Equal(t, "sheet_1.jpg", SheetName(0))
	assert.Equal(t, fmt.Sprintf("sheet_%d.jpg", 12), SheetName(11))
}
