package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"ttsdeck/internal/assets"
	"ttsdeck/internal/builder"
	"ttsdeck/internal/catalog"
	"ttsdeck/internal/config"
	"ttsdeck/internal/extract"
	"ttsdeck/internal/pages"
	"ttsdeck/internal/progress"
	"ttsdeck/internal/scryfall"
)

// app bundles the wired-up services a command needs. Commands build one,
// use it, and Close it.
type app struct {
	cfg          config.Config
	client       *scryfall.Client
	apiLog       io.Closer
	catalogStore *catalog.Store
	catalog      *catalog.Catalog
	searchIndex  *catalog.SearchIndex
	cache        *assets.Cache
	output       *builder.OutputStore
	bus          *progress.Bus
	builder      *builder.Builder
}

// newApp wires the application from the loaded global config.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	httpClient, apiLog := newHTTPClient()
	client := scryfall.NewClient(cfg.APIBaseURL, httpClient, cfg.APIDelayMs)

	catalogStore, err := catalog.OpenStore(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	var searchIndex *catalog.SearchIndex
	if cfg.Catalog.SearchIndex {
		searchIndex, err = catalog.OpenSearchIndex(cfg.SearchIndexPath)
		if err != nil {
			catalogStore.Close()
			return nil, err
		}
	}

	cat, err := catalog.New(ctx, client, catalogStore, catalog.Options{
		BulkType:    cfg.Catalog.BulkType,
		MaxAge:      time.Duration(cfg.Catalog.MaxAgeHours) * time.Hour,
		KeepHistory: cfg.Catalog.KeepHistory,
		Index:       searchIndex,
	})
	if err != nil {
		if searchIndex != nil {
			searchIndex.Close()
		}
		catalogStore.Close()
		return nil, err
	}

	assetStore, err := assets.NewStore(cfg.AssetsPath())
	if err != nil {
		return nil, err
	}
	cache := assets.NewCache(assetStore, client, assets.CacheOptions{
		Width:             int64(cfg.Build.Concurrency),
		MaxRetries:        cfg.MaxRetries,
		InitialRetryDelay: time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond,
	})

	output, err := builder.NewOutputStore(cfg.DecksPath())
	if err != nil {
		return nil, err
	}

	bus := progress.NewBus()
	b := builder.New(cat, defaultExtractors(), cache, pages.NewComposer(cfg.Build.SheetCols, cfg.Build.SheetRows), output, bus, builder.Options{
		Concurrency: cfg.Build.Concurrency,
		BackURL:     cfg.Build.BackURL,
		FilesURL:    cfg.Build.FilesURL,
	})

	log.Debugf("Application wired: data under %s", cfg.SavePath)
	return &app{
		cfg:          cfg,
		client:       client,
		apiLog:       apiLog,
		catalogStore: catalogStore,
		catalog:      cat,
		searchIndex:  searchIndex,
		cache:        cache,
		output:       output,
		bus:          bus,
		builder:      b,
	}, nil
}

func defaultExtractors() []extract.Extractor {
	return []extract.Extractor{
		extract.NewArchidektExtractor(nil),
		&extract.TextListExtractor{},
	}
}

// Close releases the app's stores.
func (a *app) Close() {
	if a.searchIndex != nil {
		if err := a.searchIndex.Close(); err != nil {
			log.WithError(err).Warn("Failed to close search index")
		}
	}
	if err := a.catalogStore.Close(); err != nil {
		log.WithError(err).Warn("Failed to close catalog store")
	}
	if a.apiLog != nil {
		if err := a.apiLog.Close(); err != nil {
			log.WithError(err).Warn("Failed to close API log")
		}
	}
}

// requireCatalog makes sure a snapshot exists, refreshing when the store is
// empty or stale.
func (a *app) requireCatalog(ctx context.Context) error {
	if _, err := a.catalog.Snapshot(); err == nil {
		if _, err := a.catalog.Refresh(ctx, false); err != nil {
			// A stale-but-usable catalog beats a failed build.
			log.WithError(err).Warn("Catalog refresh failed, continuing with the loaded snapshot")
		}
		return nil
	}
	fmt.Println("No card catalog yet, downloading bulk data (this can take a while)...")
	if _, err := a.catalog.Refresh(ctx, false); err != nil {
		return fmt.Errorf("initial catalog refresh: %w", err)
	}
	return nil
}
