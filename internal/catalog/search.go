package catalog

import (
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const indexBatchSize = 1000

// SearchIndex is a full-text index over card names and rules text. It is
// rebuilt after each catalog refresh and only serves interactive search;
// deck resolution never depends on it.
type SearchIndex struct {
	mu    sync.RWMutex
	path  string
	index bleve.Index
}

// SearchResult is one hit from a catalog search.
type SearchResult struct {
	CardID string
	Name   string
	Score  float64
}

type searchDoc struct {
	Name       string `json:"name"`
	SetCode    string `json:"set_code"`
	TypeLine   string `json:"type_line"`
	OracleText string `json:"oracle_text"`
}

// OpenSearchIndex opens the index at path, creating it when missing.
func OpenSearchIndex(path string) (*SearchIndex, error) {
	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening search index %s: %w", path, err)
	}
	return &SearchIndex{path: path, index: index}, nil
}

// Rebuild replaces the index contents with the given entries. The old index
// keeps serving queries until the new one is ready.
func (s *SearchIndex) Rebuild(entries []*Entry) error {
	tmpPath := s.path + ".rebuild"
	if err := os.RemoveAll(tmpPath); err != nil {
		return fmt.Errorf("clearing stale rebuild index: %w", err)
	}
	fresh, err := bleve.New(tmpPath, bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("creating rebuild index: %w", err)
	}

	batch := fresh.NewBatch()
	for i, e := range entries {
		doc := searchDoc{
			Name:       e.Name,
			SetCode:    e.SetCode,
			TypeLine:   e.TypeLine,
			OracleText: e.OracleText,
		}
		if err := batch.Index(e.ID.String(), doc); err != nil {
			fresh.Close()
			return fmt.Errorf("indexing card %s: %w", e.ID, err)
		}
		if (i+1)%indexBatchSize == 0 {
			if err := fresh.Batch(batch); err != nil {
				fresh.Close()
				return fmt.Errorf("writing index batch: %w", err)
			}
			batch = fresh.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := fresh.Batch(batch); err != nil {
			fresh.Close()
			return fmt.Errorf("writing final index batch: %w", err)
		}
	}

	// The handle holds the directory path it was opened with, so it must
	// close before the rename and reopen at the final location.
	if err := fresh.Close(); err != nil {
		return fmt.Errorf("closing rebuilt index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil {
		s.index.Close()
		s.index = nil
	}
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("removing old search index: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("activating rebuilt search index: %w", err)
	}
	reopened, err := bleve.Open(s.path)
	if err != nil {
		return fmt.Errorf("reopening rebuilt search index: %w", err)
	}
	s.index = reopened
	log.Debugf("Search index rebuilt with %d cards", len(entries))
	return nil
}

// Search runs a query string against the index and returns up to limit hits.
func (s *SearchIndex) Search(query string, limit int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil {
		return nil, fmt.Errorf("search index is closed")
	}

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	req.Fields = []string{"name"}
	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching catalog for %q: %w", query, err)
	}

	results := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := SearchResult{CardID: hit.ID, Score: hit.Score}
		if name, ok := hit.Fields["name"].(string); ok {
			r.Name = name
		}
		results = append(results, r)
	}
	return results, nil
}

// Close releases the underlying index.
func (s *SearchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	return err
}
