// Package extract turns external deck sources (site URLs, plain text
// lists) into normalized decklists.
package extract

import (
	"context"
	"errors"
	"fmt"

	"ttsdeck/internal/deck"
)

var (
	// ErrNoExtractor means no registered extractor recognizes the input.
	ErrNoExtractor = errors.New("no extractor matches the deck source")
	// ErrSourceUnavailable means the upstream site could not be reached
	// or did not return the deck.
	ErrSourceUnavailable = errors.New("deck source unavailable")
	// ErrUnparsableSource means the source responded but its payload
	// could not be understood.
	ErrUnparsableSource = errors.New("deck source unparsable")
)

// Extractor recognizes and parses one kind of deck source.
type Extractor interface {
	// Name identifies the extractor in logs and error messages.
	Name() string
	// Match reports whether this extractor can handle the given source.
	Match(source string) bool
	// Extract fetches and parses the source into a decklist.
	Extract(ctx context.Context, source string) (deck.Decklist, error)
}

// Find walks the registered extractors in order and returns the first
// match. Registration order matters: specific URL matchers come before
// the plain-text fallback.
func Find(extractors []Extractor, source string) (Extractor, error) {
	for _, e := range extractors {
		if e.Match(source) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoExtractor, truncate(source, 80))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
