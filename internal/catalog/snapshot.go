package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrCardNotFound = errors.New("card not found in catalog")

// Snapshot is one immutable generation of the card catalog. Lookups never
// block refreshes: a refresh builds a fresh Snapshot and swaps it in whole.
type Snapshot struct {
	Generation int64
	byID       map[uuid.UUID]*Entry
	byName     map[string][]*Entry
}

// NewSnapshot creates an empty snapshot. Callers add all entries before
// publishing it; a published snapshot is never mutated.
func NewSnapshot(generation int64, size int) *Snapshot {
	return &Snapshot{
		Generation: generation,
		byID:       make(map[uuid.UUID]*Entry, size),
		byName:     make(map[string][]*Entry, size),
	}
}

// Add registers an entry. Only valid before the snapshot is published.
func (s *Snapshot) Add(e *Entry) {
	s.byID[e.ID] = e
	key := nameKey(e.Name)
	s.byName[key] = append(s.byName[key], e)
	// Multi-face cards are commonly written by their front face alone
	// ("Delver of Secrets" for "Delver of Secrets // Insectile Aberration").
	if front, _, found := strings.Cut(e.Name, " // "); found {
		frontKey := nameKey(front)
		if frontKey != key {
			s.byName[frontKey] = append(s.byName[frontKey], e)
		}
	}
}

// nameKey normalizes a card name for lookup. Decklists are hand-typed, so
// casing and stray whitespace must not matter.
func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Len returns the number of printings in the snapshot.
func (s *Snapshot) Len() int { return len(s.byID) }

// LookupByID finds the printing with the given card ID.
func (s *Snapshot) LookupByID(id uuid.UUID) (*Entry, error) {
	if e, ok := s.byID[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: id %s", ErrCardNotFound, id)
}

// LookupByNameAndSet finds the best printing for a card name. When setCode
// is given, a printing from that set wins; otherwise (or when no printing
// matches the set) the most recent printing is chosen, so that repeated
// lookups against the same snapshot always return the same entry.
func (s *Snapshot) LookupByNameAndSet(name, setCode string) (*Entry, error) {
	candidates := s.byName[nameKey(name)]
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: name %q", ErrCardNotFound, name)
	}
	setCode = strings.ToLower(setCode)

	var best *Entry
	if setCode != "" {
		for _, e := range candidates {
			if e.SetCode != setCode {
				continue
			}
			if best == nil || moreRecent(e, best) {
				best = e
			}
		}
	}
	if best == nil {
		for _, e := range candidates {
			if best == nil || moreRecent(e, best) {
				best = e
			}
		}
	}
	return best, nil
}
