package deck

import (
	"fmt"

	"github.com/google/uuid"
)

// Pile is the logical grouping of a deck's cards.
type Pile string

const (
	PileMain      Pile = "main"
	PileSideboard Pile = "sideboard"
	PileCommander Pile = "commander"
)

// Valid reports whether p is one of the known piles.
func (p Pile) Valid() bool {
	switch p {
	case PileMain, PileSideboard, PileCommander:
		return true
	}
	return false
}

// RawEntry is one normalized line of a decklist as produced by an
// extractor: a card name, an optional set code, a quantity and a pile.
type RawEntry struct {
	Name     string
	SetCode  string
	Quantity int
	Pile     Pile
}

// Decklist is the full output of an extractor: a title plus an ordered
// list of raw entries.
type Decklist struct {
	Title   string
	Entries []RawEntry
}

// AssetRef is the content address of a single card-face image.
type AssetRef struct {
	CardID uuid.UUID
	Face   int
}

func (r AssetRef) String() string {
	return fmt.Sprintf("%s/%d", r.CardID, r.Face)
}

// Entry is a resolved decklist line: a concrete printing with its face
// image references. Immutable once produced by Resolve.
type Entry struct {
	CardID      uuid.UUID
	Name        string
	Quantity    int
	Pile        Pile
	Faces       []AssetRef
	Description string
}

// UnresolvedCardError reports a card name that the catalog could not
// resolve. It fails the whole resolution: a deck silently missing cards
// would render an incorrect physical object.
type UnresolvedCardError struct {
	Name string
	Err  error
}

func (e *UnresolvedCardError) Error() string {
	return fmt.Sprintf("card %q could not be resolved", e.Name)
}

func (e *UnresolvedCardError) Unwrap() error { return e.Err }

// PileError reports a raw entry that violates a pile invariant, such as a
// commander with more than one copy.
type PileError struct {
	Name   string
	Pile   Pile
	Reason string
}

func (e *PileError) Error() string {
	return fmt.Sprintf("card %q in pile %q: %s", e.Name, e.Pile, e.Reason)
}

// DistinctFaces returns the deduplicated face references of a resolved
// deck, in discovery order. This order determines slot assignment in the
// rendered sheets and must be stable across repeated resolutions.
func DistinctFaces(entries []Entry) []AssetRef {
	seen := make(map[AssetRef]struct{}, len(entries))
	refs := make([]AssetRef, 0, len(entries))
	for _, entry := range entries {
		for _, ref := range entry.Faces {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs
}
