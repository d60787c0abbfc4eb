package deck

import (
	"fmt"

	"ttsdeck/internal/catalog"
)

// Resolve turns the raw lines of a decklist into concrete printings using
// the given catalog snapshot. It is pure: the same snapshot and input
// always produce the same output, in input order.
//
// Duplicate name+pile lines are merged into the first occurrence. The
// commander pile allows exactly one copy of each card. The first card that
// cannot be resolved fails the whole call.
func Resolve(snap *catalog.Snapshot, raws []RawEntry) ([]Entry, error) {
	type key struct {
		name string
		pile Pile
	}
	merged := make(map[key]int)
	entries := make([]Entry, 0, len(raws))

	for _, raw := range raws {
		if raw.Name == "" {
			return nil, fmt.Errorf("decklist contains an entry without a card name")
		}
		pile := raw.Pile
		if pile == "" {
			pile = PileMain
		}
		if !pile.Valid() {
			return nil, fmt.Errorf("decklist entry %q has unknown pile %q", raw.Name, raw.Pile)
		}
		qty := raw.Quantity
		if qty < 1 {
			return nil, &PileError{Name: raw.Name, Pile: pile,
				Reason: fmt.Sprintf("quantity must be at least 1, got %d", raw.Quantity)}
		}

		cat, err := snap.LookupByNameAndSet(raw.Name, raw.SetCode)
		if err != nil {
			return nil, &UnresolvedCardError{Name: raw.Name, Err: err}
		}

		k := key{name: cat.Name, pile: pile}
		if idx, ok := merged[k]; ok {
			entries[idx].Quantity += qty
			continue
		}
		merged[k] = len(entries)

		faces := make([]AssetRef, cat.Faces)
		for i := range faces {
			faces[i] = AssetRef{CardID: cat.ID, Face: i}
		}
		entries = append(entries, Entry{
			CardID:      cat.ID,
			Name:        cat.Name,
			Quantity:    qty,
			Pile:        pile,
			Faces:       faces,
			Description: cat.Description(),
		})
	}

	for _, e := range entries {
		if e.Pile == PileCommander && e.Quantity != 1 {
			return nil, &PileError{Name: e.Name, Pile: e.Pile,
				Reason: fmt.Sprintf("commanders are single copies, got %d", e.Quantity)}
		}
	}
	return entries, nil
}
