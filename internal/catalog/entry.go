package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Entry is one card printing from a catalog snapshot. Entries are
// immutable: a refresh replaces the whole snapshot, never individual
// entries.
type Entry struct {
	ID              uuid.UUID
	OracleID        uuid.UUID
	Name            string
	SetCode         string
	ReleasedAt      string // YYYY-MM-DD
	CollectorNumber string
	Faces           int
	ManaCost        string
	TypeLine        string
	OracleText      string
	RawJSON         []byte
}

// Description builds the card text shown on the tabletop object: mana
// cost, type line and rules text separated by blank lines, skipping
// whichever parts the card lacks.
func (e *Entry) Description() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{e.ManaCost, e.TypeLine, e.OracleText} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// cardJSON is the subset of the upstream card object the catalog needs.
type cardJSON struct {
	ID              string            `json:"id"`
	OracleID        string            `json:"oracle_id"`
	Name            string            `json:"name"`
	Set             string            `json:"set"`
	ReleasedAt      string            `json:"released_at"`
	CollectorNumber string            `json:"collector_number"`
	Lang            string            `json:"lang"`
	ManaCost        string            `json:"mana_cost"`
	TypeLine        string            `json:"type_line"`
	OracleText      string            `json:"oracle_text"`
	ImageURIs       map[string]string `json:"image_uris"`
	CardFaces       []cardFaceJSON    `json:"card_faces"`
}

type cardFaceJSON struct {
	Name       string            `json:"name"`
	ManaCost   string            `json:"mana_cost"`
	TypeLine   string            `json:"type_line"`
	OracleText string            `json:"oracle_text"`
	ImageURIs  map[string]string `json:"image_uris"`
}

// ParseEntry converts one raw upstream card object into an Entry.
// Returns ok=false for cards the catalog deliberately excludes
// (non-English printings); any structural problem is an error.
func ParseEntry(raw []byte) (*Entry, bool, error) {
	var card cardJSON
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, false, fmt.Errorf("parsing card object: %w", err)
	}
	if card.ID == "" {
		return nil, false, fmt.Errorf("card object missing \"id\" field")
	}
	if card.Name == "" {
		return nil, false, fmt.Errorf("card object %s missing \"name\" field", card.ID)
	}
	if card.Lang != "" && card.Lang != "en" {
		return nil, false, nil
	}

	id, err := uuid.Parse(card.ID)
	if err != nil {
		return nil, false, fmt.Errorf("card object \"id\" is not a UUID: %w", err)
	}
	var oracleID uuid.UUID
	if card.OracleID != "" {
		oracleID, err = uuid.Parse(card.OracleID)
		if err != nil {
			return nil, false, fmt.Errorf("card %s \"oracle_id\" is not a UUID: %w", card.ID, err)
		}
	}

	entry := &Entry{
		ID:              id,
		OracleID:        oracleID,
		Name:            card.Name,
		SetCode:         strings.ToLower(card.Set),
		ReleasedAt:      card.ReleasedAt,
		CollectorNumber: card.CollectorNumber,
		Faces:           1,
		ManaCost:        card.ManaCost,
		TypeLine:        card.TypeLine,
		OracleText:      card.OracleText,
		RawJSON:         raw,
	}

	// Double-faced cards carry per-face image URIs and no top-level one.
	if len(card.CardFaces) >= 2 && len(card.ImageURIs) == 0 {
		entry.Faces = len(card.CardFaces)
	}
	// Multi-face cards keep their text on the faces rather than the top level.
	if len(card.CardFaces) > 0 && entry.ManaCost == "" && entry.OracleText == "" {
		costs := make([]string, 0, len(card.CardFaces))
		texts := make([]string, 0, len(card.CardFaces))
		for _, face := range card.CardFaces {
			if face.ManaCost != "" {
				costs = append(costs, face.ManaCost)
			}
			if face.OracleText != "" {
				texts = append(texts, face.OracleText)
			}
		}
		entry.ManaCost = strings.Join(costs, " // ")
		entry.OracleText = strings.Join(texts, "\n//\n")
		if entry.TypeLine == "" {
			lines := make([]string, 0, len(card.CardFaces))
			for _, face := range card.CardFaces {
				if face.TypeLine != "" {
					lines = append(lines, face.TypeLine)
				}
			}
			entry.TypeLine = strings.Join(lines, " // ")
		}
	}

	return entry, true, nil
}

// moreRecent reports whether a is a strictly better "latest printing"
// choice than b: later release date first, then lower collector number,
// then lower card ID so the ordering is total and deterministic.
func moreRecent(a, b *Entry) bool {
	if a.ReleasedAt != b.ReleasedAt {
		return a.ReleasedAt > b.ReleasedAt
	}
	an, aerr := strconv.Atoi(a.CollectorNumber)
	bn, berr := strconv.Atoi(b.CollectorNumber)
	if aerr == nil && berr == nil && an != bn {
		return an < bn
	}
	if a.CollectorNumber != b.CollectorNumber {
		return a.CollectorNumber < b.CollectorNumber
	}
	return a.ID.String() < b.ID.String()
}
