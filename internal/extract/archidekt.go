package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"ttsdeck/internal/deck"
)

// ArchidektExtractor loads decks from archidekt.com deck URLs via the
// site's JSON API.
type ArchidektExtractor struct {
	// BaseURL overrides the API host, for tests.
	BaseURL    string
	HttpClient *http.Client
}

// NewArchidektExtractor creates an extractor against the public API.
func NewArchidektExtractor(httpClient *http.Client) *ArchidektExtractor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ArchidektExtractor{BaseURL: "https://archidekt.com", HttpClient: httpClient}
}

func (e *ArchidektExtractor) Name() string { return "Archidekt" }

// Match accepts https://archidekt.com/decks/<id>[/slug] URLs, with or
// without the www prefix.
func (e *ArchidektExtractor) Match(source string) bool {
	_, ok := e.deckID(source)
	return ok
}

func (e *ArchidektExtractor) deckID(source string) (int64, bool) {
	u, err := url.Parse(source)
	if err != nil {
		return 0, false
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if host != "archidekt.com" {
		return 0, false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || segments[0] != "decks" {
		return 0, false
	}
	id, err := strconv.ParseInt(segments[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type archidektResponse struct {
	ID         int64                  `json:"id"`
	Name       string                 `json:"name"`
	Cards      []archidektCardWrapper `json:"cards"`
	Categories []archidektCategory    `json:"categories"`
}

type archidektCardWrapper struct {
	Card       archidektCard `json:"card"`
	Quantity   int           `json:"quantity"`
	Categories []string      `json:"categories"`
}

type archidektCard struct {
	UID        string              `json:"uid"`
	OracleCard archidektOracleCard `json:"oracleCard"`
	Edition    archidektEdition    `json:"edition"`
}

type archidektOracleCard struct {
	Name string `json:"name"`
}

type archidektEdition struct {
	EditionCode string `json:"editioncode"`
}

type archidektCategory struct {
	Name           string `json:"name"`
	IncludedInDeck bool   `json:"includedInDeck"`
}

// Extract fetches the deck's JSON and maps its categories onto piles: the
// Commander category becomes the commander pile, categories excluded from
// the deck become the sideboard, everything else is the main deck.
func (e *ArchidektExtractor) Extract(ctx context.Context, source string) (deck.Decklist, error) {
	id, ok := e.deckID(source)
	if !ok {
		return deck.Decklist{}, fmt.Errorf("%w: not an archidekt deck URL: %s", ErrUnparsableSource, source)
	}

	apiURL := fmt.Sprintf("%s/api/decks/%d/small/", e.BaseURL, id)
	log.Debugf("Fetching Archidekt deck %d from %s", id, apiURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return deck.Decklist{}, fmt.Errorf("creating archidekt request: %w", err)
	}
	resp, err := e.HttpClient.Do(req)
	if err != nil {
		return deck.Decklist{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return deck.Decklist{}, fmt.Errorf("%w: archidekt returned status %d for deck %d",
			ErrSourceUnavailable, resp.StatusCode, id)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return deck.Decklist{}, fmt.Errorf("%w: reading archidekt response: %v", ErrSourceUnavailable, err)
	}

	var parsed archidektResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return deck.Decklist{}, fmt.Errorf("%w: parsing archidekt deck %d: %v", ErrUnparsableSource, id, err)
	}
	if parsed.ID != id {
		return deck.Decklist{}, fmt.Errorf("%w: archidekt returned deck %d, wanted %d",
			ErrUnparsableSource, parsed.ID, id)
	}

	excluded := make(map[string]bool, len(parsed.Categories))
	for _, cat := range parsed.Categories {
		if !cat.IncludedInDeck {
			excluded[cat.Name] = true
		}
	}

	list := deck.Decklist{Title: parsed.Name}
	for _, wrapper := range parsed.Cards {
		if wrapper.Card.OracleCard.Name == "" {
			return deck.Decklist{}, fmt.Errorf("%w: archidekt deck %d contains a card without a name",
				ErrUnparsableSource, id)
		}
		pile := deck.PileMain
		for _, catName := range wrapper.Categories {
			if catName == "Commander" {
				pile = deck.PileCommander
				break
			}
			if excluded[catName] {
				pile = deck.PileSideboard
			}
		}
		qty := wrapper.Quantity
		if pile == deck.PileCommander {
			qty = 1
		}
		list.Entries = append(list.Entries, deck.RawEntry{
			Name:     wrapper.Card.OracleCard.Name,
			SetCode:  strings.ToLower(wrapper.Card.Edition.EditionCode),
			Quantity: qty,
			Pile:     pile,
		})
	}
	if len(list.Entries) == 0 {
		return deck.Decklist{}, fmt.Errorf("%w: archidekt deck %d has no cards", ErrUnparsableSource, id)
	}
	return list, nil
}
