package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsdeck/internal/deck"
)

func TestFindPrefersEarlierExtractors(t *testing.T) {
	extractors := []Extractor{
		NewArchidektExtractor(nil),
		&TextListExtractor{},
	}

	e, err := Find(extractors, "https://archidekt.com/decks/12345/some-deck")
	require.NoError(t, err)
	assert.Equal(t, "Archidekt", e.Name())

	e, err = Find(extractors, "4 Lightning Bolt\n2 Counterspell")
	require.NoError(t, err)
	assert.Equal(t, "Text list", e.Name())

	_, err = Find(extractors, "https://example.com/not-a-deck")
	assert.ErrorIs(t, err, ErrNoExtractor)
}

func TestArchidektMatch(t *testing.T) {
	e := NewArchidektExtractor(nil)

	assert.True(t, e.Match("https://archidekt.com/decks/12345"))
	assert.True(t, e.Match("https://www.archidekt.com/decks/12345/my-deck"))
	assert.False(t, e.Match("https://archidekt.com/search"))
	assert.False(t, e.Match("https://tappedout.net/mtg-decks/x"))
	assert.False(t, e.Match("4 Lightning Bolt"))
}

func TestArchidektExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/decks/12345/small/", r.URL.Path)
		w.Write([]byte(`{
			"id": 12345,
			"name": "Atraxa Superfriends",
			"cards": [
				{"card": {"uid": "a", "oracleCard": {"name": "Atraxa, Praetors' Voice"}, "edition": {"editioncode": "C16"}}, "quantity": 1, "categories": ["Commander"]},
				{"card": {"uid": "b", "oracleCard": {"name": "Lightning Bolt"}, "edition": {"editioncode": "M11"}}, "quantity": 4, "categories": []},
				{"card": {"uid": "c", "oracleCard": {"name": "Counterspell"}, "edition": {"editioncode": "LEA"}}, "quantity": 2, "categories": ["Maybeboard"]}
			],
			"categories": [
				{"name": "Commander", "includedInDeck": true},
				{"name": "Maybeboard", "includedInDeck": false}
			]
		}`))
	}))
	defer server.Close()

	e := NewArchidektExtractor(server.Client())
	e.BaseURL = server.URL

	list, err := e.Extract(context.Background(), "https://archidekt.com/decks/12345/atraxa")
	require.NoError(t, err)
	assert.Equal(t, "Atraxa Superfriends", list.Title)
	require.Len(t, list.Entries, 3)

	assert.Equal(t, deck.PileCommander, list.Entries[0].Pile)
	assert.Equal(t, 1, list.Entries[0].Quantity)
	assert.Equal(t, "c16", list.Entries[0].SetCode)

	assert.Equal(t, deck.PileMain, list.Entries[1].Pile)
	assert.Equal(t, 4, list.Entries[1].Quantity)

	assert.Equal(t, deck.PileSideboard, list.Entries[2].Pile, "excluded categories land in the sideboard")
}

func TestArchidektExtractWrongDeckID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 999, "name": "Wrong", "cards": [{"card": {"oracleCard": {"name": "X"}}, "quantity": 1}]}`))
	}))
	defer server.Close()

	e := NewArchidektExtractor(server.Client())
	e.BaseURL = server.URL

	_, err := e.Extract(context.Background(), "https://archidekt.com/decks/12345")
	assert.ErrorIs(t, err, ErrUnparsableSource)
}

func TestArchidektExtractServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := NewArchidektExtractor(server.Client())
	e.BaseURL = server.URL

	_, err := e.Extract(context.Background(), "https://archidekt.com/decks/12345")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestTextListExtract(t *testing.T) {
	e := &TextListExtractor{Title: "Burn"}

	list, err := e.Extract(context.Background(), `
# My burn list
4 Lightning Bolt [M11]
4x Lava Spike
Goblin Guide

// Sideboard
2 Smash to Smithereens

Commander:
1 Torbran, Thane of Red Fell
`)
	require.NoError(t, err)
	assert.Equal(t, "Burn", list.Title)
	require.Len(t, list.Entries, 5)

	assert.Equal(t, deck.RawEntry{Name: "Lightning Bolt", SetCode: "m11", Quantity: 4, Pile: deck.PileMain}, list.Entries[0])
	assert.Equal(t, deck.RawEntry{Name: "Lava Spike", Quantity: 4, Pile: deck.PileMain}, list.Entries[1])
	assert.Equal(t, deck.RawEntry{Name: "Goblin Guide", Quantity: 1, Pile: deck.PileMain}, list.Entries[2])
	assert.Equal(t, deck.PileSideboard, list.Entries[3].Pile)
	assert.Equal(t, deck.PileCommander, list.Entries[4].Pile)
}

func TestTextListExtractEmpty(t *testing.T) {
	e := &TextListExtractor{}
	_, err := e.Extract(context.Background(), "# only a comment\n\n")
	assert.ErrorIs(t, err, ErrUnparsableSource)
}

func TestTextListMatch(t *testing.T) {
	e := &TextListExtractor{}
	assert.True(t, e.Match("4 Lightning Bolt"))
	assert.False(t, e.Match("https://archidekt.com/decks/12345"))
	assert.False(t, e.Match("   "))
}
