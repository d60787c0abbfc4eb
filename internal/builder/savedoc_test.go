package builder

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsdeck/internal/deck"
	"ttsdeck/internal/pages"
)

func saveDocEntry(n byte, name string, qty int, pile deck.Pile) deck.Entry {
	var id uuid.UUID
	id[15] = n
	return deck.Entry{
		CardID:   id,
		Name:     name,
		Quantity: qty,
		Pile:     pile,
		Faces:    []deck.AssetRef{{CardID: id, Face: 0}},
	}
}

func TestBuildSaveDoc(t *testing.T) {
	bolt := saveDocEntry(1, "Lightning Bolt", 4, deck.PileMain)
	crow := saveDocEntry(2, "Storm Crow", 2, deck.PileMain)
	atraxa := saveDocEntry(3, "Atraxa, Praetors' Voice", 1, deck.PileCommander)

	sheet := pages.Sheet{
		Index:   0,
		Columns: 10,
		Rows:    7,
		Slots: map[deck.AssetRef]int{
			bolt.Faces[0]:   1,
			crow.Faces[0]:   2,
			atraxa.Faces[0]: 3,
		},
	}
	urls := []string{"http://files.example/deck/sheet_1.jpg"}

	raw, err := BuildSaveDoc("Test Deck", []deck.Entry{bolt, crow, atraxa}, []pages.Sheet{sheet}, urls, "http://files.example/back.jpg")
	require.NoError(t, err)

	var doc ttsSave
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.ObjectStates, 2, "commander pile and main pile")

	commander := doc.ObjectStates[0]
	assert.Equal(t, "Card", commander.Name)
	assert.Equal(t, "Atraxa, Praetors' Voice", commander.Nickname)
	assert.Equal(t, 103, commander.CardID, "sheet 1 slot 3")
	assert.Equal(t, float64(0), commander.Transform.RotZ, "commanders sit face up")

	main := doc.ObjectStates[1]
	assert.Equal(t, "Deck", main.Name)
	assert.Equal(t, "Test Deck", main.Nickname)
	assert.Equal(t, float64(180), main.Transform.RotZ, "the main deck sits face down")
	assert.Equal(t, []int{101, 101, 101, 101, 102, 102}, main.DeckIDs, "one ID per physical copy")
	require.Len(t, main.ContainedObjects, 6)
	assert.Equal(t, "Lightning Bolt", main.ContainedObjects[0].Nickname)

	cd, ok := main.CustomDeck["1"]
	require.True(t, ok)
	assert.Equal(t, urls[0], cd.FaceURL)
	assert.Equal(t, "http://files.example/back.jpg", cd.BackURL)
	assert.Equal(t, 10, cd.NumWidth)
	assert.Equal(t, 7, cd.NumHeight)
}

func TestBuildSaveDocMultiSheet(t *testing.T) {
	a := saveDocEntry(1, "Card A", 1, deck.PileMain)
	b := saveDocEntry(2, "Card B", 1, deck.PileMain)

	sheets := []pages.Sheet{
		{Index: 0, Columns: 2, Rows: 2, Slots: map[deck.AssetRef]int{a.Faces[0]: 1}},
		{Index: 1, Columns: 2, Rows: 2, Slots: map[deck.AssetRef]int{b.Faces[0]: 0}},
	}
	urls := []string{"http://f/1.jpg", "http://f/2.jpg"}

	raw, err := BuildSaveDoc("Two Sheets", []deck.Entry{a, b}, sheets, urls, "http://f/back.jpg")
	require.NoError(t, err)

	var doc ttsSave
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.ObjectStates, 1)

	main := doc.ObjectStates[0]
	assert.Equal(t, []int{101, 200}, main.DeckIDs, "second sheet IDs start at 200")
	assert.Contains(t, main.CustomDeck, "1")
	assert.Contains(t, main.CustomDeck, "2")
}

func TestBuildSaveDocURLMismatch(t *testing.T) {
	_, err := BuildSaveDoc("Broken", nil, []pages.Sheet{{}}, nil, "")
	assert.Error(t, err)
}
