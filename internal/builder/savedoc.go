package builder

import (
	"encoding/json"
	"fmt"
	"time"

	"ttsdeck/internal/deck"
	"ttsdeck/internal/pages"
)

// Tabletop Simulator save document types. Field names follow the save
// format, not Go conventions.

type ttsTransform struct {
	PosX   float64 `json:"posX"`
	PosY   float64 `json:"posY"`
	PosZ   float64 `json:"posZ"`
	RotX   float64 `json:"rotX"`
	RotY   float64 `json:"rotY"`
	RotZ   float64 `json:"rotZ"`
	ScaleX float64 `json:"scaleX"`
	ScaleY float64 `json:"scaleY"`
	ScaleZ float64 `json:"scaleZ"`
}

type ttsColor struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

type ttsCustomDeck struct {
	FaceURL   string `json:"FaceURL"`
	BackURL   string `json:"BackURL"`
	NumWidth  int    `json:"NumWidth"`
	NumHeight int    `json:"NumHeight"`
}

type ttsCard struct {
	Name         string                   `json:"Name"`
	CardID       int                      `json:"CardID"`
	Nickname     string                   `json:"Nickname"`
	Description  string                   `json:"Description,omitempty"`
	ColorDiffuse ttsColor                 `json:"ColorDiffuse"`
	CustomDeck   map[string]ttsCustomDeck `json:"CustomDeck"`
	Transform    ttsTransform             `json:"Transform"`
}

type ttsObjectState struct {
	Name             string                   `json:"Name"`
	Nickname         string                   `json:"Nickname"`
	Description      string                   `json:"Description,omitempty"`
	ColorDiffuse     ttsColor                 `json:"ColorDiffuse"`
	CustomDeck       map[string]ttsCustomDeck `json:"CustomDeck"`
	Grid             bool                     `json:"Grid"`
	Locked           bool                     `json:"Locked"`
	Snap             bool                     `json:"Snap"`
	Transform        ttsTransform             `json:"Transform"`
	CardID           int                      `json:"CardID,omitempty"`
	DeckIDs          []int                    `json:"DeckIDs,omitempty"`
	ContainedObjects []ttsCard                `json:"ContainedObjects,omitempty"`
}

type ttsSave struct {
	ObjectStates []ttsObjectState `json:"ObjectStates"`
}

func baseTransform() ttsTransform {
	return ttsTransform{RotY: 180, ScaleX: 1, ScaleY: 1, ScaleZ: 1}
}

func white() ttsColor { return ttsColor{R: 1, G: 1, B: 1} }

// cardSlotID maps a sheet index and slot to a save document card ID. The
// hundreds digit selects the sheet (1-based), the remainder the slot.
func cardSlotID(sheetIndex, slot int) int {
	return 100*(sheetIndex+1) + slot
}

// BuildSaveDoc assembles the save document for a rendered deck. Each pile
// becomes one object: commanders face up, everything else face down. Sheet
// URLs must parallel the sheets slice.
func BuildSaveDoc(title string, entries []deck.Entry, sheets []pages.Sheet, sheetURLs []string, backURL string) ([]byte, error) {
	if len(sheetURLs) != len(sheets) {
		return nil, fmt.Errorf("have %d sheets but %d sheet URLs", len(sheets), len(sheetURLs))
	}

	slotFor := make(map[deck.AssetRef]int)
	sheetFor := make(map[deck.AssetRef]int)
	for i, sheet := range sheets {
		for ref, slot := range sheet.Slots {
			slotFor[ref] = slot
			sheetFor[ref] = i
		}
	}

	customDecks := make([]ttsCustomDeck, len(sheets))
	for i, sheet := range sheets {
		customDecks[i] = ttsCustomDeck{
			FaceURL:   sheetURLs[i],
			BackURL:   backURL,
			NumWidth:  sheet.Columns,
			NumHeight: sheet.Rows,
		}
	}

	var states []ttsObjectState
	pileOrder := []deck.Pile{deck.PileCommander, deck.PileMain, deck.PileSideboard}
	position := 0
	for _, pile := range pileOrder {
		type stackCard struct {
			entry deck.Entry
			id    int
		}
		var cards []stackCard
		for _, e := range entries {
			if e.Pile != pile {
				continue
			}
			// Stacks hold front faces; backs live on the sheets for
			// flipping in place.
			front := e.Faces[0]
			sheetIdx, ok := sheetFor[front]
			if !ok {
				return nil, fmt.Errorf("face %s of %q is not on any sheet", front, e.Name)
			}
			id := cardSlotID(sheetIdx, slotFor[front])
			for q := 0; q < e.Quantity; q++ {
				cards = append(cards, stackCard{entry: e, id: id})
			}
		}
		if len(cards) == 0 {
			continue
		}

		// Each stack only references the sheets its cards sit on.
		usedSheets := make(map[string]ttsCustomDeck)
		for _, c := range cards {
			key := fmt.Sprintf("%d", c.id/100)
			usedSheets[key] = customDecks[c.id/100-1]
		}

		transform := baseTransform()
		transform.PosX = 3 * float64(position)
		if pile != deck.PileCommander {
			transform.RotZ = 180 // face down
		}
		position++

		state := ttsObjectState{
			ColorDiffuse: white(),
			CustomDeck:   usedSheets,
			Grid:         true,
			Snap:         true,
			Transform:    transform,
		}

		if len(cards) == 1 {
			state.Name = "Card"
			state.Nickname = cards[0].entry.Name
			state.Description = cards[0].entry.Description
			state.CardID = cards[0].id
		} else {
			state.Name = "Deck"
			state.Nickname = title
			state.Description = fmt.Sprintf("Generated at %s", time.Now().UTC().Format(time.RFC1123))
			for _, c := range cards {
				state.DeckIDs = append(state.DeckIDs, c.id)
				state.ContainedObjects = append(state.ContainedObjects, ttsCard{
					Name:         "Card",
					CardID:       c.id,
					Nickname:     c.entry.Name,
					Description:  c.entry.Description,
					ColorDiffuse: white(),
					CustomDeck:   usedSheets,
					Transform:    baseTransform(),
				})
			}
		}
		states = append(states, state)
	}
	if len(states) == 0 {
		return nil, fmt.Errorf("deck %q has no piles to save", title)
	}

	return json.MarshalIndent(ttsSave{ObjectStates: states}, "", "  ")
}
