package builder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrNoOutput signals that a deck has no rendered output on disk.
var ErrNoOutput = errors.New("deck has no rendered output")

const saveDocName = "deck.json"

// OutputStore persists rendered decks, one directory per deck holding the
// save document and its sheet images. Writes replace the deck's directory
// atomically, so readers never see a half-written deck.
type OutputStore struct {
	root string
}

// OutputInfo describes a written deck.
type OutputInfo struct {
	Dir        string
	SaveDoc    string
	SheetPaths []string
}

// NewOutputStore creates a store rooted at dir.
func NewOutputStore(dir string) (*OutputStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output root %s: %w", dir, err)
	}
	return &OutputStore{root: dir}, nil
}

// Dir returns the output directory for a deck.
func (o *OutputStore) Dir(deckID uuid.UUID) string {
	return filepath.Join(o.root, deckID.String())
}

// SheetName returns the file name of the nth sheet image.
func SheetName(index int) string {
	return fmt.Sprintf("sheet_%d.jpg", index+1)
}

// Write stores a deck's save document and sheet images. The files land in
// a staging directory first; the final rename swaps out any previous
// render in one step.
func (o *OutputStore) Write(deckID uuid.UUID, saveDoc []byte, sheetImages [][]byte, onSheet func(done, total int)) (OutputInfo, error) {
	finalDir := o.Dir(deckID)
	stagingDir, err := os.MkdirTemp(o.root, "."+deckID.String()+".*")
	if err != nil {
		return OutputInfo{}, fmt.Errorf("creating staging directory for deck %s: %w", deckID, err)
	}
	defer os.RemoveAll(stagingDir)

	info := OutputInfo{Dir: finalDir, SaveDoc: filepath.Join(finalDir, saveDocName)}
	for i, img := range sheetImages {
		name := SheetName(i)
		if err := os.WriteFile(filepath.Join(stagingDir, name), img, 0o644); err != nil {
			return OutputInfo{}, fmt.Errorf("writing sheet %d for deck %s: %w", i+1, deckID, err)
		}
		info.SheetPaths = append(info.SheetPaths, filepath.Join(finalDir, name))
		if onSheet != nil {
			onSheet(i+1, len(sheetImages))
		}
	}
	if err := os.WriteFile(filepath.Join(stagingDir, saveDocName), saveDoc, 0o644); err != nil {
		return OutputInfo{}, fmt.Errorf("writing save document for deck %s: %w", deckID, err)
	}

	if err := os.RemoveAll(finalDir); err != nil {
		return OutputInfo{}, fmt.Errorf("removing previous render of deck %s: %w", deckID, err)
	}
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return OutputInfo{}, fmt.Errorf("activating render of deck %s: %w", deckID, err)
	}
	log.Debugf("Wrote deck %s: %d sheets plus save document", deckID, len(sheetImages))
	return info, nil
}

// ReadSaveDoc returns the stored save document for a deck.
func (o *OutputStore) ReadSaveDoc(deckID uuid.UUID) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(o.Dir(deckID), saveDocName))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoOutput, deckID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading save document for deck %s: %w", deckID, err)
	}
	return data, nil
}

// Remove deletes a deck's rendered output. Missing output is not an error.
func (o *OutputStore) Remove(deckID uuid.UUID) error {
	if err := os.RemoveAll(o.Dir(deckID)); err != nil {
		return fmt.Errorf("removing output of deck %s: %w", deckID, err)
	}
	return nil
}
