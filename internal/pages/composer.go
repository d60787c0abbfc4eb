// Package pages renders deck sheets: fixed grids of card face images that
// tabletop clients slice back into individual cards.
package pages

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"

	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"ttsdeck/internal/deck"
)

// Card cell dimensions, matching the large upstream image aspect ratio.
const (
	CardWidth  = 672
	CardHeight = 936
)

// CompositionError reports a face image that could not be loaded or
// decoded while rendering sheets.
type CompositionError struct {
	Ref deck.AssetRef
	Err error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composing face %s: %v", e.Ref, e.Err)
}

func (e *CompositionError) Unwrap() error { return e.Err }

// LoadFunc supplies the raw image bytes for one face reference.
type LoadFunc func(deck.AssetRef) ([]byte, error)

// Sheet is one rendered grid image plus the slot each face landed in.
type Sheet struct {
	Index   int
	Columns int
	Rows    int
	// Slots maps each face on this sheet to its grid position,
	// row-major from the top left.
	Slots map[deck.AssetRef]int
	Image *image.RGBA
}

// Capacity returns the number of grid cells per sheet.
func (s *Sheet) Capacity() int { return s.Columns * s.Rows }

// Composer renders face references into sheets of a fixed grid size.
type Composer struct {
	Columns int
	Rows    int
}

// NewComposer creates a composer with the given grid.
func NewComposer(columns, rows int) *Composer {
	return &Composer{Columns: columns, Rows: rows}
}

// SheetCount returns how many sheets n distinct faces need. Slot 0 of the
// first sheet is reserved for the deck's back image, so n faces occupy
// n+1 cells.
func (c *Composer) SheetCount(n int) int {
	capacity := c.Columns * c.Rows
	return (n + 1 + capacity - 1) / capacity
}

// Compose renders the given faces into sheets in order: the back image
// takes slot 0 of sheet 0, faces fill the remaining cells row-major. The
// produced layout depends only on the input order, so the same resolved
// deck always renders identical sheets. onFace, when non-nil, is called
// after each face is placed.
func (c *Composer) Compose(refs []deck.AssetRef, back image.Image, load LoadFunc, onFace func(done, total int)) ([]Sheet, error) {
	capacity := c.Columns * c.Rows
	if capacity < 2 {
		return nil, fmt.Errorf("sheet grid %dx%d cannot hold the back image and a face", c.Columns, c.Rows)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("no faces to compose")
	}

	total := len(refs)
	sheets := make([]Sheet, 0, c.SheetCount(total))
	cell := 1 // cell 0 of sheet 0 belongs to the back image

	newSheet := func(index int) Sheet {
		img := image.NewRGBA(image.Rect(0, 0, c.Columns*CardWidth, c.Rows*CardHeight))
		draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
		return Sheet{
			Index:   index,
			Columns: c.Columns,
			Rows:    c.Rows,
			Slots:   make(map[deck.AssetRef]int),
			Image:   img,
		}
	}

	current := newSheet(0)
	drawInto(current.Image, 0, c.Columns, backOrFallback(back))

	for done, ref := range refs {
		if cell == capacity {
			sheets = append(sheets, current)
			current = newSheet(len(sheets))
			cell = 0
		}

		data, err := load(ref)
		if err != nil {
			return nil, &CompositionError{Ref: ref, Err: err}
		}
		faceImg, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, &CompositionError{Ref: ref, Err: fmt.Errorf("decoding image: %w", err)}
		}

		drawInto(current.Image, cell, c.Columns, faceImg)
		current.Slots[ref] = cell
		cell++

		if onFace != nil {
			onFace(done+1, total)
		}
	}
	sheets = append(sheets, current)

	log.Debugf("Composed %d faces into %d sheets of %dx%d", total, len(sheets), c.Columns, c.Rows)
	return sheets, nil
}

// backOrFallback substitutes a plain dark card for a missing back image.
func backOrFallback(back image.Image) image.Image {
	if back != nil {
		return back
	}
	return image.NewUniform(color.RGBA{R: 30, G: 26, B: 22, A: 255})
}

// drawInto scales src into the given cell, preserving aspect ratio and
// centering within the cell.
func drawInto(dst *image.RGBA, cell, columns int, src image.Image) {
	cellRect := image.Rect(
		(cell%columns)*CardWidth,
		(cell/columns)*CardHeight,
		(cell%columns+1)*CardWidth,
		(cell/columns+1)*CardHeight,
	)

	if u, ok := src.(*image.Uniform); ok {
		draw.Draw(dst, cellRect, u, image.Point{}, draw.Src)
		return
	}
	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return
	}

	scale := min(float64(CardWidth)/float64(sb.Dx()), float64(CardHeight)/float64(sb.Dy()))
	w := int(float64(sb.Dx()) * scale)
	h := int(float64(sb.Dy()) * scale)
	offX := cellRect.Min.X + (CardWidth-w)/2
	offY := cellRect.Min.Y + (CardHeight-h)/2
	target := image.Rect(offX, offY, offX+w, offY+h)

	draw.CatmullRom.Scale(dst, target, src, sb, draw.Src, nil)
}

// EncodeJPEG serializes a sheet image for storage.
func EncodeJPEG(sheet *Sheet, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, sheet.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding sheet %d: %w", sheet.Index, err)
	}
	return buf.Bytes(), nil
}
