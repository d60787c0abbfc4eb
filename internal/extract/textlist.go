package extract

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"ttsdeck/internal/deck"
)

// TextListExtractor parses plain decklists of the form "4 Lightning Bolt"
// or "4x Lightning Bolt [M11]". Section markers ("// Sideboard",
// "Commander:") switch the pile for following lines.
type TextListExtractor struct {
	// Title labels the resulting decklist, since text has no title of
	// its own.
	Title string
}

func (e *TextListExtractor) Name() string { return "Text list" }

// Match accepts anything that is not a URL and has at least one line that
// looks like a deck entry. It is the fallback extractor and must be
// registered last.
func (e *TextListExtractor) Match(source string) bool {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return false
	}
	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	for scanner.Scan() {
		if _, _, _, ok := parseLine(scanner.Text()); ok {
			return true
		}
	}
	return false
}

var lineRe = regexp.MustCompile(`^(\d+)[xX]?\s+(.+?)(?:\s+\[([0-9A-Za-z]{2,6})\])?$`)

// parseLine splits one decklist line into quantity, name and optional set
// code. Lines without a leading count default to a single copy.
func parseLine(line string) (qty int, name, setCode string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
		return 0, "", "", false
	}
	if m := lineRe.FindStringSubmatch(line); m != nil {
		qty, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, "", "", false
		}
		return qty, m[2], strings.ToLower(m[3]), true
	}
	return 1, line, "", true
}

// sectionPile recognizes section markers and returns the pile they open.
func sectionPile(line string) (deck.Pile, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(line))
	cleaned = strings.TrimPrefix(cleaned, "//")
	cleaned = strings.TrimPrefix(cleaned, "#")
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), ":")
	switch cleaned {
	case "main", "maindeck", "main deck", "deck", "mainboard":
		return deck.PileMain, true
	case "sideboard", "side":
		return deck.PileSideboard, true
	case "commander", "commanders":
		return deck.PileCommander, true
	}
	return "", false
}

// Extract parses the text into a decklist. It never performs I/O.
func (e *TextListExtractor) Extract(_ context.Context, source string) (deck.Decklist, error) {
	list := deck.Decklist{Title: e.Title}
	pile := deck.PileMain

	scanner := bufio.NewScanner(strings.NewReader(source))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if p, ok := sectionPile(line); ok {
			pile = p
			continue
		}
		qty, name, setCode, ok := parseLine(line)
		if !ok {
			continue
		}
		if qty < 1 {
			return deck.Decklist{}, fmt.Errorf("%w: line %d: quantity %d for %q",
				ErrUnparsableSource, lineNo, qty, name)
		}
		list.Entries = append(list.Entries, deck.RawEntry{
			Name:     name,
			SetCode:  setCode,
			Quantity: qty,
			Pile:     pile,
		})
	}
	if err := scanner.Err(); err != nil {
		return deck.Decklist{}, fmt.Errorf("%w: scanning deck text: %v", ErrUnparsableSource, err)
	}
	if len(list.Entries) == 0 {
		return deck.Decklist{}, fmt.Errorf("%w: no deck entries found in text", ErrUnparsableSource)
	}
	return list, nil
}
