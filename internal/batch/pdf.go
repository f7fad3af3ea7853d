package batch

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/menumap/internal/normalize"
)

const minItemLength = 4

var (
	// Trailing prices: "₹250", "Rs. 250/-", ".... 250", "   250", "250.00", "250/-".
	// A bare trailing number after one space is kept ("chicken 65").
	trailingPrice = regexp.MustCompile(`(?i)(?:\s*(?:\brs\.?|\binr|₹)\s*\d+(?:[.,]\d{1,2})?(?:\s*/-)?|\s*\.{2,}\s*\d+(?:[.,]\d{1,2})?(?:\s*/-)?|\s{2,}\d+(?:[.,]\d{1,2})?(?:\s*/-)?|\s*\d+[.,]\d{2}|\s*\d+\s*/-)\s*$`)
	leaderDots    = regexp.MustCompile(`\.{2,}`)
	onlyNumeric   = regexp.MustCompile(`^[\d\s.,/\-₹]*$`)
	pageMarker    = regexp.MustCompile(`(?i)^page\s*\d+(\s*of\s*\d+)?$`)
)

// sectionHeadings are menu section titles that never name a dish.
var sectionHeadings = map[string]bool{
	"menu": true, "our menu": true, "starters": true, "appetizers": true,
	"soups": true, "salads": true, "main course": true, "mains": true,
	"breads": true, "indian breads": true, "rice": true, "rice and biryani": true,
	"desserts": true, "beverages": true, "drinks": true, "hot beverages": true,
	"cold beverages": true, "veg": true, "non veg": true, "vegetarian": true,
	"non vegetarian": true, "sides": true, "accompaniments": true, "combos": true,
	"specials": true, "chef specials": true, "breakfast": true, "snacks": true,
}

// ExtractPDFItems pulls candidate menu item names out of a menu PDF. Each
// surviving line becomes a Row with a synthetic id in reading order.
func ExtractPDFItems(r io.ReaderAt, size int64) ([]Row, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("parsing pdf: %w", err)
	}

	var lines []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			slog.Warn("batch: skipping unreadable pdf page", "page", i, "error", err)
			continue
		}
		for _, row := range rows {
			var sb strings.Builder
			for _, word := range row.Content {
				sb.WriteString(word.S)
			}
			lines = append(lines, sb.String())
		}
	}
	return ItemsFromLines(lines), nil
}

// ItemsFromLines filters raw text lines down to probable dish names. Page
// numbers, price-only lines and section headings are dropped, trailing
// prices are cut, and duplicates keep their first occurrence.
func ItemsFromLines(lines []string) []Row {
	seen := make(map[string]bool)
	var rows []Row
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || onlyNumeric.MatchString(line) || pageMarker.MatchString(line) {
			continue
		}
		line = trailingPrice.ReplaceAllString(line, "")
		line = leaderDots.ReplaceAllString(line, " ")

		name := normalize.Input(line)
		if len(name) < minItemLength || sectionHeadings[name] || seen[name] {
			continue
		}
		seen[name] = true
		rows = append(rows, Row{ID: len(rows) + 1, Name: name})
	}
	return rows
}
