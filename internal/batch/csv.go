// Package batch reads bulk uploads of child menu names and maps them in the
// background through the durable job queue.
package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/menumap/internal/normalize"
)

// ErrHeaderMismatch is returned when an upload's header is not exactly the
// expected column set.
var ErrHeaderMismatch = errors.New("csv header mismatch")

// ErrInvalidRow wraps per-row parse failures.
var ErrInvalidRow = errors.New("invalid csv row")

// Columns is the required header set. Order is irrelevant.
var Columns = []string{"id", "name", "mv_id", "mv_name"}

// Row is one child menu item to map, with the expected master item when the
// upload carries one.
type Row struct {
	ID         int    `json:"id" validate:"gte=0"`
	Name       string `json:"name" validate:"required"`
	MasterID   int    `json:"mv_id" validate:"gte=0"`
	MasterName string `json:"mv_name"`
}

var validate = validator.New()

// ReadOptions narrows which rows of an upload are kept.
type ReadOptions struct {
	// AfterID drops rows whose id is <= AfterID. Zero keeps everything.
	AfterID int
	// SampleSize > 0 keeps a random sample of at most that many rows.
	SampleSize int
}

// ReadCSV parses an upload. Names are normalized with normalize.Input; rows
// whose name normalizes to nothing are skipped. The result is sorted by id.
func ReadCSV(r io.Reader, opts ReadOptions) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrHeaderMismatch)
		}
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	col, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%w: line %d has %d fields, want %d", ErrInvalidRow, line, len(rec), len(header))
		}

		row, err := parseRow(rec, col)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidRow, line, err)
		}
		if row.ID <= opts.AfterID && opts.AfterID > 0 {
			continue
		}
		if err := validate.Struct(row); err != nil {
			slog.Debug("batch: skipping row", "line", line, "id", row.ID, "error", err)
			continue
		}
		rows = append(rows, row)
	}

	if opts.SampleSize > 0 && opts.SampleSize < len(rows) {
		rand.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		rows = rows[:opts.SampleSize]
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// headerIndex maps each required column to its position. The header must be
// exactly the set Columns after trimming whitespace.
func headerIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := idx[h]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrHeaderMismatch, h)
		}
		idx[h] = i
	}
	if len(idx) != len(Columns) {
		return nil, fmt.Errorf("%w: got %v, want %v", ErrHeaderMismatch, header, Columns)
	}
	for _, c := range Columns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("%w: got %v, want %v", ErrHeaderMismatch, header, Columns)
		}
	}
	return idx, nil
}

func parseRow(rec []string, col map[string]int) (Row, error) {
	id, err := strconv.Atoi(strings.TrimSpace(rec[col["id"]]))
	if err != nil {
		return Row{}, fmt.Errorf("id %q is not numeric", rec[col["id"]])
	}
	row := Row{
		ID:         id,
		Name:       normalize.Input(rec[col["name"]]),
		MasterName: strings.TrimSpace(rec[col["mv_name"]]),
	}
	if mv := strings.TrimSpace(rec[col["mv_id"]]); mv != "" {
		row.MasterID, err = strconv.Atoi(mv)
		if err != nil {
			return Row{}, fmt.Errorf("mv_id %q is not numeric", mv)
		}
	}
	return row, nil
}
