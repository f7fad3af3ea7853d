// Package prompts reads selection prompt templates from a CSV file keyed by
// prompt_id, so prompt variants can be benchmarked without a rebuild.
package prompts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrPromptFileNotFound is returned when the prompt CSV does not exist.
	ErrPromptFileNotFound = errors.New("prompt file not found")
	// ErrPromptNotFound is returned when no row carries the requested id.
	ErrPromptNotFound = errors.New("prompt not found")
)

// Load returns the prompt text stored under promptID in the CSV at path.
func Load(path string, promptID int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrPromptFileNotFound, path)
		}
		return "", fmt.Errorf("opening prompt file: %w", err)
	}
	defer f.Close()

	return Read(f, promptID)
}

// Read is Load over an arbitrary reader. The first row must be a header with
// at least the columns prompt_id and prompt, in any order.
func Read(r io.Reader, promptID int) (string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: empty prompt file", ErrPromptNotFound)
		}
		return "", fmt.Errorf("reading prompt header: %w", err)
	}

	idCol, promptCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case "prompt_id":
			idCol = i
		case "prompt":
			promptCol = i
		}
	}
	if idCol < 0 || promptCol < 0 {
		return "", fmt.Errorf("prompt file header %v lacks prompt_id or prompt column", header)
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading prompt file: %w", err)
		}
		if idCol >= len(rec) || promptCol >= len(rec) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(rec[idCol]))
		if err != nil {
			return "", fmt.Errorf("invalid prompt_id %q: %w", rec[idCol], err)
		}
		if id == promptID {
			return rec[promptCol], nil
		}
	}
	return "", fmt.Errorf("%w: prompt_id %d", ErrPromptNotFound, promptID)
}
