package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VectorStore is the interface for vector storage and similarity search
// backends. SQLiteStore keeps vectors next to the rest of the data;
// ChromaStore delegates to a Chroma server.
type VectorStore interface {
	// Insert adds or replaces records.
	Insert(ctx context.Context, records []Record) error

	// Search returns the topK records most similar to vector, best first.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// Delete removes records by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// ExportAll returns every stored record. Embeddings may be omitted by
	// backends that do not return them cheaply.
	ExportAll(ctx context.Context) ([]Record, error)

	// Reset removes every record.
	Reset(ctx context.Context) error
}

// Record is one indexed catalog document.
type Record struct {
	ID        string
	ItemID    int
	Text      string
	Embedding []float32
	Model     string
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

const recordPrefix = "item-"

// RecordID returns the vector record ID for a catalog item.
func RecordID(itemID int) string {
	return recordPrefix + strconv.Itoa(itemID)
}

// ItemIDFromRecord parses a record ID produced by RecordID.
func ItemIDFromRecord(id string) (int, error) {
	s, ok := strings.CutPrefix(id, recordPrefix)
	if !ok {
		return 0, fmt.Errorf("record id %q has no %q prefix", id, recordPrefix)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("record id %q: %w", id, err)
	}
	return n, nil
}
