package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/menumap/internal/catalog"
)

// SyncStats reports what a Sync changed.
type SyncStats struct {
	Added     int
	Unchanged int
	Removed   int
}

// Indexer keeps a VectorStore in step with the catalog.
type Indexer struct {
	embedder TextEmbedder
	store    VectorStore
	logger   *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(embedder TextEmbedder, store VectorStore) *Indexer {
	return &Indexer{embedder: embedder, store: store, logger: slog.Default()}
}

// Sync embeds catalog documents that are missing or whose text or embedding
// model changed, and removes vectors for items no longer in the catalog.
// With rebuild set the store is emptied first.
func (ix *Indexer) Sync(ctx context.Context, c *catalog.Catalog, rebuild bool) (SyncStats, error) {
	var stats SyncStats

	if rebuild {
		if err := ix.store.Reset(ctx); err != nil {
			return stats, fmt.Errorf("resetting vector store: %w", err)
		}
	}

	existing, err := ix.store.ExportAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing indexed records: %w", err)
	}
	indexed := make(map[string]Record, len(existing))
	for _, r := range existing {
		indexed[r.ID] = r
	}

	model := ix.embedder.Model()
	want := make(map[string]bool)
	var pending []catalog.Document
	for _, d := range c.Documents() {
		id := RecordID(d.ItemID)
		want[id] = true
		if r, ok := indexed[id]; ok && r.Text == d.Text && (r.Model == "" || r.Model == model) {
			stats.Unchanged++
			continue
		}
		pending = append(pending, d)
	}

	var stale []string
	for id := range indexed {
		if !want[id] {
			stale = append(stale, id)
		}
	}
	if err := ix.store.Delete(ctx, stale); err != nil {
		return stats, fmt.Errorf("removing stale vectors: %w", err)
	}
	stats.Removed = len(stale)

	if len(pending) > 0 {
		texts := make([]string, len(pending))
		for i, d := range pending {
			texts[i] = d.Text
		}
		ix.logger.Info("embedding catalog documents", "count", len(texts), "model", model)
		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return stats, fmt.Errorf("embedding catalog: %w", err)
		}

		now := time.Now().UTC()
		records := make([]Record, len(pending))
		for i, d := range pending {
			records[i] = Record{
				ID:        RecordID(d.ItemID),
				ItemID:    d.ItemID,
				Text:      d.Text,
				Embedding: vecs[i],
				Model:     model,
				CreatedAt: now,
			}
		}
		if err := ix.store.Insert(ctx, records); err != nil {
			return stats, fmt.Errorf("inserting vectors: %w", err)
		}
		stats.Added = len(records)
	}

	ix.logger.Info("vector index synced", "added", stats.Added, "unchanged", stats.Unchanged, "removed", stats.Removed)
	return stats, nil
}
