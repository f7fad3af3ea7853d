package retrieval

import (
	"context"
	"fmt"
)

// Candidate is a catalog item retrieved for a query.
type Candidate struct {
	ItemID int     `json:"item_id"`
	Text   string  `json:"text"`
	Score  float32 `json:"score"`
}

// Retriever combines embedding and vector search to find catalog candidates.
type Retriever struct {
	embedder TextEmbedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given embedder and VectorStore.
func NewRetriever(embedder TextEmbedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns the top-K most similar candidates,
// best first.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]Candidate, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	out := make([]Candidate, len(scored))
	for i, s := range scored {
		out[i] = Candidate{ItemID: s.ItemID, Text: s.Text, Score: s.Score}
	}
	return out, nil
}
