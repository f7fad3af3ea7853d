//go:build integration

package retrieval

import (
	"context"
	"os"
	"testing"

	"github.com/kalambet/menumap/internal/catalog"
	"github.com/kalambet/menumap/internal/engine"
)

// These tests need a running Ollama with nomic-embed-text pulled, and for the
// Chroma test a Chroma server on MENUMAP_TEST_CHROMA_URL.

func ollamaEmbedder(t *testing.T) *Embedder {
	t.Helper()
	eng := engine.NewOllamaEngine("http://localhost:11434")
	if !eng.IsRunning(context.Background()) {
		t.Skip("Ollama is not running, skipping integration test")
	}
	return NewEmbedder(eng, "nomic-embed-text")
}

func sampleCatalog() *catalog.Catalog {
	return catalog.New([]catalog.MenuItem{
		{ID: 1, Name: "Masala Dosa", Usage: 300},
		{ID: 2, Name: "Paneer Butter Masala", Usage: 120},
		{ID: 3, Name: "Chicken Biryani", Usage: 450},
		{ID: 4, Name: "Filter Coffee", Usage: 800},
	})
}

func TestIntegration_SQLiteRetrieve(t *testing.T) {
	ctx := context.Background()
	emb := ollamaEmbedder(t)
	store := openTestStore(t)

	if _, err := NewIndexer(emb, store).Sync(ctx, sampleCatalog(), false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got, err := NewRetriever(emb, store).Retrieve(ctx, "panner butter masla", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) == 0 || got[0].ItemID != 2 {
		t.Errorf("top candidate = %+v, want item 2", got)
	}
}

func TestIntegration_ChromaRetrieve(t *testing.T) {
	url := os.Getenv("MENUMAP_TEST_CHROMA_URL")
	if url == "" {
		t.Skip("MENUMAP_TEST_CHROMA_URL not set")
	}
	ctx := context.Background()
	emb := ollamaEmbedder(t)

	store, err := NewChromaStore(ctx, url, "menumap_test")
	if err != nil {
		t.Fatalf("NewChromaStore: %v", err)
	}
	defer store.Close()

	if _, err := NewIndexer(emb, store).Sync(ctx, sampleCatalog(), true); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got, err := NewRetriever(emb, store).Retrieve(ctx, "chiken biriyani", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) == 0 || got[0].ItemID != 3 {
		t.Errorf("top candidate = %+v, want item 3", got)
	}
}
