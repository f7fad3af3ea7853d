package retrieval

import (
	"context"
	"testing"

	"github.com/kalambet/menumap/internal/catalog"
)

func TestIndexerSync_AddsThenSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	emb := &fakeEmbedder{model: "text-embedding-3-small"}
	ix := NewIndexer(emb, store)

	c := catalog.New([]catalog.MenuItem{
		{ID: 1, Name: "Masala Dosa", Usage: 10},
		{ID: 2, Name: "Paneer Tikka", Usage: 5},
	})

	stats, err := ix.Sync(ctx, c, false)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Added != 2 || stats.Unchanged != 0 || stats.Removed != 0 {
		t.Errorf("first sync stats = %+v", stats)
	}

	emb.calls = 0
	stats, err = ix.Sync(ctx, c, false)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if stats.Added != 0 || stats.Unchanged != 2 {
		t.Errorf("second sync stats = %+v", stats)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times on unchanged catalog", emb.calls)
	}
}

func TestIndexerSync_RenamedAndRemoved(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ix := NewIndexer(&fakeEmbedder{model: "m"}, store)

	before := catalog.New([]catalog.MenuItem{
		{ID: 1, Name: "Masla Dosa"},
		{ID: 2, Name: "Paneer Tikka"},
		{ID: 3, Name: "Veg Biryani"},
	})
	if _, err := ix.Sync(ctx, before, false); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	after := catalog.New([]catalog.MenuItem{
		{ID: 1, Name: "Masala Dosa"},
		{ID: 2, Name: "Paneer Tikka"},
	})
	stats, err := ix.Sync(ctx, after, false)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Added != 1 || stats.Unchanged != 1 || stats.Removed != 1 {
		t.Errorf("stats = %+v, want 1 added, 1 unchanged, 1 removed", stats)
	}

	all, err := store.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(all) != 2 || all[0].Text != "1,masala dosa" {
		t.Errorf("index = %+v", all)
	}
}

func TestIndexerSync_ModelChangeReembeds(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	c := catalog.New([]catalog.MenuItem{{ID: 1, Name: "Masala Dosa"}})

	if _, err := NewIndexer(&fakeEmbedder{model: "old"}, store).Sync(ctx, c, false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	stats, err := NewIndexer(&fakeEmbedder{model: "new"}, store).Sync(ctx, c, false)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Added != 1 {
		t.Errorf("Added = %d, want 1 after model change", stats.Added)
	}
}

func TestIndexerSync_Rebuild(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	emb := &fakeEmbedder{model: "m"}
	ix := NewIndexer(emb, store)
	c := catalog.New([]catalog.MenuItem{{ID: 1, Name: "Masala Dosa"}, {ID: 2, Name: "Rava Idli"}})

	if _, err := ix.Sync(ctx, c, false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	stats, err := ix.Sync(ctx, c, true)
	if err != nil {
		t.Fatalf("rebuild Sync: %v", err)
	}
	if stats.Added != 2 || stats.Unchanged != 0 {
		t.Errorf("rebuild stats = %+v", stats)
	}
	if n, _ := store.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}
