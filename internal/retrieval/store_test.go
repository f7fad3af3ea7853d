package retrieval

import (
	"context"
	"testing"

	"github.com/kalambet/menumap/internal/storage"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSQLiteStore(st.DB())
}

// unit returns a 3-d vector pointing mostly along axis i.
func unit(i int) []float32 {
	v := []float32{0.01, 0.01, 0.01}
	v[i] = 1
	return v
}

func rec(itemID int, text string, vec []float32) Record {
	return Record{ID: RecordID(itemID), ItemID: itemID, Text: text, Embedding: vec, Model: "m"}
}

func TestInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.Insert(ctx, []Record{
		rec(1, "1,masala dosa", unit(0)),
		rec(2, "2,paneer tikka", unit(1)),
		rec(3, "3,veg biryani", unit(2)),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, []float32{0.9, 0.2, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ItemID != 1 || results[1].ItemID != 2 {
		t.Errorf("order = %d, %d, want 1, 2", results[0].ItemID, results[1].ItemID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %v, %v", results[0].Score, results[1].Score)
	}
	if results[0].Text != "1,masala dosa" || len(results[0].Embedding) != 3 {
		t.Errorf("record not fully fetched: %+v", results[0].Record)
	}
}

func TestInsert_ReplacesSameID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Insert(ctx, []Record{rec(1, "1,masla dosa", unit(0))}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, []Record{rec(1, "1,masala dosa", unit(1))}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	all, err := s.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(all) != 1 || all[0].Text != "1,masala dosa" {
		t.Errorf("ExportAll = %+v", all)
	}
}

func TestSearch_EmptyTable(t *testing.T) {
	s := openTestStore(t)

	results, err := s.Search(context.Background(), unit(0), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestSearch_TopKZero(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.Insert(ctx, []Record{rec(1, "1,idli", unit(0))}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, unit(0), 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("got %v, want nil", results)
	}
}

func TestSearch_ZeroQueryVector(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.Insert(ctx, []Record{rec(1, "1,idli", unit(0))}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, []float32{0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("got %v, want nil", results)
	}
}

func TestDeleteCountReset(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Insert(ctx, []Record{
		rec(1, "1,a", unit(0)),
		rec(2, "2,b", unit(1)),
		rec(3, "3,c", unit(2)),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.Delete(ctx, []string{RecordID(2), "item-999"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}

	if err := s.Delete(ctx, nil); err != nil {
		t.Errorf("Delete(nil): %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count after Reset = %d, want 0", n)
	}
}

func TestExportAll_OrderedByItem(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Insert(ctx, []Record{rec(9, "9,x", unit(0)), rec(4, "4,y", unit(1))}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	all, err := s.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(all) != 2 || all[0].ItemID != 4 || all[1].ItemID != 9 {
		t.Errorf("ExportAll = %+v", all)
	}
	if all[0].Model != "m" || all[0].CreatedAt.IsZero() {
		t.Errorf("metadata not stored: %+v", all[0])
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-7}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestRecordID(t *testing.T) {
	id := RecordID(720466)
	if id != "item-720466" {
		t.Errorf("RecordID = %q", id)
	}
	n, err := ItemIDFromRecord(id)
	if err != nil || n != 720466 {
		t.Errorf("ItemIDFromRecord(%q) = %d, %v", id, n, err)
	}
	if _, err := ItemIDFromRecord("doc-1"); err == nil {
		t.Error("expected error for foreign prefix")
	}
	if _, err := ItemIDFromRecord("item-x"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestVectorStoreInterface(t *testing.T) {
	var _ VectorStore = (*SQLiteStore)(nil)
	var _ VectorStore = (*ChromaStore)(nil)
}
