package auditlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w := NewWriter(filepath.Join(t.TempDir(), "output"))
	w.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	return w
}

func TestAppend_WritesHeaderOnce(t *testing.T) {
	w := newTestWriter(t)

	for _, in := range []string{"veg biryani", "masala dosa"} {
		if err := w.Append(Entry{UserInput: in, Corrected: in, VectorTokens: "1,x,0.9\n", Response: "[]"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if filepath.Base(w.Path()) != "output_2025-03-14.csv" {
		t.Errorf("path = %s", w.Path())
	}
	data, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "User Input, Spell Correction, Vector Tokens, Response\n") {
		t.Errorf("unexpected header line in %q", data)
	}
	if n := strings.Count(string(data), "User Input"); n != 1 {
		t.Errorf("header written %d times", n)
	}
}

func TestAppend_QuotesAndNewlinesRoundTrip(t *testing.T) {
	w := newTestWriter(t)
	e := Entry{
		UserInput:    "chicken 65",
		Corrected:    "chicken 65",
		VectorTokens: "12,chicken 65,0.91\n13,chilli chicken,0.82\n",
		Response:     `[{"id":12,"name":"Chicken 65","usage":40,"relevance_score":0.9}]`,
	}
	if err := w.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.Open(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	got := rows[1]
	if got[2] != e.VectorTokens || got[3] != e.Response {
		t.Errorf("row = %q", got)
	}
}

func TestAppend_Concurrent(t *testing.T) {
	w := newTestWriter(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Append(Entry{UserInput: "x", Response: "[]"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	f, err := os.Open(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 21 {
		t.Errorf("got %d rows, want 21", len(rows))
	}
}
