package mapper

import (
	"testing"

	"github.com/kalambet/menumap/internal/catalog"
)

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.MenuItem{
		{ID: 1, Name: "Paneer Butter Masala", Usage: 50},
		{ID: 2, Name: "Butter Chicken", Usage: 120},
		{ID: 3, Name: "Dal Makhani", Usage: 80},
		{ID: 4, Name: "Jeera Rice", Usage: 10},
	})
}

func TestProcessResponse_FilterAndSort(t *testing.T) {
	raw := "```json\n[" +
		`{"id": 4, "name": "jeera rice", "relevance_score": 0.9},` +
		`{"id": 2, "name": "butter chicken", "relevance_score": 0.9},` +
		`{"id": 1, "name": "paneer butter masala", "relevance_score": 0.95},` +
		`{"id": 3, "name": "dal makhani", "relevance_score": 0.4}` +
		"]\n```"

	out := ProcessResponse(raw, testCatalog(), DefaultThreshold)
	if out.ParseError || out.Hallucinated {
		t.Fatalf("unexpected flags: %+v", out)
	}
	want := []QueryResult{
		{ID: 1, Name: "Paneer Butter Masala", Usage: 50, RelevanceScore: 0.95},
		{ID: 2, Name: "Butter Chicken", Usage: 120, RelevanceScore: 0.9},
		{ID: 4, Name: "Jeera Rice", Usage: 10, RelevanceScore: 0.9},
	}
	if len(out.Matches) != len(want) {
		t.Fatalf("got %d matches, want %d: %+v", len(out.Matches), len(want), out.Matches)
	}
	for i := range want {
		if out.Matches[i] != want[i] {
			t.Errorf("match[%d] = %+v, want %+v", i, out.Matches[i], want[i])
		}
	}
}

func TestProcessResponse_ThresholdInclusive(t *testing.T) {
	out := ProcessResponse(`[{"id": 3, "name": "dal", "relevance_score": 0.6}]`, testCatalog(), 0.6)
	if len(out.Matches) != 1 || out.Matches[0].ID != 3 {
		t.Errorf("matches = %+v, want item 3", out.Matches)
	}
}

func TestProcessResponse_Hallucination(t *testing.T) {
	raw := `[{"id": 1, "name": "paneer butter masala", "relevance_score": 0.9},
	         {"id": 999, "name": "Paneer Lababdar", "relevance_score": 0.8}]`

	out := ProcessResponse(raw, testCatalog(), DefaultThreshold)
	if !out.Hallucinated {
		t.Fatal("expected Hallucinated")
	}
	want := QueryResult{ID: UnmappedID, Name: "Paneer Lababdar", Usage: 0, RelevanceScore: 0.8}
	if len(out.Matches) != 1 || out.Matches[0] != want {
		t.Errorf("matches = %+v, want [%+v]", out.Matches, want)
	}
}

func TestProcessResponse_UnknownIDBelowThresholdIgnored(t *testing.T) {
	raw := `[{"id": 999, "name": "ghost", "relevance_score": 0.2},
	         {"id": 2, "name": "butter chicken", "relevance_score": 0.7}]`
	out := ProcessResponse(raw, testCatalog(), DefaultThreshold)
	if out.Hallucinated {
		t.Fatal("low-scoring unknown id must not trigger hallucination handling")
	}
	if len(out.Matches) != 1 || out.Matches[0].ID != 2 {
		t.Errorf("matches = %+v", out.Matches)
	}
}

func TestProcessResponse_ParseError(t *testing.T) {
	for _, raw := range []string{"", "I could not find a match.", `{"id": 1}`, `[{"id": null}]`} {
		out := ProcessResponse(raw, testCatalog(), DefaultThreshold)
		if !out.ParseError {
			t.Errorf("%q: expected ParseError", raw)
			continue
		}
		want := QueryResult{ID: UnmappedID, Name: "error parsing response"}
		if len(out.Matches) != 1 || out.Matches[0] != want {
			t.Errorf("%q: matches = %+v", raw, out.Matches)
		}
	}
}

func TestProcessResponse_StringIDs(t *testing.T) {
	out := ProcessResponse(`[{"id": "3", "name": "dal makhani", "relevance_score": 0.85}]`, testCatalog(), DefaultThreshold)
	if out.ParseError || len(out.Matches) != 1 || out.Matches[0].ID != 3 {
		t.Errorf("out = %+v", out)
	}
}

func TestProcessResponse_FloatIDs(t *testing.T) {
	out := ProcessResponse(`[{"id": 3.0, "name": "dal makhani", "relevance_score": 0.85}, {"id": "1.0", "name": "x", "relevance_score": 0.7}]`, testCatalog(), DefaultThreshold)
	if out.ParseError || len(out.Matches) != 2 {
		t.Fatalf("out = %+v", out)
	}
	if out.Matches[0].ID != 3 || out.Matches[1].ID != 1 {
		t.Errorf("ids = %d, %d; want 3, 1", out.Matches[0].ID, out.Matches[1].ID)
	}

	out = ProcessResponse(`[{"id": 3.5, "name": "dal makhani", "relevance_score": 0.85}]`, testCatalog(), DefaultThreshold)
	if !out.ParseError {
		t.Errorf("fractional id should be a parse error, got %+v", out)
	}
}

func TestProcessResponse_EmptyArray(t *testing.T) {
	out := ProcessResponse(`[]`, testCatalog(), DefaultThreshold)
	if out.ParseError || len(out.Matches) != 0 {
		t.Errorf("out = %+v", out)
	}
	if string(MarshalMatches(out.Matches)) != "[]" {
		t.Errorf("MarshalMatches = %s", MarshalMatches(out.Matches))
	}
	if string(MarshalMatches(nil)) != "[]" {
		t.Errorf("MarshalMatches(nil) = %s", MarshalMatches(nil))
	}
}
