package batch

import (
	"bytes"
	"testing"
)

func TestItemsFromLines(t *testing.T) {
	lines := []string{
		"OUR MENU",
		"Starters",
		"Paneer Tikka ........ 250",
		"Chicken 65",
		"Hara Bhara Kabab   ₹ 180",
		"Veg Manchurian Rs. 160/-",
		"Masala Papad 60.00",
		"120",
		"Page 2 of 4",
		"",
		"Paneer Tikka 260",
		"Tea",
		"Main Course",
		"Kadai Paneer    320",
	}
	got := ItemsFromLines(lines)
	want := []string{
		"paneer tikka",
		"chicken 65",
		"hara bhara kabab",
		"veg manchurian",
		"masala papad",
		"paneer tikka 260",
		"kadai paneer",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d rows %+v, want %d", len(got), got, len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("row[%d].Name = %q, want %q", i, got[i].Name, name)
		}
		if got[i].ID != i+1 {
			t.Errorf("row[%d].ID = %d, want %d", i, got[i].ID, i+1)
		}
	}
}

func TestExtractPDFItems_NotAPDF(t *testing.T) {
	data := []byte("id,name,mv_id,mv_name\n1,dal,2,dal\n")
	if _, err := ExtractPDFItems(bytes.NewReader(data), int64(len(data))); err == nil {
		t.Fatal("expected error for non-PDF input")
	}
}
