package batch

import (
	"errors"
	"strings"
	"testing"
)

const upload = `id,name,mv_id,mv_name
720470,Coke 250 ML,55,Coca Cola
720466,Paneer Tikka ADDON,12,Paneer Tikka
9,Veg Biryani,,
720465,Dal Fry,31,Dal Fry
`

func TestReadCSV_SortsAndNormalizes(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(upload), ReadOptions{})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	want := []Row{
		{ID: 9, Name: "veg biryani"},
		{ID: 720465, Name: "dal fry", MasterID: 31, MasterName: "Dal Fry"},
		{ID: 720466, Name: "paneer tikka", MasterID: 12, MasterName: "Paneer Tikka"},
		{ID: 720470, Name: "coke", MasterID: 55, MasterName: "Coca Cola"},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(rows), len(want), rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row[%d] = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestReadCSV_AfterID(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(upload), ReadOptions{AfterID: 720465})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != 720466 || rows[1].ID != 720470 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestReadCSV_Sample(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(upload), ReadOptions{SampleSize: 2})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].ID >= rows[1].ID {
		t.Errorf("sample not sorted: %+v", rows)
	}
}

func TestReadCSV_HeaderOrderAndWhitespace(t *testing.T) {
	in := " mv_name , name,id ,mv_id\nDal Fry,Dal Fry,1,31\n"
	rows, err := ReadCSV(strings.NewReader(in), ReadOptions{})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 1 || rows[0] != (Row{ID: 1, Name: "dal fry", MasterID: 31, MasterName: "Dal Fry"}) {
		t.Errorf("rows = %+v", rows)
	}
}

func TestReadCSV_HeaderMismatch(t *testing.T) {
	cases := []string{
		"id,name,mv_id\n1,a,2\n",
		"id,name,mv_id,mv_name,extra\n1,a,2,b,c\n",
		"id,name,mv_id,master\n1,a,2,b\n",
		"id,name,name,mv_id\n1,a,b,2\n",
		"",
	}
	for _, in := range cases {
		if _, err := ReadCSV(strings.NewReader(in), ReadOptions{}); !errors.Is(err, ErrHeaderMismatch) {
			t.Errorf("%q: err = %v, want ErrHeaderMismatch", in, err)
		}
	}
}

func TestReadCSV_NonNumericID(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("id,name,mv_id,mv_name\nabc,Dal,1,Dal\n"), ReadOptions{})
	if !errors.Is(err, ErrInvalidRow) {
		t.Errorf("err = %v, want ErrInvalidRow", err)
	}
}

func TestReadCSV_SkipsEmptyNames(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader("id,name,mv_id,mv_name\n1,Addon,,\n2,Lassi,,\n3,5_ml,,\n4,coke 300-ml,,\n"), ReadOptions{})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != 2 || rows[1].ID != 4 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[1].Name != "coke" {
		t.Errorf("name = %q, want coke", rows[1].Name)
	}
}
