package pagination

import "testing"

func TestPageBounds(t *testing.T) {
	p := New(0, 500)
	if p.Number != 1 || p.Size != MaxSize {
		t.Fatalf("unexpected clamp %+v", p)
	}
	if got := (Page{Number: 3, Size: 10}).Offset(); got != 20 {
		t.Fatalf("expected offset 20, got %d", got)
	}
	start, end := Page{Number: 2, Size: 10}.Slice(15)
	if start != 10 || end != 15 {
		t.Fatalf("expected [10,15), got [%d,%d)", start, end)
	}
	start, end = Page{Number: 5, Size: 10}.Slice(15)
	if start != 15 || end != 15 {
		t.Fatalf("expected empty page, got [%d,%d)", start, end)
	}
}
