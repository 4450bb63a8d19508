package sml

import "testing"

func TestBoxSplitRoundTrip(t *testing.T) {
	g := NewGenerator("T")
	g.PublicOpen([]byte("c"), []byte("1"), []byte("sid"), nil, nil)
	g.PublicClose()
	boxed := g.Boxing()

	content, consumed, err := SplitBox(boxed)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(boxed) {
		t.Fatalf("consumed %d, want %d", consumed, len(boxed))
	}
	if len(content) == 0 {
		t.Fatal("expected non-empty content")
	}
}

func TestSplitBoxIncomplete(t *testing.T) {
	g := NewGenerator("T")
	g.PublicClose()
	boxed := g.Boxing()

	_, consumed, err := SplitBox(boxed[:len(boxed)-1])
	if err != nil {
		t.Fatalf("unexpected error on incomplete box: %v", err)
	}
	if consumed != 0 {
		t.Fatalf("expected consumed=0 for incomplete box, got %d", consumed)
	}
}

func TestFileIDGeneratorMonotonic(t *testing.T) {
	g := NewFileIDGenerator(0)
	a := string(g.Next())
	b := string(g.Next())
	if a == b {
		t.Fatalf("expected distinct file ids, got %q twice", a)
	}
	if a != "1" || b != "2" {
		t.Fatalf("got %q, %q, want 1, 2", a, b)
	}
}
