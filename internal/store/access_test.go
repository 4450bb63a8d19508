package store

import "testing"

func TestAcquireRejectsNestedWrite(t *testing.T) {
	a := NewAcquirer()
	w1, err := a.Acquire("session", WriteAccess)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Acquire("session", WriteAccess); err != ErrNestedWrite {
		t.Fatalf("expected ErrNestedWrite, got %v", err)
	}
	w1.Release()

	w2, err := a.Acquire("session", WriteAccess)
	if err != nil {
		t.Fatalf("expected acquire to succeed after release: %v", err)
	}
	w2.Release()
}

func TestAcquireRejectsReadUnderWrite(t *testing.T) {
	a := NewAcquirer()
	w, err := a.Acquire("session", WriteAccess)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Acquire("session", ReadAccess); err != ErrNestedReadUnderWrite {
		t.Fatalf("expected ErrNestedReadUnderWrite, got %v", err)
	}
	w.Release()
}

func TestAcquireAllowsConcurrentReads(t *testing.T) {
	a := NewAcquirer()
	r1, err := a.Acquire("target", ReadAccess)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := a.Acquire("target", ReadAccess)
	if err != nil {
		t.Fatalf("expected concurrent reads to be allowed: %v", err)
	}
	r1.Release()
	r2.Release()

	if _, err := a.Acquire("target", WriteAccess); err != nil {
		t.Fatalf("expected write to succeed once all reads released: %v", err)
	}
}

func TestAcquireDifferentTablesIndependent(t *testing.T) {
	a := NewAcquirer()
	w1, err := a.Acquire("session", WriteAccess)
	if err != nil {
		t.Fatal(err)
	}
	w2, err := a.Acquire("target", WriteAccess)
	if err != nil {
		t.Fatalf("expected independent table to acquire cleanly: %v", err)
	}
	w1.Release()
	w2.Release()
}
