package controller

import (
	"context"
	"testing"

	"github.com/cncjs/cnc-core/internal/dialect/grbl"
)

func newRegisteredController(t *testing.T, ident string) *Controller {
	t.Helper()
	tr := &fakeTransport{}
	c := New(ident, grbl.Dialect(), tr, Options{})
	c.Open(context.Background(), func(err error) {
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRegistryAddRejectsDuplicateIdent(t *testing.T) {
	r := NewRegistry()
	c1 := newRegisteredController(t, "dup")
	c2 := newRegisteredController(t, "dup")
	if err := r.Add(c1); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := r.Add(c2); err == nil {
		t.Fatal("expected the second Add with the same ident to fail")
	}
}

func TestRegistryGetAndRemove(t *testing.T) {
	r := NewRegistry()
	c := newRegisteredController(t, "ident-1")
	if err := r.Add(c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, ok := r.Get("ident-1")
	if !ok || got != c {
		t.Fatalf("Get returned (%v, %v), want (%v, true)", got, ok, c)
	}
	r.Remove("ident-1")
	if _, ok := r.Get("ident-1"); ok {
		t.Fatal("expected Get to report not-found after Remove")
	}
}

func TestRegistryIdentsAndLen(t *testing.T) {
	r := NewRegistry()
	c1 := newRegisteredController(t, "a")
	c2 := newRegisteredController(t, "b")
	if err := r.Add(c1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(c2); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	idents := r.Idents()
	if len(idents) != 2 {
		t.Fatalf("Idents() = %v, want 2 entries", idents)
	}
}
