package id

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDGenerator_NewID(t *testing.T) {
	g := NewUUIDGenerator()
	a, err := g.NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	b, err := g.NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("id is not a uuid: %v", err)
	}
}

func TestRandomCodeGenerator_UsesUnambiguousAlphabet(t *testing.T) {
	g := NewRandomCodeGenerator(0)
	for i := 0; i < 200; i++ {
		code, err := g.NewCode()
		if err != nil {
			t.Fatalf("new code: %v", err)
		}
		if len(code) != DefaultCodeLength {
			t.Fatalf("unexpected code length %d", len(code))
		}
		if !IsCode(code) {
			t.Fatalf("code %q contains characters outside the alphabet", code)
		}
	}
	if IsCode("AB0CDE") {
		t.Fatalf("expected 0 to be rejected")
	}
}
