package features

import (
	"testing"

	"github.com/reideval/reid-eval/internal/pkg/errors"
)

func TestStore_Lookup(t *testing.T) {
	s := NewStore()
	s.put("b", []float64{2})
	s.put("a", []float64{1})

	got, err := s.Lookup([]string{"b", "a", "b"})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	want := []float64{2, 1, 2}
	for i := range want {
		if got[i][0] != want[i] {
			t.Errorf("Lookup()[%d] = %v, want %v", i, got[i][0], want[i])
		}
	}

	if ids := s.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("IDs() = %v, want [a b]", ids)
	}
}

func TestStore_LookupUnknownID(t *testing.T) {
	s := NewStore()
	s.put("a", []float64{1})

	_, err := s.Lookup([]string{"a", "missing"})
	if !errors.IsContract(err) {
		t.Errorf("Lookup() error = %v, want contract violation", err)
	}
}
