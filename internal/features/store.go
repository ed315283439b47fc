// Package features aggregates per-sample embeddings produced by an
// upstream model into an id-keyed feature store.
package features

import (
	"sort"

	"github.com/reideval/reid-eval/internal/pkg/errors"
)

// Store maps sample identifiers to embeddings. It is filled by an
// Aggregator and read-only afterwards.
type Store struct {
	vectors map[string][]float64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{vectors: make(map[string][]float64)}
}

// put stores v under id, replacing any previous embedding.
func (s *Store) put(id string, v []float64) {
	s.vectors[id] = v
}

// Len returns the number of distinct identifiers.
func (s *Store) Len() int {
	return len(s.vectors)
}

// Get returns the embedding stored under id.
func (s *Store) Get(id string) ([]float64, bool) {
	v, ok := s.vectors[id]
	return v, ok
}

// IDs returns every identifier in sorted order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns the embeddings of names in the given order. An unknown
// name means the descriptors and the features disagree and is reported as
// an input-contract violation.
func (s *Store) Lookup(names []string) ([][]float64, error) {
	out := make([][]float64, len(names))
	for i, name := range names {
		v, ok := s.vectors[name]
		if !ok {
			return nil, errors.ContractError("no embedding for sample %q", name)
		}
		out[i] = v
	}
	return out, nil
}
