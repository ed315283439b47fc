package features

import (
	"context"
	"io"
)

// Batch is one chunk of model output: IDs[i] names Embeddings[i].
type Batch struct {
	IDs        []string    `json:"ids"`
	Embeddings [][]float64 `json:"embeddings"`
}

// Size returns the number of identifiers in the batch.
func (b *Batch) Size() int {
	return len(b.IDs)
}

// Source yields batches lazily. Next returns io.EOF after the last batch.
type Source interface {
	Next(ctx context.Context) (*Batch, error)
}

// SliceSource serves batches from memory.
type SliceSource struct {
	batches []*Batch
	pos     int
}

// NewSliceSource creates a source over batches.
func NewSliceSource(batches ...*Batch) *SliceSource {
	return &SliceSource{batches: batches}
}

// Next returns the next batch or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

// Len returns the total number of batches.
func (s *SliceSource) Len() int {
	return len(s.batches)
}

// Batched splits parallel id/embedding slices into batches of size.
func Batched(ids []string, embeddings [][]float64, size int) []*Batch {
	if size <= 0 {
		size = 1
	}

	var batches []*Batch
	for i := 0; i < len(ids); i += size {
		end := min(i+size, len(ids))
		// Clamped so a short embedding list surfaces as a per-batch mismatch
		eEnd := min(end, len(embeddings))
		eStart := min(i, eEnd)
		batches = append(batches, &Batch{
			IDs:        ids[i:end],
			Embeddings: embeddings[eStart:eEnd],
		})
	}
	return batches
}
