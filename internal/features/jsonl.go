package features

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	apperrors "github.com/reideval/reid-eval/internal/pkg/errors"
)

// maxLineBytes bounds one encoded batch.
const maxLineBytes = 256 << 20

// JSONLSource decodes one Batch per line of r. Blank lines are skipped.
type JSONLSource struct {
	scanner *bufio.Scanner
	line    int
}

// NewJSONLSource creates a source reading JSON lines from r.
func NewJSONLSource(r io.Reader) *JSONLSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineBytes)
	return &JSONLSource{scanner: scanner}
}

// Next decodes the next batch or returns io.EOF.
func (s *JSONLSource) Next(ctx context.Context) (*Batch, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				if stderrors.Is(err, bufio.ErrTooLong) {
					return nil, apperrors.Wrap(apperrors.CodeContract,
						fmt.Sprintf("features line %d exceeds %d bytes", s.line+1, maxLineBytes), err)
				}
				return nil, fmt.Errorf("reading features line %d: %w", s.line+1, err)
			}
			return nil, io.EOF
		}
		s.line++

		data := s.scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var b Batch
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeContract,
				fmt.Sprintf("decoding features line %d", s.line), err)
		}
		return &b, nil
	}
}

// WriteJSONL encodes batches one per line, the format JSONLSource reads.
func WriteJSONL(w io.Writer, batches []*Batch) error {
	enc := json.NewEncoder(w)
	for _, b := range batches {
		if err := enc.Encode(b); err != nil {
			return err
		}
	}
	return nil
}
