package distance

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/reideval/reid-eval/internal/pkg/errors"
)

// BuilderConfig configures matrix construction.
type BuilderConfig struct {
	// Workers is the number of query blocks multiplied concurrently.
	Workers int

	// BlockRows is the number of query rows per block.
	BlockRows int
}

// roundoff bounds the relative error of the expanded form per embedding
// component: results within roundoff*dim*(||q||^2 + ||g||^2) of zero are
// indistinguishable from zero and are reported as exactly zero.
const roundoff = 4 * 0x1p-52

// DefaultBuilderConfig returns sensible defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Workers:   runtime.NumCPU(),
		BlockRows: 256,
	}
}

// Builder computes squared Euclidean distance matrices in expanded form,
// ||q||^2 + ||g||^2 - 2 q.g, with the cross term from one GEMM per block
// of query rows.
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder creates a builder. Non-positive fields fall back to defaults.
func NewBuilder(cfg BuilderConfig) *Builder {
	def := DefaultBuilderConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BlockRows <= 0 {
		cfg.BlockRows = def.BlockRows
	}
	return &Builder{cfg: cfg}
}

// Build returns the |query| x |gallery| matrix of squared Euclidean
// distances. Every embedding must have the same non-zero length and finite
// components. Cancellation residue below zero is clamped to 0.
func (b *Builder) Build(ctx context.Context, query, gallery [][]float64) (*Matrix, error) {
	if len(query) == 0 {
		return nil, errors.ContractError("query set is empty")
	}
	if len(gallery) == 0 {
		return nil, errors.ContractError("gallery set is empty")
	}

	dim := len(query[0])
	if dim == 0 {
		return nil, errors.ContractError("embeddings must not be empty")
	}

	q, qn, err := pack("query", query, dim)
	if err != nil {
		return nil, err
	}
	g, gn, err := pack("gallery", gallery, dim)
	if err != nil {
		return nil, err
	}

	nq, ng := len(query), len(gallery)
	out := mat.NewDense(nq, ng, nil)
	// gonum sums large products in k-blocks, so the cross term and the
	// norms round differently even for identical vectors
	noise := roundoff * float64(dim)
	gT := g.T()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.cfg.Workers)

	for r0 := 0; r0 < nq; r0 += b.cfg.BlockRows {
		r1 := min(r0+b.cfg.BlockRows, nq)

		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			// Blocks own disjoint output rows
			block := out.Slice(r0, r1, 0, ng).(*mat.Dense)
			block.Mul(q.Slice(r0, r1, 0, dim), gT)

			for i := r0; i < r1; i++ {
				row := out.RawRowView(i)
				for j, cross := range row {
					norms := qn[i] + gn[j]
					d := norms - 2*cross
					if d <= noise*norms {
						d = 0
					}
					row[j] = d
				}
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Matrix{dense: out}, nil
}

// pack copies vectors into a row-major dense matrix and returns their
// squared norms.
func pack(set string, vectors [][]float64, dim int) (*mat.Dense, []float64, error) {
	data := make([]float64, 0, len(vectors)*dim)
	norms := make([]float64, len(vectors))

	for i, v := range vectors {
		if len(v) != dim {
			return nil, nil, errors.ContractError("%s embedding %d has length %d, want %d", set, i, len(v), dim)
		}
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, nil, errors.ContractError("%s embedding %d has a non-finite component", set, i)
			}
		}
		norms[i] = floats.Dot(v, v)
		data = append(data, v...)
	}

	return mat.NewDense(len(vectors), dim, data), norms, nil
}

// SquaredEuclidean returns ||a - b||^2 computed directly. It is the
// reference the expanded form must agree with.
func SquaredEuclidean(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.ContractError("embedding lengths differ: %d vs %d", len(a), len(b))
	}
	diff := make([]float64, len(a))
	floats.SubTo(diff, a, b)
	return floats.Dot(diff, diff), nil
}
