package evaluation

import (
	"cmp"
	"context"
	"math/rand/v2"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/reideval/reid-eval/internal/distance"
	"github.com/reideval/reid-eval/internal/pkg/errors"
)

// CMCOptions configures a CMC computation.
type CMCOptions struct {
	// TopK is the number of ranks in the curve.
	TopK int `json:"top_k"`

	// NumRepeats is the number of single-gallery-shot trials per query.
	NumRepeats int `json:"num_repeats"`

	// Seed drives single-gallery-shot sampling. Equal seeds give
	// bit-identical curves.
	Seed uint64 `json:"seed"`

	// Workers is the number of goroutines ranking queries.
	Workers int `json:"-"`
}

// DefaultCMCOptions returns sensible defaults.
func DefaultCMCOptions() CMCOptions {
	return CMCOptions{
		TopK:       100,
		NumRepeats: 10,
		Seed:       0,
		Workers:    runtime.NumCPU(),
	}
}

// CMCResult is the curve of one protocol plus its query bookkeeping.
type CMCResult struct {
	Protocol       Protocol `json:"protocol"`
	Curve          Curve    `json:"curve"`
	ValidQueries   int      `json:"valid_queries"`
	SkippedQueries int      `json:"skipped_queries"`
}

// CMC computes the cumulative match curve of dist under protocol. Row i of
// dist belongs to query[i] and column j to gallery[j].
//
// A gallery entry with the query's identity and camera never counts, and
// under camera separation no entry from the query's camera does. Queries
// left without a correct match are skipped. If every query is skipped the
// result is an EMPTY_EVALUATION error rather than an all-zero curve.
func CMC(ctx context.Context, dist *distance.Matrix, query, gallery []Sample, protocol Protocol, opts CMCOptions) (*CMCResult, error) {
	if err := checkInputs(dist, query, gallery); err != nil {
		return nil, err
	}
	if !protocol.Valid() {
		return nil, errors.ContractError("unknown protocol %d", int(protocol))
	}
	if opts.TopK < 1 {
		return nil, errors.ContractError("top_k must be positive, got %d", opts.TopK)
	}
	if opts.NumRepeats < 1 {
		return nil, errors.ContractError("num_repeats must be positive, got %d", opts.NumRepeats)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	trials := 1
	if protocol.SingleGalleryShot() {
		trials = opts.NumRepeats
	}

	// hits[r] counts trials whose first correct match sits at rank r+1.
	// Integer sums make the reduction independent of scheduling.
	hits := make([]int64, opts.TopK)
	var (
		mu    sync.Mutex
		valid int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for lo, hi := range chunks(len(query), workers) {
		g.Go(func() error {
			r := newRanker(dist, query, gallery, protocol, opts, trials)
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				r.rank(i)
			}

			mu.Lock()
			defer mu.Unlock()
			for k, n := range r.hits {
				hits[k] += n
			}
			valid += r.valid
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if valid == 0 {
		return nil, errors.EmptyEvaluationError(protocol.String(), len(query))
	}

	curve := make(Curve, opts.TopK)
	denom := float64(valid * trials)
	var cum int64
	for k, n := range hits {
		cum += n
		curve[k] = float64(cum) / denom
	}

	return &CMCResult{
		Protocol:       protocol,
		Curve:          curve,
		ValidQueries:   valid,
		SkippedQueries: len(query) - valid,
	}, nil
}

func checkInputs(dist *distance.Matrix, query, gallery []Sample) error {
	if dist == nil {
		return errors.ContractError("distance matrix is nil")
	}
	rows, cols := dist.Dims()
	if rows != len(query) {
		return errors.ContractError("distance matrix has %d rows but %d query samples", rows, len(query))
	}
	if cols != len(gallery) {
		return errors.ContractError("distance matrix has %d columns but %d gallery samples", cols, len(gallery))
	}
	if err := validateSamples("query", query); err != nil {
		return err
	}
	return validateSamples("gallery", gallery)
}

// chunks yields contiguous [lo, hi) ranges splitting n items over at most
// parts ranges.
func chunks(n, parts int) func(yield func(int, int) bool) {
	return func(yield func(int, int) bool) {
		if n == 0 {
			return
		}
		parts = max(1, min(parts, n))
		size := (n + parts - 1) / parts
		for lo := 0; lo < n; lo += size {
			if !yield(lo, min(lo+size, n)) {
				return
			}
		}
	}
}

// ranker holds per-worker scratch space and partial sums.
type ranker struct {
	dist     *distance.Matrix
	query    []Sample
	gallery  []Sample
	protocol Protocol
	opts     CMCOptions
	trials   int

	order  []int
	ranked []int
	groups []identityGroup
	index  map[PersonID]int
	picks  []int

	hits  []int64
	valid int
}

// identityGroup lists the ranked positions of one gallery identity.
type identityGroup struct {
	pid       PersonID
	positions []int
}

func newRanker(dist *distance.Matrix, query, gallery []Sample, protocol Protocol, opts CMCOptions, trials int) *ranker {
	return &ranker{
		dist:     dist,
		query:    query,
		gallery:  gallery,
		protocol: protocol,
		opts:     opts,
		trials:   trials,
		order:    make([]int, len(gallery)),
		ranked:   make([]int, 0, len(gallery)),
		index:    make(map[PersonID]int),
		hits:     make([]int64, opts.TopK),
	}
}

// rank scores query i and adds its trials to the partial sums.
func (r *ranker) rank(i int) {
	q := r.query[i]
	row := r.dist.Row(i)

	for j := range r.order {
		r.order[j] = j
	}
	slices.SortStableFunc(r.order, func(a, b int) int {
		return cmp.Compare(row[a], row[b])
	})

	r.ranked = r.ranked[:0]
	first := -1
	for _, j := range r.order {
		g := r.gallery[j]
		if g.PID == q.PID && g.Cam == q.Cam {
			continue
		}
		if r.protocol.SeparateCameraSet() && g.Cam == q.Cam {
			continue
		}
		if first < 0 && g.PID == q.PID {
			first = len(r.ranked)
		}
		r.ranked = append(r.ranked, j)
	}

	if first < 0 {
		return
	}
	r.valid++

	if !r.protocol.SingleGalleryShot() {
		r.record(first)
		return
	}

	r.groupRanked()
	rng := rand.New(rand.NewPCG(r.opts.Seed, uint64(i)))
	for range r.trials {
		r.record(r.sampleTrial(rng, q.PID))
	}
}

// record credits a trial whose first correct match is at 0-based rank pos.
// Every rank from pos on is a hit, with or without first-match break,
// because the curve only asks whether a match has appeared yet.
func (r *ranker) record(pos int) {
	if pos < len(r.hits) {
		r.hits[pos]++
	}
}

// groupRanked groups the ranked gallery by identity, in order of first
// appearance, so sampling consumes the random stream deterministically.
func (r *ranker) groupRanked() {
	clear(r.index)
	r.groups = r.groups[:0]
	for pos, j := range r.ranked {
		pid := r.gallery[j].PID
		gi, ok := r.index[pid]
		if !ok {
			gi = len(r.groups)
			r.index[pid] = gi
			r.groups = append(r.groups, identityGroup{pid: pid})
		}
		r.groups[gi].positions = append(r.groups[gi].positions, pos)
	}
}

// sampleTrial keeps one random instance of every identity and returns the
// rank of the query identity's instance in the reduced gallery.
func (r *ranker) sampleTrial(rng *rand.Rand, pid PersonID) int {
	r.picks = r.picks[:0]
	target := -1
	for _, grp := range r.groups {
		pick := grp.positions[rng.IntN(len(grp.positions))]
		if grp.pid == pid {
			target = pick
		}
		r.picks = append(r.picks, pick)
	}

	rank := 0
	for _, p := range r.picks {
		if p < target {
			rank++
		}
	}
	return rank
}
