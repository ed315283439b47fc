package evaluation

import (
	"cmp"
	"context"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/reideval/reid-eval/internal/distance"
	"github.com/reideval/reid-eval/internal/pkg/errors"
)

// AveragePrecision calculates Average Precision of a ranked relevance list.
func AveragePrecision(relevances []int, threshold int) float64 {
	relevant := 0
	sumPrecision := 0.0

	for i, r := range relevances {
		if r >= threshold {
			relevant++
			sumPrecision += float64(relevant) / float64(i+1)
		}
	}

	if relevant == 0 {
		return 0
	}
	return sumPrecision / float64(relevant)
}

// MAPResult is the mean average precision over the queries that have at
// least one valid match.
type MAPResult struct {
	MeanAP         float64 `json:"mean_ap"`
	ValidQueries   int     `json:"valid_queries"`
	SkippedQueries int     `json:"skipped_queries"`
}

// MeanAP ranks every query like CMC under the "new" protocol (entries
// sharing the query's identity and camera are ignored) and averages the
// per-query average precision.
func MeanAP(ctx context.Context, dist *distance.Matrix, query, gallery []Sample, workers int) (*MAPResult, error) {
	if err := checkInputs(dist, query, gallery); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	// -1 marks a skipped query; summed in query order afterwards so the
	// floating-point result does not depend on scheduling.
	aps := make([]float64, len(query))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for lo, hi := range chunks(len(query), workers) {
		g.Go(func() error {
			order := make([]int, len(gallery))
			relevances := make([]int, 0, len(gallery))
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				aps[i] = queryAP(dist.Row(i), query[i], gallery, order, relevances)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		sum   float64
		valid int
	)
	for _, ap := range aps {
		if ap < 0 {
			continue
		}
		sum += ap
		valid++
	}

	if valid == 0 {
		return nil, errors.EmptyEvaluationError("map", len(query))
	}

	return &MAPResult{
		MeanAP:         sum / float64(valid),
		ValidQueries:   valid,
		SkippedQueries: len(query) - valid,
	}, nil
}

// queryAP returns the average precision of one query, or -1 when it has
// no valid match.
func queryAP(row []float64, q Sample, gallery []Sample, order, relevances []int) float64 {
	for j := range order {
		order[j] = j
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(row[a], row[b])
	})

	relevances = relevances[:0]
	matches := 0
	for _, j := range order {
		g := gallery[j]
		if g.PID == q.PID && g.Cam == q.Cam {
			continue
		}
		rel := 0
		if g.PID == q.PID {
			rel = 1
			matches++
		}
		relevances = append(relevances, rel)
	}

	if matches == 0 {
		return -1
	}
	return AveragePrecision(relevances, 1)
}
