package features

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	apperrors "github.com/reideval/reid-eval/internal/pkg/errors"
	"github.com/reideval/reid-eval/internal/metrics"
	"github.com/reideval/reid-eval/internal/pkg/logger"
)

// AggregatorConfig configures feature aggregation.
type AggregatorConfig struct {
	// PrintFreq is the number of batches between progress reports.
	PrintFreq int

	// TotalBatches is the expected batch count, used only in progress
	// reports (0 = unknown).
	TotalBatches int
}

// DefaultAggregatorConfig returns sensible defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{PrintFreq: 1}
}

// Progress is a snapshot handed to the progress callback.
type Progress struct {
	Batches      int
	TotalBatches int
	Samples      int64
	BatchTime    metrics.RunningStat
	DataTime     metrics.RunningStat
}

// ProgressFunc observes aggregation progress. It cannot affect results.
type ProgressFunc func(Progress)

// Aggregator merges a stream of batches into a Store.
type Aggregator struct {
	cfg      AggregatorConfig
	log      *logger.Logger
	samples  *metrics.Counter
	progress ProgressFunc
}

// NewAggregator creates an aggregator. log may be nil.
func NewAggregator(cfg AggregatorConfig, log *logger.Logger) *Aggregator {
	if cfg.PrintFreq <= 0 {
		cfg.PrintFreq = DefaultAggregatorConfig().PrintFreq
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Aggregator{cfg: cfg, log: log}
}

// WithCounter counts every aggregated sample on c.
func (a *Aggregator) WithCounter(c *metrics.Counter) *Aggregator {
	a.samples = c
	return a
}

// OnProgress registers fn to receive a snapshot every PrintFreq batches.
func (a *Aggregator) OnProgress(fn ProgressFunc) *Aggregator {
	a.progress = fn
	return a
}

// Aggregate drains src into a new Store. Later embeddings for an id
// replace earlier ones. A batch whose id and embedding counts differ is an
// input-contract violation and aborts aggregation.
func (a *Aggregator) Aggregate(ctx context.Context, src Source) (*Store, error) {
	store := NewStore()
	batchTime := metrics.NewRunningStat()
	dataTime := metrics.NewRunningStat()

	var (
		batches int
		samples int64
	)

	end := time.Now()
	for {
		b, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		dataTime.Update(time.Since(end).Seconds(), 1)

		if len(b.IDs) != len(b.Embeddings) {
			return nil, apperrors.ContractError("batch %d has %d ids but %d embeddings",
				batches+1, len(b.IDs), len(b.Embeddings))
		}

		for i, id := range b.IDs {
			store.put(id, b.Embeddings[i])
		}

		batches++
		samples += int64(b.Size())
		if a.samples != nil {
			a.samples.Add(int64(b.Size()))
		}

		batchTime.Update(time.Since(end).Seconds(), 1)
		end = time.Now()

		if batches%a.cfg.PrintFreq == 0 {
			a.report(Progress{
				Batches:      batches,
				TotalBatches: a.cfg.TotalBatches,
				Samples:      samples,
				BatchTime:    *batchTime,
				DataTime:     *dataTime,
			})
		}
	}

	a.log.Info("Features aggregated",
		"batches", batches,
		"samples", humanize.Comma(samples),
		"unique", humanize.Comma(int64(store.Len())),
	)

	return store, nil
}

func (a *Aggregator) report(p Progress) {
	total := "?"
	if p.TotalBatches > 0 {
		total = humanize.Comma(int64(p.TotalBatches))
	}

	a.log.Debug("Extracting features",
		"batch", humanize.Comma(int64(p.Batches)),
		"of", total,
		"samples", humanize.Comma(p.Samples),
		"time", p.BatchTime.String(),
		"data", p.DataTime.String(),
	)

	if a.progress != nil {
		a.progress(p)
	}
}
