package evaluation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/reideval/reid-eval/internal/bus"
	"github.com/reideval/reid-eval/internal/config"
	"github.com/reideval/reid-eval/internal/distance"
	"github.com/reideval/reid-eval/internal/features"
	"github.com/reideval/reid-eval/internal/metrics"
	"github.com/reideval/reid-eval/internal/pkg/errors"
	"github.com/reideval/reid-eval/internal/pkg/logger"
)

// Config configures an Evaluator.
type Config struct {
	CMC       CMCOptions
	Protocols []Protocol
	BlockRows int
	PrintFreq int
	MeanAP    bool
}

// DefaultConfig returns sensible defaults: every protocol plus mAP.
func DefaultConfig() Config {
	return Config{
		CMC:       DefaultCMCOptions(),
		Protocols: Protocols(),
		BlockRows: distance.DefaultBuilderConfig().BlockRows,
		PrintFreq: 1,
		MeanAP:    true,
	}
}

// ConfigFrom maps the application eval settings onto an evaluator Config.
func ConfigFrom(c config.EvalConfig) Config {
	cfg := DefaultConfig()
	cfg.CMC = CMCOptions{
		TopK:       c.TopK,
		NumRepeats: c.NumRepeats,
		Seed:       c.Seed,
		Workers:    c.Workers,
	}
	cfg.BlockRows = c.BlockRows
	cfg.PrintFreq = c.PrintFreq
	return cfg
}

// Report is the outcome of one evaluation run. Results follow the order of
// the configured protocols.
type Report struct {
	ID         string       `json:"id"`
	Timestamp  time.Time    `json:"timestamp"`
	Queries    int          `json:"queries"`
	Gallery    int          `json:"gallery"`
	Options    CMCOptions   `json:"options"`
	Results    []*CMCResult `json:"results"`
	MAP        *MAPResult   `json:"map,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// Curve returns the curve of protocol p.
func (r *Report) Curve(p Protocol) (Curve, bool) {
	for _, res := range r.Results {
		if res.Protocol == p {
			return res.Curve, true
		}
	}
	return nil, false
}

// Curves returns every curve keyed by protocol name.
func (r *Report) Curves() map[string]Curve {
	out := make(map[string]Curve, len(r.Results))
	for _, res := range r.Results {
		out[res.Protocol.String()] = res.Curve
	}
	return out
}

// Score is the top-1 value of the "new" protocol, the single number used
// for model selection. It is 0 when that protocol was not evaluated.
func (r *Report) Score() float64 {
	c, ok := r.Curve(ProtocolNew)
	if !ok {
		return 0
	}
	v, _ := c.At(1)
	return v
}

// Record converts the report into a history record.
func (r *Report) Record() metrics.RunRecord {
	curves := make(map[string][]float64, len(r.Results))
	for _, res := range r.Results {
		curves[res.Protocol.String()] = res.Curve
	}

	rec := metrics.RunRecord{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		Queries:    r.Queries,
		Gallery:    r.Gallery,
		TopK:       r.Options.TopK,
		NumRepeats: r.Options.NumRepeats,
		Seed:       r.Options.Seed,
		Curves:     curves,
		Score:      r.Score(),
		DurationMS: r.DurationMS,
	}
	if r.MAP != nil {
		rec.MeanAP = r.MAP.MeanAP
	}
	return rec
}

// Evaluator runs the full pipeline: feature lookup, distance matrix, one
// CMC curve per protocol and mAP.
type Evaluator struct {
	cfg       Config
	builder   *distance.Builder
	log       *logger.Logger
	metrics   *metrics.Metrics
	publisher bus.Bus
	history   metrics.History
}

// NewEvaluator creates an evaluator. log may be nil.
func NewEvaluator(cfg Config, log *logger.Logger) *Evaluator {
	if len(cfg.Protocols) == 0 {
		cfg.Protocols = Protocols()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Evaluator{
		cfg: cfg,
		builder: distance.NewBuilder(distance.BuilderConfig{
			Workers:   cfg.CMC.Workers,
			BlockRows: cfg.BlockRows,
		}),
		log: log,
	}
}

// WithMetrics records run counters on m.
func (e *Evaluator) WithMetrics(m *metrics.Metrics) *Evaluator {
	e.metrics = m
	return e
}

// WithPublisher publishes an eval.completed event after every run.
func (e *Evaluator) WithPublisher(b bus.Bus) *Evaluator {
	e.publisher = b
	return e
}

// WithHistory stores a record of every run.
func (e *Evaluator) WithHistory(h metrics.History) *Evaluator {
	e.history = h
	return e
}

// History returns the configured run history, or nil.
func (e *Evaluator) History() metrics.History {
	return e.history
}

// Config returns the evaluator configuration.
func (e *Evaluator) Config() Config {
	return e.cfg
}

// WithConfig returns a copy of e sharing its hooks but using cfg.
func (e *Evaluator) WithConfig(cfg Config) *Evaluator {
	c := NewEvaluator(cfg, e.log)
	c.metrics = e.metrics
	c.publisher = e.publisher
	c.history = e.history
	return c
}

// EvaluateSource aggregates src into a feature store and evaluates it.
func (e *Evaluator) EvaluateSource(ctx context.Context, src features.Source, query, gallery []Sample) (*Report, error) {
	agg := features.NewAggregator(features.AggregatorConfig{PrintFreq: e.cfg.PrintFreq}, e.log)
	if e.metrics != nil {
		agg.WithCounter(e.metrics.SamplesAggregated)
	}

	store, err := agg.Aggregate(ctx, src)
	if err != nil {
		e.recordError(err)
		return nil, err
	}
	return e.Evaluate(ctx, store, query, gallery)
}

// Evaluate looks up the embeddings of query and gallery in store and
// evaluates them.
func (e *Evaluator) Evaluate(ctx context.Context, store *features.Store, query, gallery []Sample) (*Report, error) {
	start := time.Now()

	dist, err := e.buildMatrix(ctx, store, query, gallery)
	if err != nil {
		e.recordError(err)
		return nil, err
	}

	return e.evaluate(ctx, start, dist, query, gallery)
}

// EvaluateMatrix evaluates a precomputed distance matrix.
func (e *Evaluator) EvaluateMatrix(ctx context.Context, dist *distance.Matrix, query, gallery []Sample) (*Report, error) {
	return e.evaluate(ctx, time.Now(), dist, query, gallery)
}

func (e *Evaluator) buildMatrix(ctx context.Context, store *features.Store, query, gallery []Sample) (*distance.Matrix, error) {
	if len(query) == 0 || len(gallery) == 0 {
		return nil, errors.EmptyEvaluationError("all", len(query))
	}
	if err := validateSamples("query", query); err != nil {
		return nil, err
	}
	if err := validateSamples("gallery", gallery); err != nil {
		return nil, err
	}

	q, err := store.Lookup(Names(query))
	if err != nil {
		return nil, err
	}
	g, err := store.Lookup(Names(gallery))
	if err != nil {
		return nil, err
	}

	buildStart := time.Now()
	dist, err := e.builder.Build(ctx, q, g)
	if err != nil {
		return nil, err
	}
	e.log.Debug("Distance matrix built",
		"queries", len(query),
		"gallery", len(gallery),
		"duration_ms", time.Since(buildStart).Milliseconds(),
	)
	return dist, nil
}

func (e *Evaluator) evaluate(ctx context.Context, start time.Time, dist *distance.Matrix, query, gallery []Sample) (*Report, error) {
	if len(query) == 0 || len(gallery) == 0 {
		err := errors.EmptyEvaluationError("all", len(query))
		e.recordError(err)
		return nil, err
	}

	report := &Report{
		ID:        uuid.NewString(),
		Timestamp: start.UTC(),
		Queries:   len(query),
		Gallery:   len(gallery),
		Options:   e.cfg.CMC,
	}
	log := e.log.WithRun(report.ID)

	for _, p := range e.cfg.Protocols {
		res, err := CMC(ctx, dist, query, gallery, p, e.cfg.CMC)
		if err != nil {
			log.WithProtocol(p.String()).WithError(err).Warn("CMC evaluation failed")
			e.recordError(err)
			return nil, err
		}
		if res.SkippedQueries > 0 {
			log.WithProtocol(p.String()).Debug("Queries without a valid match skipped",
				"skipped", res.SkippedQueries,
				"valid", res.ValidQueries,
			)
		}
		e.recordResult(res)
		report.Results = append(report.Results, res)
	}

	if e.cfg.MeanAP {
		m, err := MeanAP(ctx, dist, query, gallery, e.cfg.CMC.Workers)
		if err != nil {
			e.recordError(err)
			return nil, err
		}
		report.MAP = m
	}

	report.DurationMS = time.Since(start).Milliseconds()

	log.Info("Evaluation completed",
		"queries", report.Queries,
		"gallery", report.Gallery,
		"score", report.Score(),
		"duration_ms", report.DurationMS,
	)

	if e.metrics != nil {
		e.metrics.EvaluationsTotal.Inc()
		e.metrics.LastDuration.Set(time.Since(start).Seconds())
	}

	e.persist(ctx, log, report)
	return report, nil
}

// persist stores and announces the report. Failures are logged; the run
// itself has succeeded.
func (e *Evaluator) persist(ctx context.Context, log *logger.Logger, report *Report) {
	if e.history != nil {
		if err := e.history.Save(ctx, report.Record()); err != nil {
			log.WithError(err).Warn("Failed to save run history")
		}
	}

	if e.publisher != nil {
		event := bus.NewEvent(bus.TopicEvalCompleted, "reid-eval", report)
		event.CorrelationID = report.ID
		if err := e.publisher.Publish(ctx, bus.TopicEvalCompleted, event); err != nil {
			log.WithError(err).Warn("Failed to publish evaluation event")
		}
	}
}

func (e *Evaluator) recordResult(res *CMCResult) {
	if e.metrics == nil {
		return
	}
	name := res.Protocol.String()
	e.metrics.QueriesValid.With(name).Add(int64(res.ValidQueries))
	e.metrics.QueriesSkipped.With(name).Add(int64(res.SkippedQueries))
	if top1, ok := res.Curve.At(1); ok {
		e.metrics.LastTop1.With(name).Set(top1)
	}
}

func (e *Evaluator) recordError(err error) {
	if e.metrics == nil {
		return
	}
	code := errors.Code(err)
	if code == "" {
		code = errors.CodeInternal
	}
	e.metrics.EvaluationErrors.With(code).Inc()
}
