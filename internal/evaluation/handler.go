package evaluation

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/reideval/reid-eval/internal/distance"
	"github.com/reideval/reid-eval/internal/features"
	"github.com/reideval/reid-eval/internal/metrics"
	"github.com/reideval/reid-eval/internal/pkg/errors"
	"github.com/reideval/reid-eval/internal/pkg/security"
)

// Handler provides HTTP handlers for evaluation.
type Handler struct {
	evaluator *Evaluator
	maxBody   int64
}

// NewHandler creates a new evaluation handler.
func NewHandler(e *Evaluator) *Handler {
	return &Handler{evaluator: e, maxBody: 256 << 20}
}

// WithMaxBody limits request bodies to n bytes.
func (h *Handler) WithMaxBody(n int64) *Handler {
	if n > 0 {
		h.maxBody = n
	}
	return h
}

// RegisterRoutes registers evaluation routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluation/cmc", h.handleCMC)
	mux.HandleFunc("POST /v1/evaluation/distances", h.handleDistances)
	mux.HandleFunc("GET /v1/evaluation/history", h.handleHistory)
	mux.HandleFunc("GET /v1/evaluation/history/{id}", h.handleHistoryRun)
}

// RequestOptions overrides evaluator settings for one request.
type RequestOptions struct {
	TopK       *int     `json:"top_k,omitempty"`
	NumRepeats *int     `json:"num_repeats,omitempty"`
	Seed       *uint64  `json:"seed,omitempty"`
	Protocols  []string `json:"protocols,omitempty"`
	MeanAP     *bool    `json:"mean_ap,omitempty"`
}

// Apply returns cfg with the overrides applied.
func (o RequestOptions) Apply(cfg Config) (Config, error) {
	if o.TopK != nil {
		cfg.CMC.TopK = *o.TopK
	}
	if o.NumRepeats != nil {
		cfg.CMC.NumRepeats = *o.NumRepeats
	}
	if o.Seed != nil {
		cfg.CMC.Seed = *o.Seed
	}
	if o.MeanAP != nil {
		cfg.MeanAP = *o.MeanAP
	}
	if len(o.Protocols) > 0 {
		protocols, err := ParseProtocols(o.Protocols)
		if err != nil {
			return cfg, err
		}
		cfg.Protocols = protocols
	}
	return cfg, nil
}

// CMCRequest evaluates raw feature batches.
type CMCRequest struct {
	Batches []features.Batch `json:"batches"`
	Query   []Sample         `json:"query"`
	Gallery []Sample         `json:"gallery"`
	Options RequestOptions   `json:"options"`
}

// DistancesRequest evaluates a precomputed |query| x |gallery| matrix.
type DistancesRequest struct {
	Distances [][]float64    `json:"distances"`
	Query     []Sample       `json:"query"`
	Gallery   []Sample       `json:"gallery"`
	Options   RequestOptions `json:"options"`
}

// HistoryResponse lists stored runs, newest first.
type HistoryResponse struct {
	Runs []metrics.RunRecord `json:"runs"`
}

func (h *Handler) handleCMC(w http.ResponseWriter, r *http.Request) {
	var req CMCRequest
	if !h.decode(w, r, &req) {
		return
	}

	e, err := h.configured(req.Options, len(req.Query), len(req.Gallery))
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	split := Split{Query: req.Query, Gallery: req.Gallery}
	if err := split.Validate(); err != nil {
		errors.WriteError(w, err)
		return
	}

	batches := make([]*features.Batch, len(req.Batches))
	for i := range req.Batches {
		batches[i] = &req.Batches[i]
	}

	report, err := e.EvaluateSource(r.Context(), features.NewSliceSource(batches...), req.Query, req.Gallery)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleDistances(w http.ResponseWriter, r *http.Request) {
	var req DistancesRequest
	if !h.decode(w, r, &req) {
		return
	}

	e, err := h.configured(req.Options, len(req.Query), len(req.Gallery))
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	dist, err := distance.FromRows(req.Distances)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	report, err := e.EvaluateMatrix(r.Context(), dist, req.Query, req.Gallery)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := h.evaluator.History()
	if history == nil {
		errors.WriteError(w, errors.ServiceUnavailableError("run history"))
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errors.WriteError(w, errors.InvalidRequestError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := history.List(r.Context(), limit)
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	if runs == nil {
		runs = []metrics.RunRecord{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{Runs: runs})
}

func (h *Handler) handleHistoryRun(w http.ResponseWriter, r *http.Request) {
	history := h.evaluator.History()
	if history == nil {
		errors.WriteError(w, errors.ServiceUnavailableError("run history"))
		return
	}

	rec, err := history.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// configured returns the evaluator to use for a request with opts over a
// queries x gallery problem, rejecting settings beyond the API limits.
func (h *Handler) configured(opts RequestOptions, queries, gallery int) (*Evaluator, error) {
	cfg, err := opts.Apply(h.evaluator.Config())
	if err != nil {
		return nil, err
	}

	v := security.EvalRequestValidator{
		TopK:       cfg.CMC.TopK,
		NumRepeats: cfg.CMC.NumRepeats,
		Queries:    queries,
		Gallery:    gallery,
	}
	if err := v.Validate(); err != nil {
		return nil, errors.ValidationError(err.Error())
	}
	return h.evaluator.WithConfig(cfg), nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errors.WriteError(w, errors.InvalidRequestError("invalid request body: "+err.Error()))
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
