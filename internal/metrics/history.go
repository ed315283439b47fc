package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reideval/reid-eval/internal/pkg/errors"
)

// RunRecord is the persisted summary of one evaluation run.
type RunRecord struct {
	ID         string               `json:"id"`
	Timestamp  time.Time            `json:"timestamp"`
	Queries    int                  `json:"queries"`
	Gallery    int                  `json:"gallery"`
	TopK       int                  `json:"top_k"`
	NumRepeats int                  `json:"num_repeats"`
	Seed       uint64               `json:"seed"`
	Curves     map[string][]float64 `json:"curves"`
	MeanAP     float64              `json:"mean_ap"`
	Score      float64              `json:"score"`
	DurationMS int64                `json:"duration_ms"`
}

// History stores evaluation run records, newest first on listing.
type History interface {
	Save(ctx context.Context, rec RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	List(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// MemoryHistory keeps run records in process memory.
type MemoryHistory struct {
	mu      sync.RWMutex
	records map[string]RunRecord
	max     int
}

// NewMemoryHistory creates an in-memory history retaining at most max
// records (0 = unbounded). The oldest record is evicted first.
func NewMemoryHistory(max int) *MemoryHistory {
	return &MemoryHistory{
		records: make(map[string]RunRecord),
		max:     max,
	}
}

// Save stores rec, replacing any record with the same ID.
func (h *MemoryHistory) Save(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return errors.ValidationError("run record has no id")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.records[rec.ID] = rec
	if h.max > 0 && len(h.records) > h.max {
		oldest := ""
		for id, r := range h.records {
			if oldest == "" || r.Timestamp.Before(h.records[oldest].Timestamp) {
				oldest = id
			}
		}
		delete(h.records, oldest)
	}
	return nil
}

// Get returns the record with the given ID.
func (h *MemoryHistory) Get(ctx context.Context, id string) (*RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec, ok := h.records[id]
	if !ok {
		return nil, errors.NotFoundError("run " + id)
	}
	return &rec, nil
}

// List returns up to limit records, newest first (limit <= 0 = all).
func (h *MemoryHistory) List(ctx context.Context, limit int) ([]RunRecord, error) {
	h.mu.RLock()
	out := make([]RunRecord, 0, len(h.records))
	for _, r := range h.records {
		out = append(out, r)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (h *MemoryHistory) Close() error {
	return nil
}
