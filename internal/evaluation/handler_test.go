package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reideval/reid-eval/internal/metrics"
	"github.com/reideval/reid-eval/internal/pkg/errors"
	"github.com/reideval/reid-eval/internal/pkg/security"
)

func newTestMux(e *Evaluator) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(e).RegisterRoutes(mux)
	return mux
}

func post(t *testing.T, mux http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func cmcRequest() CMCRequest {
	batches, query, gallery := scenarioSplit()
	req := CMCRequest{Query: query, Gallery: gallery}
	for _, b := range batches {
		req.Batches = append(req.Batches, *b)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errors.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	return resp.Code
}

func TestHandler_CMC(t *testing.T) {
	mux := newTestMux(NewEvaluator(testConfig(), nil))

	rec := post(t, mux, "/v1/evaluation/cmc", cmcRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(report.Results))
	}
	if report.Results[1].Protocol != ProtocolCUHK03 {
		t.Errorf("Results[1].Protocol = %v, want cuhk03", report.Results[1].Protocol)
	}
	if report.Score() != 1 {
		t.Errorf("Score() = %v, want 1", report.Score())
	}
}

func TestHandler_CMCOptions(t *testing.T) {
	mux := newTestMux(NewEvaluator(testConfig(), nil))

	topK := 2
	req := cmcRequest()
	req.Options = RequestOptions{TopK: &topK, Protocols: []string{"market1501"}}

	rec := post(t, mux, "/v1/evaluation/cmc", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if len(report.Results) != 1 || len(report.Results[0].Curve) != 2 {
		t.Errorf("Results = %+v, want one market1501 curve of length 2", report.Results)
	}
}

func TestHandler_CMCErrors(t *testing.T) {
	mux := newTestMux(NewEvaluator(testConfig(), nil))

	badProtocol := cmcRequest()
	badProtocol.Options.Protocols = []string{"viper"}

	zero := 0
	badTopK := cmcRequest()
	badTopK.Options.TopK = &zero

	huge := security.MaxTopK + 1
	hugeTopK := cmcRequest()
	hugeTopK.Options.TopK = &huge

	mismatch := cmcRequest()
	mismatch.Batches[0].Embeddings = mismatch.Batches[0].Embeddings[:1]

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"unknown protocol", badProtocol, http.StatusBadRequest, errors.CodeValidation},
		{"top_k zero", badTopK, http.StatusBadRequest, errors.CodeValidation},
		{"top_k too large", hugeTopK, http.StatusBadRequest, errors.CodeValidation},
		{"batch mismatch", mismatch, http.StatusBadRequest, errors.CodeContract},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, mux, "/v1/evaluation/cmc", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
		})
	}
}

func TestHandler_CMCRejectsSampleNames(t *testing.T) {
	mux := newTestMux(NewEvaluator(testConfig(), nil))

	tests := []struct {
		name     string
		sample   string
		gallery  bool
		wantPath string
	}{
		{"query control character", "q1\x00", false, "query[0]"},
		{"query name too long", strings.Repeat("q", security.MaxSampleNameLength+1), false, "query[0]"},
		{"gallery control character", "g1\n", true, "gallery[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The batches carry the same id, so only the name check can reject it.
			req := cmcRequest()
			if tt.gallery {
				req.Batches[1].IDs[0] = tt.sample
				req.Gallery[0].Name = tt.sample
			} else {
				req.Batches[0].IDs[0] = tt.sample
				req.Query[0].Name = tt.sample
			}

			rec := post(t, mux, "/v1/evaluation/cmc", req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
			var resp errors.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decoding error response: %v", err)
			}
			if resp.Code != errors.CodeContract {
				t.Errorf("code = %s, want %s", resp.Code, errors.CodeContract)
			}
			if !strings.Contains(resp.Message, tt.wantPath) {
				t.Errorf("message = %q, want it to name %s", resp.Message, tt.wantPath)
			}
		})
	}
}

func TestHandler_InvalidBody(t *testing.T) {
	mux := newTestMux(NewEvaluator(testConfig(), nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluation/cmc", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if code := errorCode(t, rec); code != errors.CodeInvalidRequest {
		t.Errorf("code = %s, want %s", code, errors.CodeInvalidRequest)
	}
}

func TestHandler_Distances(t *testing.T) {
	mux := newTestMux(NewEvaluator(testConfig(), nil))
	_, query, gallery := scenarioSplit()

	tests := []struct {
		name       string
		req        DistancesRequest
		wantStatus int
		wantCode   string
	}{
		{
			name: "ok",
			req: DistancesRequest{
				Distances: [][]float64{{0.1, 0.3, 0.2}, {0.2, 0.1, 0.3}},
				Query:     query,
				Gallery:   gallery,
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "shape mismatch",
			req: DistancesRequest{
				Distances: [][]float64{{0.1, 0.3}, {0.2, 0.1}},
				Query:     query,
				Gallery:   gallery,
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   errors.CodeContract,
		},
		{
			name: "no valid query",
			req: DistancesRequest{
				Distances: [][]float64{{0.1, 0.3, 0.2}, {0.2, 0.1, 0.3}},
				Query: []Sample{
					{Name: "q1", PID: 7, Cam: 0},
					{Name: "q2", PID: 8, Cam: 1},
				},
				Gallery: gallery,
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   errors.CodeEmptyEvaluation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, mux, "/v1/evaluation/distances", tt.req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				if code := errorCode(t, rec); code != tt.wantCode {
					t.Errorf("code = %s, want %s", code, tt.wantCode)
				}
			}
		})
	}
}

func TestHandler_History(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		mux := newTestMux(NewEvaluator(testConfig(), nil))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/evaluation/history", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})

	history := metrics.NewMemoryHistory(10)
	mux := newTestMux(NewEvaluator(testConfig(), nil).WithHistory(history))

	if rec := post(t, mux, "/v1/evaluation/cmc", cmcRequest()); rec.Code != http.StatusOK {
		t.Fatalf("cmc status = %d: %s", rec.Code, rec.Body.String())
	}

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/evaluation/history?limit=5", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		var resp HistoryResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if len(resp.Runs) != 1 || resp.Runs[0].Score != 1 {
			t.Errorf("Runs = %+v, want one run with score 1", resp.Runs)
		}
	})

	t.Run("get", func(t *testing.T) {
		runs, _ := history.List(context.Background(), 1)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/evaluation/history/"+runs[0].ID, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/evaluation/history/nope", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/evaluation/history?limit=0", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}
