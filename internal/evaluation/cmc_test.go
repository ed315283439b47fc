package evaluation

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/reideval/reid-eval/internal/distance"
	"github.com/reideval/reid-eval/internal/pkg/errors"
)

func mustMatrix(t *testing.T, rows [][]float64) *distance.Matrix {
	t.Helper()
	m, err := distance.FromRows(rows)
	if err != nil {
		t.Fatalf("FromRows() error = %v", err)
	}
	return m
}

func opts(topK int) CMCOptions {
	return CMCOptions{TopK: topK, NumRepeats: 10, Seed: 0, Workers: 2}
}

// scenario is two queries and three gallery entries where q1 ranks
// [g1, g3, g2] and q2 ranks [g2, g1, g3].
func scenario(t *testing.T) (*distance.Matrix, []Sample, []Sample) {
	query := []Sample{
		{Name: "q1", PID: 1, Cam: 0},
		{Name: "q2", PID: 2, Cam: 1},
	}
	gallery := []Sample{
		{Name: "g1", PID: 1, Cam: 1},
		{Name: "g2", PID: 2, Cam: 0},
		{Name: "g3", PID: 1, Cam: 0},
	}
	dist := mustMatrix(t, [][]float64{
		{0.1, 0.3, 0.2},
		{0.2, 0.1, 0.3},
	})
	return dist, query, gallery
}

func TestCMC_EndToEndScenario(t *testing.T) {
	dist, query, gallery := scenario(t)

	for _, p := range Protocols() {
		t.Run(p.String(), func(t *testing.T) {
			res, err := CMC(context.Background(), dist, query, gallery, p, opts(3))
			if err != nil {
				t.Fatalf("CMC() error = %v", err)
			}
			if res.ValidQueries != 2 {
				t.Errorf("ValidQueries = %d, want 2", res.ValidQueries)
			}
			for k, v := range res.Curve {
				if v != 1.0 {
					t.Errorf("Curve[%d] = %v, want 1.0", k, v)
				}
			}
		})
	}
}

func TestCMC_PartialCurve(t *testing.T) {
	query := []Sample{
		{Name: "q1", PID: 1, Cam: 0},
		{Name: "q2", PID: 2, Cam: 0},
	}
	gallery := []Sample{
		{Name: "a", PID: 2, Cam: 1},
		{Name: "b", PID: 1, Cam: 1},
		{Name: "c", PID: 3, Cam: 1},
	}
	// q1 finds its match at rank 2, q2 at rank 1
	dist := mustMatrix(t, [][]float64{
		{0.1, 0.2, 0.3},
		{0.1, 0.2, 0.3},
	})

	res, err := CMC(context.Background(), dist, query, gallery, ProtocolNew, opts(4))
	if err != nil {
		t.Fatalf("CMC() error = %v", err)
	}

	want := Curve{0.5, 1, 1, 1}
	if !slices.Equal(res.Curve, want) {
		t.Errorf("Curve = %v, want %v", res.Curve, want)
	}
}

func TestCMC_TiesBrokenByGalleryIndex(t *testing.T) {
	query := []Sample{{Name: "q", PID: 1, Cam: 0}}
	dist := mustMatrix(t, [][]float64{{0.5, 0.5}})

	tests := []struct {
		name    string
		gallery []Sample
		top1    float64
	}{
		{
			name:    "distractor first",
			gallery: []Sample{{Name: "x", PID: 2, Cam: 1}, {Name: "m", PID: 1, Cam: 1}},
			top1:    0,
		},
		{
			name:    "match first",
			gallery: []Sample{{Name: "m", PID: 1, Cam: 1}, {Name: "x", PID: 2, Cam: 1}},
			top1:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := CMC(context.Background(), dist, query, tt.gallery, ProtocolNew, opts(2))
			if err != nil {
				t.Fatalf("CMC() error = %v", err)
			}
			if res.Curve[0] != tt.top1 {
				t.Errorf("Curve[0] = %v, want %v", res.Curve[0], tt.top1)
			}
		})
	}
}

func TestCMC_SelfMatchExcluded(t *testing.T) {
	// The closest entry is the query image itself (same id, same camera)
	query := []Sample{{Name: "img", PID: 4, Cam: 2}}
	gallery := []Sample{
		{Name: "img", PID: 4, Cam: 2},
		{Name: "other", PID: 5, Cam: 1},
		{Name: "same-id", PID: 4, Cam: 3},
	}
	dist := mustMatrix(t, [][]float64{{0, 0.4, 0.9}})

	res, err := CMC(context.Background(), dist, query, gallery, ProtocolNew, opts(3))
	if err != nil {
		t.Fatalf("CMC() error = %v", err)
	}
	want := Curve{0, 1, 1}
	if !slices.Equal(res.Curve, want) {
		t.Errorf("Curve = %v, want %v", res.Curve, want)
	}
}

func TestCMC_SeparateCameraSetSingleCamera(t *testing.T) {
	query := []Sample{{Name: "q", PID: 1, Cam: 0}}
	gallery := []Sample{
		{Name: "g1", PID: 1, Cam: 0},
		{Name: "g2", PID: 2, Cam: 0},
	}
	dist := mustMatrix(t, [][]float64{{0.1, 0.2}})

	_, err := CMC(context.Background(), dist, query, gallery, ProtocolCUHK03, opts(2))
	if !errors.IsEmptyEvaluation(err) {
		t.Fatalf("CMC() error = %v, want EMPTY_EVALUATION", err)
	}
}

func TestCMC_SeparateCameraSetIgnoresSameCamera(t *testing.T) {
	// A same-camera distractor closer than the cross-camera match must not
	// push the match down under camera separation.
	query := []Sample{{Name: "q", PID: 1, Cam: 0}}
	gallery := []Sample{
		{Name: "near", PID: 2, Cam: 0},
		{Name: "match", PID: 1, Cam: 1},
	}
	dist := mustMatrix(t, [][]float64{{0.1, 0.2}})
	ctx := context.Background()

	sep, err := CMC(ctx, dist, query, gallery, ProtocolCUHK03, opts(2))
	if err != nil {
		t.Fatalf("CMC(cuhk03) error = %v", err)
	}
	if sep.Curve[0] != 1 {
		t.Errorf("cuhk03 Curve[0] = %v, want 1", sep.Curve[0])
	}

	all, err := CMC(ctx, dist, query, gallery, ProtocolNew, opts(2))
	if err != nil {
		t.Fatalf("CMC(new) error = %v", err)
	}
	if all.Curve[0] != 0 {
		t.Errorf("new Curve[0] = %v, want 0", all.Curve[0])
	}
}

func TestCMC_SkipsQueriesWithoutMatch(t *testing.T) {
	query := []Sample{
		{Name: "q1", PID: 1, Cam: 0},
		{Name: "q2", PID: 9, Cam: 0},
	}
	gallery := []Sample{{Name: "g", PID: 1, Cam: 1}}
	dist := mustMatrix(t, [][]float64{{0.1}, {0.1}})

	res, err := CMC(context.Background(), dist, query, gallery, ProtocolNew, opts(1))
	if err != nil {
		t.Fatalf("CMC() error = %v", err)
	}
	if res.ValidQueries != 1 || res.SkippedQueries != 1 {
		t.Errorf("valid/skipped = %d/%d, want 1/1", res.ValidQueries, res.SkippedQueries)
	}
	if res.Curve[0] != 1 {
		t.Errorf("Curve[0] = %v, want 1 (skipped query must not count)", res.Curve[0])
	}
}

func TestCMC_FirstMatchBreak(t *testing.T) {
	query := []Sample{{Name: "q", PID: 1, Cam: 0}}
	gallery := []Sample{
		{Name: "m1", PID: 1, Cam: 1},
		{Name: "x", PID: 2, Cam: 1},
		{Name: "m2", PID: 1, Cam: 2},
		{Name: "y", PID: 3, Cam: 1},
	}
	dist := mustMatrix(t, [][]float64{{0.1, 0.2, 0.3, 0.4}})

	res, err := CMC(context.Background(), dist, query, gallery, ProtocolMarket1501, opts(6))
	if err != nil {
		t.Fatalf("CMC() error = %v", err)
	}
	for k, v := range res.Curve {
		if v != 1 {
			t.Errorf("Curve[%d] = %v, want 1", k, v)
		}
	}
}

func TestCMC_SingleGalleryShotSampling(t *testing.T) {
	// Identity 1 has instances at ranked positions 0 and 2 with identity 2
	// in between: a trial scores rank 1 or rank 2 depending on the draw.
	query := []Sample{{Name: "q", PID: 1, Cam: 0}}
	gallery := []Sample{
		{Name: "a", PID: 1, Cam: 1},
		{Name: "b", PID: 2, Cam: 1},
		{Name: "c", PID: 1, Cam: 2},
	}
	dist := mustMatrix(t, [][]float64{{0.1, 0.2, 0.3}})

	o := opts(3)
	o.NumRepeats = 1000
	res, err := CMC(context.Background(), dist, query, gallery, ProtocolCUHK03, o)
	if err != nil {
		t.Fatalf("CMC() error = %v", err)
	}

	if res.Curve[0] <= 0.3 || res.Curve[0] >= 0.7 {
		t.Errorf("Curve[0] = %v, want about 0.5", res.Curve[0])
	}
	if res.Curve[1] != 1 || res.Curve[2] != 1 {
		t.Errorf("Curve[1:] = %v, want [1 1]", res.Curve[1:])
	}
}

func randomProblem(seed uint64, nq, ng, ids, cams int) (*distance.Matrix, []Sample, []Sample) {
	r := rand.New(rand.NewPCG(seed, 1))
	query := make([]Sample, nq)
	for i := range query {
		query[i] = Sample{Name: "q", PID: PersonID(r.IntN(ids)), Cam: CameraID(r.IntN(cams))}
	}
	gallery := make([]Sample, ng)
	for j := range gallery {
		gallery[j] = Sample{Name: "g", PID: PersonID(r.IntN(ids)), Cam: CameraID(r.IntN(cams))}
	}
	rows := make([][]float64, nq)
	for i := range rows {
		rows[i] = make([]float64, ng)
		for j := range rows[i] {
			// Coarse values force ties
			rows[i][j] = float64(r.IntN(20))
		}
	}
	m, _ := distance.FromRows(rows)
	return m, query, gallery
}

func TestCMC_CurveIsMonotoneAndBounded(t *testing.T) {
	dist, query, gallery := randomProblem(7, 60, 90, 12, 3)

	for _, p := range Protocols() {
		t.Run(p.String(), func(t *testing.T) {
			res, err := CMC(context.Background(), dist, query, gallery, p, opts(20))
			if err != nil {
				t.Fatalf("CMC() error = %v", err)
			}
			if len(res.Curve) != 20 {
				t.Fatalf("len(Curve) = %d, want 20", len(res.Curve))
			}
			for k, v := range res.Curve {
				if v < 0 || v > 1 {
					t.Errorf("Curve[%d] = %v outside [0, 1]", k, v)
				}
				if k > 0 && v < res.Curve[k-1] {
					t.Errorf("Curve[%d] = %v < Curve[%d] = %v", k, v, k-1, res.Curve[k-1])
				}
			}
		})
	}
}

func TestCMC_IndependentOfWorkerCount(t *testing.T) {
	dist, query, gallery := randomProblem(11, 97, 120, 15, 4)

	for _, p := range Protocols() {
		t.Run(p.String(), func(t *testing.T) {
			var curves []Curve
			for _, workers := range []int{1, 3, 8, 200} {
				o := opts(30)
				o.Workers = workers
				res, err := CMC(context.Background(), dist, query, gallery, p, o)
				if err != nil {
					t.Fatalf("CMC(workers=%d) error = %v", workers, err)
				}
				curves = append(curves, res.Curve)
			}
			for i := 1; i < len(curves); i++ {
				if !slices.Equal(curves[0], curves[i]) {
					t.Errorf("curve %d differs from single-worker curve", i)
				}
			}
		})
	}
}

func TestCMC_SeedReproducible(t *testing.T) {
	dist, query, gallery := randomProblem(3, 40, 80, 10, 3)
	o := opts(10)
	o.Seed = 42

	a, err := CMC(context.Background(), dist, query, gallery, ProtocolCUHK03, o)
	if err != nil {
		t.Fatalf("CMC() error = %v", err)
	}
	b, err := CMC(context.Background(), dist, query, gallery, ProtocolCUHK03, o)
	if err != nil {
		t.Fatalf("CMC() error = %v", err)
	}
	if !slices.Equal(a.Curve, b.Curve) {
		t.Errorf("curves differ for identical seed:\n%v\n%v", a.Curve, b.Curve)
	}
}

func TestCMC_SeedsConverge(t *testing.T) {
	dist, query, gallery := randomProblem(5, 40, 80, 10, 3)
	o := opts(5)
	o.NumRepeats = 400

	o.Seed = 1
	a, err := CMC(context.Background(), dist, query, gallery, ProtocolCUHK03, o)
	if err != nil {
		t.Fatalf("CMC() error = %v", err)
	}
	o.Seed = 2
	b, err := CMC(context.Background(), dist, query, gallery, ProtocolCUHK03, o)
	if err != nil {
		t.Fatalf("CMC() error = %v", err)
	}

	for k := range a.Curve {
		if math.Abs(a.Curve[k]-b.Curve[k]) > 0.05 {
			t.Errorf("rank %d: seeds give %v and %v, want within 0.05", k+1, a.Curve[k], b.Curve[k])
		}
	}
}

func TestCMC_InputContract(t *testing.T) {
	dist, query, gallery := scenario(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		dist    *distance.Matrix
		query   []Sample
		gallery []Sample
		proto   Protocol
		opts    CMCOptions
	}{
		{"nil matrix", nil, query, gallery, ProtocolNew, opts(3)},
		{"row mismatch", dist, query[:1], gallery, ProtocolNew, opts(3)},
		{"column mismatch", dist, query, gallery[:2], ProtocolNew, opts(3)},
		{"zero top_k", dist, query, gallery, ProtocolNew, opts(0)},
		{"zero repeats", dist, query, gallery, ProtocolCUHK03, CMCOptions{TopK: 3}},
		{"unknown protocol", dist, query, gallery, Protocol(7), opts(3)},
		{"negative identity", dist, []Sample{{Name: "q1", PID: -1}, query[1]}, gallery, ProtocolNew, opts(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CMC(ctx, tt.dist, tt.query, tt.gallery, tt.proto, tt.opts)
			if !errors.IsContract(err) {
				t.Errorf("CMC() error = %v, want INPUT_CONTRACT", err)
			}
		})
	}
}

func TestCMC_Cancelled(t *testing.T) {
	dist, query, gallery := scenario(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := CMC(ctx, dist, query, gallery, ProtocolNew, opts(3)); err == nil {
		t.Error("CMC() with cancelled context should fail")
	}
}

func TestChunks(t *testing.T) {
	tests := []struct {
		n, parts int
		want     [][2]int
	}{
		{0, 4, nil},
		{5, 1, [][2]int{{0, 5}}},
		{5, 2, [][2]int{{0, 3}, {3, 5}}},
		{3, 10, [][2]int{{0, 1}, {1, 2}, {2, 3}}},
	}

	for _, tt := range tests {
		var got [][2]int
		for lo, hi := range chunks(tt.n, tt.parts) {
			got = append(got, [2]int{lo, hi})
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("chunks(%d, %d) = %v, want %v", tt.n, tt.parts, got, tt.want)
		}
	}
}
