// Package report renders evaluation results for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/reideval/reid-eval/internal/evaluation"
)

// DefaultRanks are the ranks printed by Text.
var DefaultRanks = []int{1, 5, 10}

type options struct {
	ranks  []int
	meanAP *float64
}

// Option customizes Text.
type Option func(*options)

// WithRanks prints ranks instead of DefaultRanks. Ranks are 1-based.
func WithRanks(ranks ...int) Option {
	return func(o *options) {
		if len(ranks) > 0 {
			o.ranks = ranks
		}
	}
}

// WithMeanAP appends a mAP row.
func WithMeanAP(v float64) Option {
	return func(o *options) {
		o.meanAP = &v
	}
}

// Text writes the CMC table: one column per protocol, in protocol order,
// one row per rank. Protocols absent from curves and ranks past the end
// of a curve are printed as "-".
//
//	CMC Scores         new      cuhk03  market1501
//	  top-1          83.2%       78.0%       85.4%
func Text(w io.Writer, curves map[string]evaluation.Curve, opts ...Option) error {
	o := options{ranks: DefaultRanks}
	for _, opt := range opts {
		opt(&o)
	}

	protocols := evaluation.Protocols()

	var sb strings.Builder
	sb.WriteString("CMC Scores")
	for _, p := range protocols {
		fmt.Fprintf(&sb, "%12s", p.String())
	}
	sb.WriteByte('\n')

	for _, k := range o.ranks {
		fmt.Fprintf(&sb, "  top-%-4d", k)
		for _, p := range protocols {
			v, ok := curves[p.String()].At(k)
			if !ok {
				fmt.Fprintf(&sb, "%12s", "-")
				continue
			}
			fmt.Fprintf(&sb, "%11.1f%%", v*100)
		}
		sb.WriteByte('\n')
	}

	if o.meanAP != nil {
		fmt.Fprintf(&sb, "%-10s%11.1f%%\n", "  mAP", *o.meanAP*100)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// TextReport writes r as a CMC table, including mAP when it was computed.
func TextReport(w io.Writer, r *evaluation.Report, opts ...Option) error {
	if r.MAP != nil {
		opts = append([]Option{WithMeanAP(r.MAP.MeanAP)}, opts...)
	}
	return Text(w, r.Curves(), opts...)
}

// JSON writes r as indented JSON.
func JSON(w io.Writer, r *evaluation.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
