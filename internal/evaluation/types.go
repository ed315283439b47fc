// Package evaluation scores person re-identification rankings with
// Cumulative Matching Characteristic curves and mean average precision.
package evaluation

import (
	"fmt"
	"strings"

	"github.com/reideval/reid-eval/internal/pkg/errors"
)

// PersonID is an identity label.
type PersonID int

// CameraID is a camera label.
type CameraID int

// Sample describes one query or gallery image. The position of a sample in
// its set is its row (query) or column (gallery) in the distance matrix.
type Sample struct {
	Name string   `json:"name" yaml:"name"`
	PID  PersonID `json:"pid" yaml:"pid"`
	Cam  CameraID `json:"cam" yaml:"cam"`
}

// Validate checks that both labels are non-negative.
func (s Sample) Validate() error {
	if s.PID < 0 {
		return errors.ContractError("sample %q has negative identity %d", s.Name, s.PID)
	}
	if s.Cam < 0 {
		return errors.ContractError("sample %q has negative camera %d", s.Name, s.Cam)
	}
	return nil
}

// Names returns the sample names in order.
func Names(samples []Sample) []string {
	names := make([]string, len(samples))
	for i, s := range samples {
		names[i] = s.Name
	}
	return names
}

func validateSamples(set string, samples []Sample) error {
	for i, s := range samples {
		if s.PID < 0 || s.Cam < 0 {
			return errors.ContractError("%s[%d] %q has a negative label (pid %d, cam %d)", set, i, s.Name, s.PID, s.Cam)
		}
	}
	return nil
}

// Protocol is one of the benchmark CMC configurations. Only these presets
// are meaningful, so the flags are not exposed as free-form options.
type Protocol int

const (
	// ProtocolNew ranks the whole gallery with no camera separation.
	ProtocolNew Protocol = iota

	// ProtocolCUHK03 forces cross-camera matches and resamples one gallery
	// instance per identity on every trial.
	ProtocolCUHK03

	// ProtocolMarket1501 credits a query at its first correct match.
	ProtocolMarket1501
)

var protocolNames = [...]string{"new", "cuhk03", "market1501"}

// Protocols returns every protocol in report column order.
func Protocols() []Protocol {
	return []Protocol{ProtocolNew, ProtocolCUHK03, ProtocolMarket1501}
}

// ParseProtocol resolves a protocol name, case-insensitively.
func ParseProtocol(name string) (Protocol, error) {
	for i, n := range protocolNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return Protocol(i), nil
		}
	}
	return 0, errors.ValidationError(fmt.Sprintf("unknown protocol %q (must be new, cuhk03 or market1501)", name))
}

// ParseProtocols resolves names, keeping their order and dropping repeats.
// An empty list selects every protocol.
func ParseProtocols(names []string) ([]Protocol, error) {
	if len(names) == 0 {
		return Protocols(), nil
	}

	seen := make(map[Protocol]bool)
	var out []Protocol
	for _, name := range names {
		p, err := ParseProtocol(name)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	return p >= ProtocolNew && p <= ProtocolMarket1501
}

// String returns the protocol name.
func (p Protocol) String() string {
	if !p.Valid() {
		return fmt.Sprintf("protocol(%d)", int(p))
	}
	return protocolNames[p]
}

// SeparateCameraSet excludes every gallery entry from the query's camera.
func (p Protocol) SeparateCameraSet() bool { return p == ProtocolCUHK03 }

// SingleGalleryShot samples one gallery instance per identity per trial.
func (p Protocol) SingleGalleryShot() bool { return p == ProtocolCUHK03 }

// FirstMatchBreak stops scoring a query at its first correct match. The
// CMC indicator is binary, so a curve is the same with or without the
// break and the ranker never consults it.
func (p Protocol) FirstMatchBreak() bool { return p == ProtocolMarket1501 }

// MarshalText implements encoding.TextMarshaler.
func (p Protocol) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid protocol %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Protocol) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Curve holds the cumulative match rate at ranks 1..len(c).
type Curve []float64

// At returns the value at a 1-based rank. ok is false past the end.
func (c Curve) At(rank int) (v float64, ok bool) {
	if rank < 1 || rank > len(c) {
		return 0, false
	}
	return c[rank-1], true
}

// TopK returns the first k ranks, or the whole curve if it is shorter.
func (c Curve) TopK(k int) Curve {
	if k < len(c) {
		return c[:k]
	}
	return c
}
