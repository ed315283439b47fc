package evaluation

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/reideval/reid-eval/internal/pkg/errors"
	"github.com/reideval/reid-eval/internal/pkg/security"
)

// Split is the ordered query and gallery descriptor lists of a benchmark.
type Split struct {
	Query   []Sample `json:"query" yaml:"query"`
	Gallery []Sample `json:"gallery" yaml:"gallery"`
}

// Validate checks both sets for well-formed names and non-negative labels.
func (s *Split) Validate() error {
	if err := validateNamed("query", s.Query); err != nil {
		return err
	}
	return validateNamed("gallery", s.Gallery)
}

func validateNamed(set string, samples []Sample) error {
	for i, sample := range samples {
		if err := security.ValidateSampleName(sample.Name); err != nil {
			return errors.ContractError("%s[%d]: %v", set, i, err)
		}
	}
	return validateSamples(set, samples)
}

// LoadSplit reads a split file. JSON is accepted as well since it is
// valid YAML.
func LoadSplit(path string) (*Split, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening split file: %w", err)
	}
	defer f.Close()

	split, err := DecodeSplit(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return split, nil
}

// DecodeSplit parses and validates a split document.
func DecodeSplit(r io.Reader) (*Split, error) {
	var split Split
	if err := yaml.NewDecoder(r).Decode(&split); err != nil && err != io.EOF {
		return nil, errors.Wrap(errors.CodeValidation, "decoding split", err)
	}
	if err := split.Validate(); err != nil {
		return nil, err
	}
	return &split, nil
}
