package security

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Request limits for the evaluation API.
const (
	MinTopK = 1
	MaxTopK = 10000

	MinNumRepeats = 1
	MaxNumRepeats = 1000

	MaxSampleNameLength = 1024

	// MaxMatrixCells caps |query| x |gallery| for one request.
	MaxMatrixCells = 100_000_000
)

// ValidationError represents a field validation error.
type ValidationError struct {
	Field      string
	Value      any
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for %s: %s (got: %v)", e.Field, e.Constraint, e.Value)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Constraint)
}

// ValidateTopK validates the CMC curve length.
// Requirements: 1-10000.
func ValidateTopK(topK int) error {
	return validateRange("top_k", topK, MinTopK, MaxTopK)
}

// ValidateNumRepeats validates the single-gallery-shot trial count.
// Requirements: 1-1000.
func ValidateNumRepeats(n int) error {
	return validateRange("num_repeats", n, MinNumRepeats, MaxNumRepeats)
}

func validateRange(field string, v, lo, hi int) error {
	if v < lo {
		return &ValidationError{
			Field:      field,
			Value:      v,
			Constraint: fmt.Sprintf("minimum value is %d", lo),
		}
	}
	if v > hi {
		return &ValidationError{
			Field:      field,
			Value:      v,
			Constraint: fmt.Sprintf("maximum value is %d", hi),
		}
	}
	return nil
}

// ValidateSampleName validates a sample identifier.
// Requirements: non-empty UTF-8, at most 1024 bytes, no control characters.
func ValidateSampleName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Constraint: "required"}
	}
	if len(name) > MaxSampleNameLength {
		return &ValidationError{
			Field:      "name",
			Value:      len(name),
			Constraint: fmt.Sprintf("maximum length is %d bytes", MaxSampleNameLength),
		}
	}
	if !utf8.ValidString(name) {
		return &ValidationError{Field: "name", Constraint: "must be valid UTF-8"}
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return &ValidationError{
				Field:      "name",
				Value:      SanitizeForLog(name),
				Constraint: "must not contain control characters",
			}
		}
	}
	return nil
}

// ValidateMatrixSize rejects query/gallery products above MaxMatrixCells.
func ValidateMatrixSize(queries, gallery int) error {
	if queries > 0 && gallery > MaxMatrixCells/queries {
		return &ValidationError{
			Field:      "gallery",
			Value:      fmt.Sprintf("%d x %d", queries, gallery),
			Constraint: fmt.Sprintf("query x gallery must not exceed %d cells", MaxMatrixCells),
		}
	}
	return nil
}

// EvalRequestValidator validates the tunable parts of an evaluation request.
type EvalRequestValidator struct {
	TopK       int
	NumRepeats int
	Queries    int
	Gallery    int
}

// Validate checks every field and returns the first failure.
func (v *EvalRequestValidator) Validate() error {
	if err := ValidateTopK(v.TopK); err != nil {
		return err
	}
	if err := ValidateNumRepeats(v.NumRepeats); err != nil {
		return err
	}
	return ValidateMatrixSize(v.Queries, v.Gallery)
}
