package metrics

import "fmt"

// RunningStat tracks the most recent value and the count-weighted running
// mean of a stream of observations. It is meant to live inside a single
// loop and is not safe for concurrent use.
type RunningStat struct {
	val   float64
	sum   float64
	count int64
	avg   float64
}

// NewRunningStat returns a zeroed RunningStat.
func NewRunningStat() *RunningStat {
	return &RunningStat{}
}

// Reset zeroes every field.
func (s *RunningStat) Reset() {
	*s = RunningStat{}
}

// Update records value observed over weight samples (typically a batch
// size). Val becomes value unweighted; the average is weighted. A
// non-positive weight leaves the statistic untouched.
func (s *RunningStat) Update(value float64, weight int) {
	if weight <= 0 {
		return
	}
	s.val = value
	s.sum += value * float64(weight)
	s.count += int64(weight)
	s.avg = s.sum / float64(s.count)
}

// UpdateChecked is Update with the weight validated up front.
func (s *RunningStat) UpdateChecked(value float64, weight int) error {
	if weight < 0 {
		return fmt.Errorf("running stat: negative weight %d", weight)
	}
	s.Update(value, weight)
	return nil
}

// Val returns the last observed value.
func (s *RunningStat) Val() float64 { return s.val }

// Avg returns the weighted mean, or 0 before the first update.
func (s *RunningStat) Avg() float64 { return s.avg }

// Sum returns the weighted sum of all observations.
func (s *RunningStat) Sum() float64 { return s.sum }

// Count returns the total weight observed.
func (s *RunningStat) Count() int64 { return s.count }

// String renders the statistic as "val (avg)" with three decimals.
func (s *RunningStat) String() string {
	return fmt.Sprintf("%.3f (%.3f)", s.val, s.avg)
}
