// Package distance builds dense query x gallery squared Euclidean distance
// matrices.
package distance

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/reideval/reid-eval/internal/pkg/errors"
)

// Matrix is a read-only |query| x |gallery| distance matrix. Row i holds
// the distances from query i to every gallery entry, in gallery order.
type Matrix struct {
	dense *mat.Dense
}

// Dims returns the number of query rows and gallery columns.
func (m *Matrix) Dims() (rows, cols int) {
	return m.dense.Dims()
}

// At returns the distance between query i and gallery j.
func (m *Matrix) At(i, j int) float64 {
	return m.dense.At(i, j)
}

// Row returns the distances of query i. The slice aliases the matrix and
// must not be modified.
func (m *Matrix) Row(i int) []float64 {
	return m.dense.RawRowView(i)
}

// FromRows builds a Matrix from explicit rows, used when distances were
// computed elsewhere. Rows must be non-empty, rectangular, finite and
// non-negative.
func FromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.ContractError("distance matrix must have at least one row and one column")
	}

	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.ContractError("distance row %d has %d columns, want %d", i, len(row), cols)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return nil, errors.ContractError("distance (%d, %d) = %v is not a finite non-negative number", i, j, v)
			}
		}
		data = append(data, row...)
	}

	return &Matrix{dense: mat.NewDense(len(rows), cols, data)}, nil
}
