// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package coo

import (
	"github.com/grailbio/bigslice"
)

// Multiply returns the matrix product a*b. The product is computed
// by the usual redistribute-and-combine scheme: both operands are
// re-keyed by their shared inner index and cogrouped; every matching
// pair of entries contributes a partial product keyed by its output
// coordinate; partial products are then summed per coordinate.
// Entries whose partial products sum to zero may be retained at
// zero. Multiply returns ErrDimensionMismatch if the operands'
// declared inner dimensions disagree.
func Multiply(a, b *Matrix) (*Matrix, error) {
	if a.cols != b.rows {
		return nil, ErrDimensionMismatch
	}
	// Key a's entries by column and b's by row: the shared inner
	// index of the product.
	akey := bigslice.Map(a.slice, func(row, col int, val float64) (int, int, float64) {
		return col, row, val
	})
	bkey := bigslice.Map(b.slice, func(row, col int, val float64) (int, int, float64) {
		return row, col, val
	})
	cols := b.cols
	grouped := bigslice.Cogroup(akey, bkey)
	partial := bigslice.Flatmap(grouped, func(_ int, arows []int, avals []float64, bcols []int, bvals []float64) ([]int, []float64) {
		keys := make([]int, 0, len(arows)*len(bcols))
		vals := make([]float64, 0, len(arows)*len(bcols))
		for i := range arows {
			for j := range bcols {
				keys = append(keys, arows[i]*cols+bcols[j])
				vals = append(vals, avals[i]*bvals[j])
			}
		}
		return keys, vals
	})
	summed := bigslice.Fold(partial, func(acc, val float64) float64 { return acc + val })
	slice := bigslice.Map(summed, func(key int, val float64) (int, int, float64) {
		return key / cols, key % cols, val
	})
	return &Matrix{a.rows, b.cols, slice}, nil
}

// Add returns the entrywise sum a+b, or the difference a-b when
// subtract is set. Both operands are re-keyed by coordinate and
// cogrouped; co-located entries (including duplicates within one
// operand) are combined additively. Add returns
// ErrDimensionMismatch unless the operands' declared dimensions are
// equal.
func Add(a, b *Matrix, subtract bool) (*Matrix, error) {
	if a.rows != b.rows || a.cols != b.cols {
		return nil, ErrDimensionMismatch
	}
	cols := a.cols
	key := func(row, col int, val float64) (int, float64) {
		return row*cols + col, val
	}
	grouped := bigslice.Cogroup(bigslice.Map(a.slice, key), bigslice.Map(b.slice, key))
	slice := bigslice.Map(grouped, func(key int, avals, bvals []float64) (int, int, float64) {
		var val float64
		for _, v := range avals {
			val += v
		}
		for _, v := range bvals {
			if subtract {
				val -= v
			} else {
				val += v
			}
		}
		return key / cols, key % cols, val
	})
	return &Matrix{a.rows, a.cols, slice}, nil
}

// Scale returns m with every entry multiplied by the constant c.
func Scale(m *Matrix, c float64) *Matrix {
	slice := bigslice.Map(m.slice, func(row, col int, val float64) (int, int, float64) {
		return row, col, c * val
	})
	return &Matrix{m.rows, m.cols, slice}
}
