// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package coo implements a distributed sparse matrix in coordinate
// (entry-triple) form on top of bigslice. A matrix is an unordered,
// sharded collection of (row, col, value) triples together with
// declared dimensions; absent entries are implicitly zero, and
// multiple triples for the same coordinate are additive
// contributions. Matrices are immutable: every operation derives a
// new matrix, leaving its operands intact, so that slices may be
// shared freely across operations.
package coo

import (
	"reflect"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigslice"
	"github.com/grailbio/bigslice/typecheck"
)

var (
	// ErrDimensionMismatch is returned by matrix operations whose
	// operands have incompatible declared dimensions.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidSampleSize is returned by the sampling routines when
	// the requested sample count is nonpositive or exceeds the
	// available index range.
	ErrInvalidSampleSize = errors.New("invalid sample size")
)

var (
	typeOfInt     = reflect.TypeOf(int(0))
	typeOfFloat64 = reflect.TypeOf(float64(0))
)

// An Entry is one explicit cell of a matrix.
type Entry struct {
	Row, Col int
	Val      float64
}

// Matrix is a distributed sparse matrix in coordinate form. The
// underlying slice has type Slice<int, int, float64>, carrying
// (row, col, value) triples. Declared dimensions are fixed at
// construction and may exceed the observed entries.
type Matrix struct {
	rows, cols int
	slice      bigslice.Slice
}

// New constructs a matrix with the given declared dimensions from a
// slice of (row, col, value) triples. New panics with a type error
// if the slice does not have type Slice<int, int, float64> or if
// either dimension is nonpositive.
func New(rows, cols int, slice bigslice.Slice) *Matrix {
	if rows < 1 || cols < 1 {
		typecheck.Panicf(1, "coo.New: invalid dimensions %dx%d", rows, cols)
	}
	if slice.NumOut() != 3 || slice.Out(0) != typeOfInt || slice.Out(1) != typeOfInt || slice.Out(2) != typeOfFloat64 {
		typecheck.Panicf(1, "coo.New: expected Slice<int, int, float64>")
	}
	return &Matrix{rows, cols, slice}
}

// FromEntries constructs a rows x cols matrix from the provided
// entries, distributed over nshard shards.
func FromEntries(nshard, rows, cols int, entries []Entry) *Matrix {
	var (
		rowIdx = make([]int, len(entries))
		colIdx = make([]int, len(entries))
		vals   = make([]float64, len(entries))
	)
	for i, e := range entries {
		rowIdx[i] = e.Row
		colIdx[i] = e.Col
		vals[i] = e.Val
	}
	return New(rows, cols, bigslice.Const(nshard, rowIdx, colIdx, vals))
}

// Dims returns the matrix's declared dimensions.
func (m *Matrix) Dims() (rows, cols int) { return m.rows, m.cols }

// Slice returns the underlying slice of (row, col, value) triples.
func (m *Matrix) Slice() bigslice.Slice { return m.slice }

// NumShard returns the number of shards over which the matrix's
// entries are distributed.
func (m *Matrix) NumShard() int { return m.slice.NumShard() }

// Transpose returns the transpose of m. It is a pure re-keying: each
// entry's coordinates are swapped and the declared dimensions
// exchanged.
func (m *Matrix) Transpose() *Matrix {
	slice := bigslice.Map(m.slice, func(row, col int, val float64) (int, int, float64) {
		return col, row, val
	})
	return &Matrix{m.cols, m.rows, slice}
}

// Shift translates every entry of m by the provided row and column
// offsets, growing the declared dimensions to match. It is used to
// reposition sampled sub-blocks back into a global index space.
func (m *Matrix) Shift(rowShift, colShift int) *Matrix {
	slice := bigslice.Map(m.slice, func(row, col int, val float64) (int, int, float64) {
		return row + rowShift, col + colShift, val
	})
	return &Matrix{m.rows + rowShift, m.cols + colShift, slice}
}
