// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package coo

import (
	"context"
	"sync"

	"github.com/grailbio/bigslice"
	"github.com/grailbio/bigslice/exec"
	"gonum.org/v1/gonum/mat"
)

// funcMu serializes bigslice.Func registration, which mutates a
// process-global table and may not overlap across goroutines.
var funcMu sync.Mutex

// newFunc registers a Func returning the given slice. Funcs
// registered this way after the session has started cannot be
// replayed by workers in other processes, so the gathers below
// require a session that evaluates tasks in the calling process:
// exec.Local or an in-process test system.
func newFunc(slice bigslice.Slice) *bigslice.FuncValue {
	funcMu.Lock()
	defer funcMu.Unlock()
	return bigslice.Func(func() bigslice.Slice { return slice })
}

// Dense evaluates m on the provided session and gathers its entries
// into a process-local dense matrix. Duplicate coordinates are
// summed. Dense is legal only for matrices whose dimensions are
// bounded by the feature count (Gram matrices, weight vectors); it
// performs no size check and will consume rows*cols words of memory
// on the calling process. Each call registers a fresh Func, so the
// session must evaluate locally; see newFunc.
func (m *Matrix) Dense(ctx context.Context, sess *exec.Session) (*mat.Dense, error) {
	res, err := sess.Run(ctx, newFunc(m.slice))
	if err != nil {
		return nil, err
	}
	scan := res.Scanner()
	var (
		dense    = mat.NewDense(m.rows, m.cols, nil)
		row, col int
		val      float64
	)
	for scan.Scan(ctx, &row, &col, &val) {
		dense.Set(row, col, dense.At(row, col)+val)
	}
	return dense, scan.Err()
}

// FromDense returns the distributed matrix whose entries are the
// nonzero cells of d, distributed over nshard shards for use in
// subsequent distributed operations.
func FromDense(nshard int, d mat.Matrix) *Matrix {
	rows, cols := d.Dims()
	var (
		rowIdx []int
		colIdx []int
		vals   []float64
	)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := d.At(i, j); v != 0 {
				rowIdx = append(rowIdx, i)
				colIdx = append(colIdx, j)
				vals = append(vals, v)
			}
		}
	}
	return New(rows, cols, bigslice.Const(nshard, rowIdx, colIdx, vals))
}

// SumSquares evaluates m and returns the sum of the squares of its
// materialized entries (duplicate coordinates summed first). The
// reduction is distributed; only the scalar result is gathered. Like
// Dense, SumSquares requires a locally evaluating session.
func SumSquares(ctx context.Context, sess *exec.Session, m *Matrix) (float64, error) {
	cols := m.cols
	keyed := bigslice.Map(m.slice, func(row, col int, val float64) (int, float64) {
		return row*cols + col, val
	})
	summed := bigslice.Fold(keyed, func(acc, val float64) float64 { return acc + val })
	squared := bigslice.Map(summed, func(_ int, val float64) (int, float64) {
		return 0, val * val
	})
	total := bigslice.Fold(squared, func(acc, val float64) float64 { return acc + val })
	res, err := sess.Run(ctx, newFunc(total))
	if err != nil {
		return 0, err
	}
	scan := res.Scanner()
	var (
		key int
		sum float64
	)
	for scan.Scan(ctx, &key, &sum) {
	}
	return sum, scan.Err()
}
