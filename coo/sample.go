// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package coo

import (
	"math/rand"
	"sort"

	"github.com/grailbio/bigslice"
)

// UniqueSample draws count distinct integers from the inclusive
// range [min, max], uniformly without replacement, using a partial
// Fisher-Yates shuffle over the index range. The returned values are
// in selection order. UniqueSample returns ErrInvalidSampleSize when
// count < 1 or count exceeds the range size. The provided generator
// is a general-purpose pseudo-random source; sampling is not
// adversarially secure.
func UniqueSample(r *rand.Rand, min, max, count int) ([]int, error) {
	size := max - min + 1
	if count < 1 || count > size {
		return nil, ErrInvalidSampleSize
	}
	idx := make([]int, size)
	for i := range idx {
		idx[i] = min + i
	}
	for i := 0; i < count; i++ {
		j := i + r.Intn(size-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:count], nil
}

// FilterRows returns the matrix containing only the rows of m whose
// indices appear in rows, with each surviving row re-indexed to its
// rank within the sorted index set. The result is a dense,
// contiguous len(rows)-row matrix usable directly in subsequent
// multiplications. Row membership and rank are resolved by binary
// search over the sorted index set, broadcast to every shard.
func FilterRows(m *Matrix, rows []int) *Matrix {
	sorted := append([]int(nil), rows...)
	sort.Ints(sorted)
	slice := bigslice.Flatmap(m.slice, func(row, col int, val float64) ([]int, []int, []float64) {
		i := sort.SearchInts(sorted, row)
		if i == len(sorted) || sorted[i] != row {
			return nil, nil, nil
		}
		return []int{i}, []int{col}, []float64{val}
	})
	return &Matrix{len(sorted), m.cols, slice}
}

// SampleRows draws a uniform random subset of floor(percent*rows)
// distinct rows of m, re-indexed to a contiguous row range (see
// FilterRows). It returns ErrInvalidSampleSize when the computed
// sample size is less than one.
func SampleRows(r *rand.Rand, m *Matrix, percent float64) (*Matrix, error) {
	pick := int(percent * float64(m.rows))
	if pick < 1 {
		return nil, ErrInvalidSampleSize
	}
	rows, err := UniqueSample(r, 0, m.rows-1, pick)
	if err != nil {
		return nil, err
	}
	return FilterRows(m, rows), nil
}
