// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package coo_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/grailbio/bigslice/slicetest"
	"github.com/grailbio/calasso/coo"
)

const epsilon = 1e-9

// gather materializes a matrix's entries into a coordinate map,
// summing duplicate coordinates and dropping zero sums, so that
// matrices can be compared regardless of entry order or explicit
// zeros.
func gather(t *testing.T, m *coo.Matrix) map[[2]int]float64 {
	t.Helper()
	var (
		rows []int
		cols []int
		vals []float64
	)
	slicetest.RunAndScan(t, m.Slice(), &rows, &cols, &vals)
	cells := make(map[[2]int]float64)
	for i := range rows {
		cells[[2]int{rows[i], cols[i]}] += vals[i]
	}
	for key, val := range cells {
		if val == 0 {
			delete(cells, key)
		}
	}
	return cells
}

func expectCells(t *testing.T, got, want map[[2]int]float64) {
	t.Helper()
	for key, val := range want {
		if math.Abs(got[key]-val) > epsilon {
			t.Errorf("cell %v: got %v, want %v", key, got[key], val)
		}
	}
	for key, val := range got {
		if _, ok := want[key]; !ok && math.Abs(val) > epsilon {
			t.Errorf("cell %v: got %v, want 0", key, val)
		}
	}
}

// randMatrix returns a rows x cols matrix with the given number of
// (possibly duplicate) random entries.
func randMatrix(r *rand.Rand, nshard, rows, cols, nentry int) *coo.Matrix {
	entries := make([]coo.Entry, nentry)
	for i := range entries {
		entries[i] = coo.Entry{
			Row: r.Intn(rows),
			Col: r.Intn(cols),
			Val: r.NormFloat64(),
		}
	}
	return coo.FromEntries(nshard, rows, cols, entries)
}

func TestFromEntries(t *testing.T) {
	m := coo.FromEntries(2, 3, 4, []coo.Entry{
		{Row: 0, Col: 1, Val: 2},
		{Row: 2, Col: 3, Val: -1},
		{Row: 0, Col: 1, Val: 3}, // duplicate coordinates are additive
	})
	if rows, cols := m.Dims(); rows != 3 || cols != 4 {
		t.Fatalf("got %dx%d, want 3x4", rows, cols)
	}
	expectCells(t, gather(t, m), map[[2]int]float64{
		{0, 1}: 5,
		{2, 3}: -1,
	})
}

func TestTranspose(t *testing.T) {
	m := coo.FromEntries(1, 2, 3, []coo.Entry{
		{Row: 0, Col: 2, Val: 1.5},
		{Row: 1, Col: 0, Val: -2},
	})
	mt := m.Transpose()
	if rows, cols := mt.Dims(); rows != 3 || cols != 2 {
		t.Fatalf("got %dx%d, want 3x2", rows, cols)
	}
	expectCells(t, gather(t, mt), map[[2]int]float64{
		{2, 0}: 1.5,
		{0, 1}: -2,
	})
}

func TestShift(t *testing.T) {
	m := coo.FromEntries(1, 2, 2, []coo.Entry{
		{Row: 0, Col: 0, Val: 1},
		{Row: 1, Col: 1, Val: 2},
	})
	shifted := m.Shift(3, 1)
	if rows, cols := shifted.Dims(); rows != 5 || cols != 3 {
		t.Fatalf("got %dx%d, want 5x3", rows, cols)
	}
	expectCells(t, gather(t, shifted), map[[2]int]float64{
		{3, 1}: 1,
		{4, 2}: 2,
	})
}
