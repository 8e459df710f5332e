// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package coo_test

import (
	"math/rand"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/calasso/coo"
	"gonum.org/v1/gonum/mat"
)

func TestMultiply(t *testing.T) {
	// | 1 2 0 |   | 1 0 |   |  1  8 |
	// | 0 0 3 | x | 0 4 | = | 15  0 |
	//             | 5 0 |
	a := coo.FromEntries(2, 2, 3, []coo.Entry{
		{Row: 0, Col: 0, Val: 1},
		{Row: 0, Col: 1, Val: 2},
		{Row: 1, Col: 2, Val: 3},
	})
	b := coo.FromEntries(2, 3, 2, []coo.Entry{
		{Row: 0, Col: 0, Val: 1},
		{Row: 1, Col: 1, Val: 4},
		{Row: 2, Col: 0, Val: 5},
	})
	prod, err := coo.Multiply(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if rows, cols := prod.Dims(); rows != 2 || cols != 2 {
		t.Fatalf("got %dx%d, want 2x2", rows, cols)
	}
	expectCells(t, gather(t, prod), map[[2]int]float64{
		{0, 0}: 1,
		{0, 1}: 8,
		{1, 0}: 15,
	})
}

func TestMultiplyRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	a := randMatrix(r, 3, 7, 5, 20)
	b := randMatrix(r, 2, 5, 4, 15)
	prod, err := coo.Multiply(a, b)
	if err != nil {
		t.Fatal(err)
	}
	var (
		ad = denseOf(t, a)
		bd = denseOf(t, b)
		cd mat.Dense
	)
	cd.Mul(ad, bd)
	want := make(map[[2]int]float64)
	for i := 0; i < 7; i++ {
		for j := 0; j < 4; j++ {
			if v := cd.At(i, j); v != 0 {
				want[[2]int{i, j}] = v
			}
		}
	}
	expectCells(t, gather(t, prod), want)
}

// denseOf materializes a matrix without a session, for comparison
// against gonum arithmetic.
func denseOf(t *testing.T, m *coo.Matrix) *mat.Dense {
	t.Helper()
	rows, cols := m.Dims()
	d := mat.NewDense(rows, cols, nil)
	for key, val := range gather(t, m) {
		d.Set(key[0], key[1], val)
	}
	return d
}

func TestMultiplyMismatch(t *testing.T) {
	a := coo.FromEntries(1, 2, 3, nil)
	b := coo.FromEntries(1, 4, 2, nil)
	if _, err := coo.Multiply(a, b); err != coo.ErrDimensionMismatch {
		t.Errorf("got %v, want %v", err, coo.ErrDimensionMismatch)
	}
}

func TestAddAssociative(t *testing.T) {
	fz := fuzz.New()
	fz.NilChance(0)
	fz.NumElements(30, 30)
	var vals [3][]float64
	for i := range vals {
		fz.Fuzz(&vals[i])
	}
	r := rand.New(rand.NewSource(2))
	abc := make([]*coo.Matrix, 3)
	for i := range abc {
		entries := make([]coo.Entry, len(vals[i]))
		for j := range entries {
			entries[j] = coo.Entry{Row: r.Intn(6), Col: r.Intn(4), Val: vals[i][j]}
		}
		abc[i] = coo.FromEntries(2, 6, 4, entries)
	}
	ab, err := coo.Add(abc[0], abc[1], false)
	if err != nil {
		t.Fatal(err)
	}
	left, err := coo.Add(ab, abc[2], false)
	if err != nil {
		t.Fatal(err)
	}
	bc, err := coo.Add(abc[1], abc[2], false)
	if err != nil {
		t.Fatal(err)
	}
	right, err := coo.Add(abc[0], bc, false)
	if err != nil {
		t.Fatal(err)
	}
	expectCells(t, gather(t, left), gather(t, right))
}

func TestSubtractRoundtrip(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	a := randMatrix(r, 2, 5, 5, 12)
	b := randMatrix(r, 3, 5, 5, 12)
	diff, err := coo.Add(a, b, true)
	if err != nil {
		t.Fatal(err)
	}
	back, err := coo.Add(diff, b, false)
	if err != nil {
		t.Fatal(err)
	}
	expectCells(t, gather(t, back), gather(t, a))
}

func TestAddMismatch(t *testing.T) {
	a := coo.FromEntries(1, 2, 3, nil)
	b := coo.FromEntries(1, 2, 4, nil)
	if _, err := coo.Add(a, b, false); err != coo.ErrDimensionMismatch {
		t.Errorf("got %v, want %v", err, coo.ErrDimensionMismatch)
	}
}

func TestScale(t *testing.T) {
	m := coo.FromEntries(1, 2, 2, []coo.Entry{
		{Row: 0, Col: 0, Val: 2},
		{Row: 1, Col: 1, Val: -3},
	})
	expectCells(t, gather(t, coo.Scale(m, 0.5)), map[[2]int]float64{
		{0, 0}: 1,
		{1, 1}: -1.5,
	})
}
