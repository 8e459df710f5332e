// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package coo_test

import (
	"math/rand"
	"testing"

	"github.com/grailbio/calasso/coo"
)

func TestUniqueSample(t *testing.T) {
	r := rand.New(rand.NewSource(0))
	for _, count := range []int{1, 5, 10} {
		sample, err := coo.UniqueSample(r, 3, 12, count)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(sample), count; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		seen := make(map[int]bool)
		for _, v := range sample {
			if v < 3 || v > 12 {
				t.Errorf("sample %d out of range [3, 12]", v)
			}
			if seen[v] {
				t.Errorf("sample %d repeated", v)
			}
			seen[v] = true
		}
	}
}

func TestUniqueSampleInvalid(t *testing.T) {
	r := rand.New(rand.NewSource(0))
	for _, count := range []int{0, -1, 11} {
		if _, err := coo.UniqueSample(r, 3, 12, count); err != coo.ErrInvalidSampleSize {
			t.Errorf("count %d: got %v, want %v", count, err, coo.ErrInvalidSampleSize)
		}
	}
}

func TestFilterRows(t *testing.T) {
	// Each row carries its own index so re-indexing is observable.
	entries := make([]coo.Entry, 0, 12)
	for row := 0; row < 6; row++ {
		entries = append(entries,
			coo.Entry{Row: row, Col: 0, Val: float64(row)},
			coo.Entry{Row: row, Col: 1, Val: float64(row) + 0.25},
		)
	}
	m := coo.FromEntries(2, 6, 2, entries)
	filtered := coo.FilterRows(m, []int{4, 1, 5})
	if rows, cols := filtered.Dims(); rows != 3 || cols != 2 {
		t.Fatalf("got %dx%d, want 3x2", rows, cols)
	}
	// Ranks within the sorted index set {1, 4, 5}.
	expectCells(t, gather(t, filtered), map[[2]int]float64{
		{0, 0}: 1, {0, 1}: 1.25,
		{1, 0}: 4, {1, 1}: 4.25,
		{2, 0}: 5, {2, 1}: 5.25,
	})
}

func TestSampleRows(t *testing.T) {
	entries := make([]coo.Entry, 10)
	for row := range entries {
		entries[row] = coo.Entry{Row: row, Col: 0, Val: float64(row)}
	}
	m := coo.FromEntries(2, 10, 1, entries)
	sampled, err := coo.SampleRows(rand.New(rand.NewSource(0)), m, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if rows, cols := sampled.Dims(); rows != 5 || cols != 1 {
		t.Fatalf("got %dx%d, want 5x1", rows, cols)
	}
	cells := gather(t, sampled)
	// Sampled rows are re-indexed to [0, 5) by rank, so the carried
	// original indices must be distinct and increasing.
	prev := -1.0
	for i := 0; i < 5; i++ {
		val, ok := cells[[2]int{i, 0}]
		if i > 0 && !ok {
			t.Fatalf("missing row %d", i)
		}
		// Row 0's carried value is 0 and may materialize as an
		// implicit zero; treat absence as zero.
		if val <= prev {
			t.Errorf("row %d: carried index %v not increasing (prev %v)", i, val, prev)
		}
		prev = val
	}
}

func TestSampleRowsInvalid(t *testing.T) {
	m := coo.FromEntries(1, 10, 1, nil)
	r := rand.New(rand.NewSource(0))
	if _, err := coo.SampleRows(r, m, 0.05); err != coo.ErrInvalidSampleSize {
		t.Errorf("got %v, want %v", err, coo.ErrInvalidSampleSize)
	}
}
