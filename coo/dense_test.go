// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package coo_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/bigslice/exec"
	"github.com/grailbio/calasso/coo"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

var executors = map[string]exec.Option{
	"Local":           exec.Local,
	"Bigmachine.Test": exec.Bigmachine(testsystem.New()),
}

func TestDense(t *testing.T) {
	m := coo.FromEntries(2, 3, 2, []coo.Entry{
		{Row: 0, Col: 0, Val: 1},
		{Row: 0, Col: 0, Val: 2}, // summed on materialization
		{Row: 2, Col: 1, Val: -4},
	})
	want := mat.NewDense(3, 2, []float64{3, 0, 0, 0, 0, -4})
	ctx := context.Background()
	for name, opt := range executors {
		if testing.Short() && name != "Local" {
			continue
		}
		sess := exec.Start(opt)
		dense, err := m.Dense(ctx, sess)
		if err != nil {
			t.Fatalf("executor %s: %v", name, err)
		}
		if !mat.EqualApprox(dense, want, epsilon) {
			t.Errorf("executor %s: got %v, want %v", name, mat.Formatted(dense), mat.Formatted(want))
		}
	}
}

// TestDenseConcurrent materializes from many goroutines at once.
// Each gather registers a Func on the process-global table, whose
// registration guard panics if two registrations overlap.
func TestDenseConcurrent(t *testing.T) {
	m := coo.FromEntries(2, 2, 2, []coo.Entry{
		{Row: 0, Col: 1, Val: 2},
		{Row: 1, Col: 0, Val: -1},
		{Row: 1, Col: 0, Val: 3},
	})
	want := mat.NewDense(2, 2, []float64{0, 2, 2, 0})
	sess := exec.Start(exec.Local)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			dense, err := m.Dense(ctx, sess)
			if err != nil {
				return err
			}
			if !mat.EqualApprox(dense, want, epsilon) {
				return fmt.Errorf("got %v, want %v", mat.Formatted(dense), mat.Formatted(want))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestDenseRoundtrip(t *testing.T) {
	dense := mat.NewDense(2, 3, []float64{
		1, 0, 2.5,
		0, -3, 0,
	})
	m := coo.FromDense(2, dense)
	if rows, cols := m.Dims(); rows != 2 || cols != 3 {
		t.Fatalf("got %dx%d, want 2x3", rows, cols)
	}
	expectCells(t, gather(t, m), map[[2]int]float64{
		{0, 0}: 1,
		{0, 2}: 2.5,
		{1, 1}: -3,
	})
}

func TestSumSquares(t *testing.T) {
	m := coo.FromEntries(2, 4, 4, []coo.Entry{
		{Row: 0, Col: 0, Val: 1},
		{Row: 0, Col: 0, Val: 2}, // materializes as 3
		{Row: 1, Col: 2, Val: -2},
	})
	sess := exec.Start(exec.Local)
	got, err := coo.SumSquares(context.Background(), sess, m)
	if err != nil {
		t.Fatal(err)
	}
	if want := 13.0; math.Abs(got-want) > epsilon {
		t.Errorf("got %v, want %v", got, want)
	}
}
