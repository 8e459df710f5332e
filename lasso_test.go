// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package calasso_test

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/grailbio/bigslice/exec"
	"github.com/grailbio/calasso"
	"github.com/grailbio/calasso/coo"
	"gonum.org/v1/gonum/mat"
)

// synthetic builds a noiseless least-squares problem y = X·wopt with
// n observations and a sparse optimal weight vector, so that wopt is
// also the exact unregularized least-squares solution.
func synthetic(r *rand.Rand, n int, wopt []float64) (x, y *coo.Matrix, xd *mat.Dense) {
	d := len(wopt)
	xd = mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			xd.Set(i, j, r.NormFloat64())
		}
	}
	var yd mat.VecDense
	yd.MulVec(xd, mat.NewVecDense(d, wopt))
	return coo.FromDense(2, xd), coo.FromDense(2, &yd), xd
}

func TestSolve(t *testing.T) {
	var (
		r       = rand.New(rand.NewSource(0))
		wopt    = []float64{3, -2, 0, 0, 0}
		x, y, _ = synthetic(r, 20, wopt)
		sess    = exec.Start(exec.Local)
		ctx     = context.Background()
		params  = calasso.Params{
			SampleFraction: 0.5,
			Samples:        5,
			Iterations:     50,
			InnerSteps:     10,
			Gamma:          0.01,
			Lambda:         0.1,
			Optimum:        wopt,
			Rand:           rand.New(rand.NewSource(1)),
		}
	)
	w, iters, err := calasso.Solve(ctx, sess, x, y, params)
	if err != nil {
		t.Fatal(err)
	}
	if iters >= params.Iterations {
		t.Errorf("consumed all %d iterations without stopping early", iters)
	}
	if rows, cols := w.Dims(); rows != 5 || cols != 1 {
		t.Fatalf("got %dx%d, want 5x1", rows, cols)
	}
	dense, err := w.Dense(ctx, sess)
	if err != nil {
		t.Fatal(err)
	}
	var (
		got    = dense.ColView(0)
		optVec = mat.NewVecDense(len(wopt), wopt)
		diff   mat.VecDense
	)
	diff.SubVec(got, optVec)
	relerr := mat.Norm(&diff, 2) / mat.Norm(optVec, 2)
	if relerr >= 0.1 {
		t.Errorf("relative error %v, want < 0.1", relerr)
	}
	// The L1 penalty shrinks the fit: its L1 norm must come in under
	// the least-squares solution's (wopt exactly, by construction).
	if got, want := mat.Norm(got, 1), mat.Norm(optVec, 1); got >= want {
		t.Errorf("L1 norm %v not below least-squares L1 norm %v", got, want)
	}
}

func TestSolveObjectiveImproves(t *testing.T) {
	var (
		r       = rand.New(rand.NewSource(2))
		wopt    = []float64{1, 0, -1, 0}
		x, y, _ = synthetic(r, 16, wopt)
		sess    = exec.Start(exec.Local)
		ctx     = context.Background()
	)
	w, _, err := calasso.Solve(ctx, sess, x, y, calasso.Params{
		SampleFraction: 0.5,
		Samples:        2,
		Iterations:     10,
		InnerSteps:     10,
		Gamma:          0.01,
		Lambda:         0.01,
		Rand:           rand.New(rand.NewSource(3)),
	})
	if err != nil {
		t.Fatal(err)
	}
	dense, err := w.Dense(ctx, sess)
	if err != nil {
		t.Fatal(err)
	}
	fitted, err := calasso.Objective(ctx, sess, x, y, dense.ColView(0), 0.01)
	if err != nil {
		t.Fatal(err)
	}
	zero, err := calasso.Objective(ctx, sess, x, y, mat.NewVecDense(4, nil), 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if fitted >= zero {
		t.Errorf("objective %v did not improve on the zero vector's %v", fitted, zero)
	}
}

func TestObjective(t *testing.T) {
	// X = I(2), y = (1, 2): at w = 0 the objective is
	// (1/4)(1 + 4) = 1.25 plus the (empty) penalty.
	x := coo.FromEntries(1, 2, 2, []coo.Entry{
		{Row: 0, Col: 0, Val: 1},
		{Row: 1, Col: 1, Val: 1},
	})
	y := coo.FromEntries(1, 2, 1, []coo.Entry{
		{Row: 0, Col: 0, Val: 1},
		{Row: 1, Col: 0, Val: 2},
	})
	sess := exec.Start(exec.Local)
	ctx := context.Background()
	got, err := calasso.Objective(ctx, sess, x, y, mat.NewVecDense(2, nil), 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if want := 1.25; math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
	// At w = y the residual vanishes and only the penalty remains.
	got, err = calasso.Objective(ctx, sess, x, y, mat.NewVecDense(2, []float64{1, 2}), 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if want := 1.5; math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSolveDimensionMismatch(t *testing.T) {
	var (
		x    = coo.FromEntries(1, 4, 2, nil)
		y    = coo.FromEntries(1, 4, 1, nil)
		bady = coo.FromEntries(1, 3, 1, nil)
		sess = exec.Start(exec.Local)
		ctx  = context.Background()
	)
	params := calasso.Params{
		SampleFraction: 0.5,
		Samples:        1,
		Iterations:     1,
		InnerSteps:     1,
		Gamma:          0.01,
	}
	if _, _, err := calasso.Solve(ctx, sess, x, bady, params); err != coo.ErrDimensionMismatch {
		t.Errorf("got %v, want %v", err, coo.ErrDimensionMismatch)
	}
	params.Optimum = []float64{1, 2, 3} // d is 2
	if _, _, err := calasso.Solve(ctx, sess, x, y, params); err != coo.ErrDimensionMismatch {
		t.Errorf("got %v, want %v", err, coo.ErrDimensionMismatch)
	}
}

func TestSolveInvalidParams(t *testing.T) {
	var (
		x    = coo.FromEntries(1, 4, 2, nil)
		y    = coo.FromEntries(1, 4, 1, nil)
		sess = exec.Start(exec.Local)
		ctx  = context.Background()
	)
	valid := calasso.Params{
		SampleFraction: 0.5,
		Samples:        1,
		Iterations:     1,
		InnerSteps:     1,
		Gamma:          0.01,
	}
	for _, mutate := range []func(*calasso.Params){
		func(p *calasso.Params) { p.SampleFraction = 0 },
		func(p *calasso.Params) { p.SampleFraction = 1.5 },
		func(p *calasso.Params) { p.Samples = 0 },
		func(p *calasso.Params) { p.Iterations = 0 },
		func(p *calasso.Params) { p.InnerSteps = 0 },
		func(p *calasso.Params) { p.Gamma = 0 },
		func(p *calasso.Params) { p.Lambda = -1 },
	} {
		params := valid
		mutate(&params)
		if _, _, err := calasso.Solve(ctx, sess, x, y, params); err != calasso.ErrInvalidParam {
			t.Errorf("params %+v: got %v, want %v", params, err, calasso.ErrInvalidParam)
		}
	}
}

func TestSolveZeroOptimum(t *testing.T) {
	var (
		r       = rand.New(rand.NewSource(4))
		x, y, _ = synthetic(r, 8, []float64{1, -1})
		sess    = exec.Start(exec.Local)
		ctx     = context.Background()
		params  = calasso.Params{
			SampleFraction: 0.5,
			Samples:        2,
			Iterations:     4,
			InnerSteps:     2,
			Gamma:          0.01,
			Lambda:         0.1,
			Optimum:        []float64{0, 0}, // norm is zero: unusable reference
			Rand:           rand.New(rand.NewSource(5)),
		}
	)
	w, iters, err := calasso.Solve(ctx, sess, x, y, params)
	if err != nil {
		t.Fatal(err)
	}
	if w == nil {
		t.Fatal("no weights returned")
	}
	// Early stopping must be disabled, not tripped by a division by
	// the zero reference norm.
	if iters != params.Iterations {
		t.Errorf("consumed %d iterations, want the full budget of %d", iters, params.Iterations)
	}
}
