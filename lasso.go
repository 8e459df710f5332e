// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package calasso

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigslice/exec"
	"github.com/grailbio/calasso/coo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidParam is returned by Solve when a hyperparameter is out
// of its legal range.
var ErrInvalidParam = errors.New("invalid solver parameter")

// defaultTol is the relative-error threshold below which the solver
// considers itself converged to a supplied reference optimum.
const defaultTol = 0.1

// Params holds the solver's hyperparameters. SampleFraction,
// Samples, Iterations, InnerSteps, Gamma and Lambda correspond to
// the b, k, t, Q, γ and λ of the CA-SPNM method.
type Params struct {
	// SampleFraction is the fraction b in (0, 1] of observation rows
	// drawn for each stochastic gradient model.
	SampleFraction float64
	// Samples is the number k of independent row-subsamples fetched
	// per communication round; one sample is consumed per solver
	// iteration, so k iterations run between cluster exchanges.
	Samples int
	// Iterations is the total iteration budget t.
	Iterations int
	// InnerSteps is the number Q of accelerated proximal-gradient
	// steps taken against each gradient model.
	InnerSteps int
	// Gamma is the gradient step size; must be positive.
	Gamma float64
	// Lambda is the L1 regularization strength; must be nonnegative.
	Lambda float64

	// Optimum, if nonempty, is a reference optimal weight vector. The
	// solver stops early once the relative error of the current
	// weights against Optimum falls below Tol.
	Optimum []float64
	// Tol is the early-stop relative-error threshold. Zero means the
	// default of 0.1.
	Tol float64

	// Rand is the source of sampling randomness. If nil, Solve uses a
	// time-seeded source.
	Rand *rand.Rand
	// Verbose enables per-iteration objective logging. Computing the
	// objective touches the full distributed dataset, so it is off by
	// default.
	Verbose bool
}

func (p Params) validate() error {
	switch {
	case p.SampleFraction <= 0 || p.SampleFraction > 1:
		return ErrInvalidParam
	case p.Samples < 1 || p.Iterations < 1 || p.InnerSteps < 1:
		return ErrInvalidParam
	case p.Gamma <= 0 || p.Lambda < 0:
		return ErrInvalidParam
	}
	return nil
}

// A gradModel is one sampled local model of the loss gradient:
// grad(v) = hess·v − corr, where hess is the scaled Gram estimate
// Xₛᵗ·Xₛ/m and corr the scaled correlation estimate Xₛᵗ·yₛ/m.
type gradModel struct {
	hess *mat.Dense
	corr *mat.VecDense
}

// state is the solver state threaded through the nested loops: the
// accepted weights w, the proximal-gradient iterates z and zprev,
// the momentum scalar carried between steps, and the global step
// index (zero exactly at the first inner step of the run).
type state struct {
	w, z, zprev *mat.VecDense
	tprev       float64
	step        int
}

func newState(d int) *state {
	return &state{
		w:     mat.NewVecDense(d, nil),
		z:     mat.NewVecDense(d, nil),
		zprev: mat.NewVecDense(d, nil),
		tprev: 1,
	}
}

// descend runs q accelerated proximal-gradient (FISTA) steps of step
// size gamma against the given gradient model, updating the state in
// place.
func (s *state) descend(model gradModel, q int, gamma, lambda float64) {
	d := s.z.Len()
	var (
		v    = mat.NewVecDense(d, nil)
		diff = mat.NewVecDense(d, nil)
		grad = mat.NewVecDense(d, nil)
	)
	for i := 0; i < q; i++ {
		tk := nextMomentum(s.tprev)
		if s.step == 0 {
			v.CopyVec(s.z)
		} else {
			diff.SubVec(s.z, s.zprev)
			v.AddScaledVec(s.z, (s.tprev-1)/tk, diff)
		}
		grad.MulVec(model.hess, v)
		grad.SubVec(grad, model.corr)
		v.AddScaledVec(v, -gamma, grad)
		s.zprev.CopyVec(s.z)
		SoftThresholdVec(s.z, v, gamma*lambda)
		s.tprev = tk
		s.step++
	}
}

// nextMomentum advances the FISTA momentum recurrence.
func nextMomentum(tprev float64) float64 {
	return (1 + math.Sqrt(1+4*tprev*tprev)) / 2
}

// Solve runs the communication-avoiding accelerated proximal
// gradient method on the n x d observation matrix x and n x 1 label
// matrix y, returning the fitted weights as a distributed d x 1
// matrix, together with the number of iterations consumed. The count
// is below params.Iterations exactly when the solver stopped early on
// the reference optimum. Solve returns coo.ErrDimensionMismatch when
// the shapes of x, y, or a supplied reference optimum disagree, and
// ErrInvalidParam when a hyperparameter is out of range. The inputs
// are never mutated.
func Solve(ctx context.Context, sess *exec.Session, x, y *coo.Matrix, params Params) (*coo.Matrix, int, error) {
	if err := params.validate(); err != nil {
		return nil, 0, err
	}
	n, d := x.Dims()
	if yn, yc := y.Dims(); yn != n || yc != 1 {
		return nil, 0, coo.ErrDimensionMismatch
	}
	var (
		wopt     *mat.VecDense
		woptNorm float64
	)
	if len(params.Optimum) > 0 {
		if len(params.Optimum) != d {
			return nil, 0, coo.ErrDimensionMismatch
		}
		woptNorm = floats.Norm(params.Optimum, 2)
		if woptNorm == 0 {
			log.Error.Printf("lasso: reference optimum is all zero; continuing without early stop")
		} else {
			wopt = mat.NewVecDense(d, params.Optimum)
		}
	}
	m := int(params.SampleFraction * float64(n))
	if m < 1 {
		return nil, 0, coo.ErrInvalidSampleSize
	}
	r := params.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	tol := params.Tol
	if tol == 0 {
		tol = defaultTol
	}

	var (
		st     = newState(d)
		rounds = (params.Iterations + params.Samples - 1) / params.Samples
		iter   = 0
		diff   = mat.NewVecDense(d, nil)
	)
	for round := 0; round < rounds; round++ {
		// The one step per round that touches the full distributed
		// dataset: fetch k sampled (Gram, correlation) pairs at once.
		models, err := sampleModels(ctx, sess, r, x, y, params.Samples, m)
		if err != nil {
			return nil, iter, err
		}
		for _, model := range models {
			if iter == params.Iterations {
				break
			}
			iter++
			st.descend(model, params.InnerSteps, params.Gamma, params.Lambda)
			st.w.CopyVec(st.z)
			if wopt != nil {
				diff.SubVec(st.w, wopt)
				relerr := mat.Norm(diff, 2) / woptNorm
				log.Printf("lasso: iter %d/%d relative error %.6f", iter, params.Iterations, relerr)
				if relerr < tol {
					log.Printf("lasso: converged after %d iterations (%d rounds)", iter, round+1)
					return coo.FromDense(x.NumShard(), st.w), iter, nil
				}
			}
			if params.Verbose {
				obj, err := Objective(ctx, sess, x, y, st.w, params.Lambda)
				if err != nil {
					return nil, iter, err
				}
				log.Printf("lasso: iter %d/%d objective %g", iter, params.Iterations, obj)
			}
		}
	}
	return coo.FromDense(x.NumShard(), st.w), iter, nil
}

// sampleModels builds the k gradient models of one communication
// round. Row index sets are drawn on the coordinating process; the k
// sampled Gram and correlation estimates are then computed by
// distributed multiplies and gathered one at a time, since each
// gather registers a Func on the process-global table.
func sampleModels(ctx context.Context, sess *exec.Session, r *rand.Rand, x, y *coo.Matrix, k, m int) ([]gradModel, error) {
	n, d := x.Dims()
	models := make([]gradModel, k)
	for j := range models {
		set, err := coo.UniqueSample(r, 0, n-1, m)
		if err != nil {
			return nil, err
		}
		var (
			xs  = coo.FilterRows(x, set)
			ys  = coo.FilterRows(y, set)
			xst = xs.Transpose()
		)
		gram, err := coo.Multiply(xst, xs)
		if err != nil {
			return nil, err
		}
		corr, err := coo.Multiply(xst, ys)
		if err != nil {
			return nil, err
		}
		// Scale by 1/m for an unbiased-in-expectation gradient
		// model.
		hess, err := coo.Scale(gram, 1/float64(m)).Dense(ctx, sess)
		if err != nil {
			return nil, err
		}
		cd, err := coo.Scale(corr, 1/float64(m)).Dense(ctx, sess)
		if err != nil {
			return nil, err
		}
		corrVec := mat.NewVecDense(d, nil)
		for i := 0; i < d; i++ {
			corrVec.SetVec(i, cd.At(i, 0))
		}
		models[j] = gradModel{hess, corrVec}
	}
	return models, nil
}

// Objective evaluates the regularized least-squares objective
// (1/2n)‖X·w − y‖² + λ‖w‖₁ for the given weights. The residual norm
// is computed distributed; only scalars are gathered.
func Objective(ctx context.Context, sess *exec.Session, x, y *coo.Matrix, w mat.Vector, lambda float64) (float64, error) {
	n, d := x.Dims()
	if w.Len() != d {
		return 0, coo.ErrDimensionMismatch
	}
	pred, err := coo.Multiply(x, coo.FromDense(x.NumShard(), w))
	if err != nil {
		return 0, err
	}
	resid, err := coo.Add(pred, y, true)
	if err != nil {
		return 0, err
	}
	ss, err := coo.SumSquares(ctx, sess, resid)
	if err != nil {
		return 0, err
	}
	return ss/(2*float64(n)) + lambda*mat.Norm(w, 1), nil
}
