// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package calasso_test

import (
	"testing"

	"github.com/grailbio/calasso"
	"gonum.org/v1/gonum/mat"
)

func TestSoftThreshold(t *testing.T) {
	for _, c := range []struct {
		x, lambda, want float64
	}{
		{1.0, 0.5, 0.5},
		{-1.0, 0.5, -0.5},
		{0.3, 0.5, 0},
		{-0.3, 0.5, 0},
		{0.5, 0.5, 0}, // boundary maps to zero
		{-0.5, 0.5, 0},
		{2, 0, 2},
		{0, 0.5, 0},
	} {
		if got := calasso.SoftThreshold(c.x, c.lambda); got != c.want {
			t.Errorf("SoftThreshold(%v, %v): got %v, want %v", c.x, c.lambda, got, c.want)
		}
	}
}

func TestSoftThresholdVec(t *testing.T) {
	x := mat.NewVecDense(4, []float64{1, -1, 0.3, 0.5})
	dst := mat.NewVecDense(4, nil)
	calasso.SoftThresholdVec(dst, x, 0.5)
	want := []float64{0.5, -0.5, 0, 0}
	for i, w := range want {
		if got := dst.AtVec(i); got != w {
			t.Errorf("element %d: got %v, want %v", i, got, w)
		}
	}
	// Destination may alias the argument.
	calasso.SoftThresholdVec(x, x, 0.5)
	for i, w := range want {
		if got := x.AtVec(i); got != w {
			t.Errorf("aliased element %d: got %v, want %v", i, got, w)
		}
	}
}
