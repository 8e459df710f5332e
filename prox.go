// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package calasso

import "gonum.org/v1/gonum/mat"

// SoftThreshold is the proximal operator of the L1 penalty: it
// shrinks x toward zero by lambda, mapping everything in
// [-lambda, lambda] (boundary included) to zero.
func SoftThreshold(x, lambda float64) float64 {
	switch {
	case x > lambda:
		return x - lambda
	case x < -lambda:
		return x + lambda
	}
	return 0
}

// SoftThresholdVec applies SoftThreshold elementwise to x, storing
// the result in dst. The destination may alias x.
func SoftThresholdVec(dst *mat.VecDense, x mat.Vector, lambda float64) {
	for i := 0; i < x.Len(); i++ {
		dst.SetVec(i, SoftThreshold(x.AtVec(i), lambda))
	}
}
