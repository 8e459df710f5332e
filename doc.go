// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package calasso implements communication-avoiding L1-regularized
	least-squares regression (LASSO) on top of bigslice. The solver
	minimizes

		(1/2n)‖X·w − y‖² + λ‖w‖₁

	by accelerated proximal gradient descent over stochastic models of
	the gradient. Rather than exchanging gradient statistics with the
	cluster on every iteration, the solver batches k iterations' worth
	of row-subsampled Gram and correlation estimates into a single
	communication round, then iterates locally on the resulting
	feature-sized dense matrices. The distributed observation matrix is
	touched exactly once per communication round.

	Observations and labels are represented as distributed sparse
	matrices in coordinate form; see package
	github.com/grailbio/calasso/coo.
*/
package calasso
