// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Calasso fits an L1-regularized least-squares model to a dataset in
// sparse labeled feature format using the communication-avoiding
// accelerated proximal gradient solver. Datasets may be read from
// local paths or s3. If a reference optimal weight vector is
// supplied with -opt, the solver stops early once its relative error
// against the reference falls below -tol.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	_ "net/http/pprof"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigslice/exec"
	"github.com/grailbio/bigslice/slicecmd"
	"github.com/grailbio/calasso"
	"github.com/grailbio/calasso/libsvm"
)

func init() {
	file.RegisterImplementation("s3", s3file.NewImplementation(
		s3file.NewDefaultProvider(session.Options{})))
}

func main() {
	var (
		data    = flag.String("data", "", "dataset path (sparse labeled feature format)")
		opt     = flag.String("opt", "", "optional reference optimum path, one coefficient per line")
		out     = flag.String("o", "", "output path for the fitted weights; stdout if empty")
		b       = flag.Float64("b", 0.1, "row sample fraction per gradient model")
		k       = flag.Int("k", 8, "gradient models fetched per communication round")
		t       = flag.Int("t", 100, "total iteration budget")
		q       = flag.Int("q", 10, "proximal-gradient steps per gradient model")
		gamma   = flag.Float64("gamma", 0.01, "gradient step size")
		lambda  = flag.Float64("lambda", 0.1, "L1 regularization strength")
		tol     = flag.Float64("tol", 0.1, "early-stop relative error threshold")
		nshard  = flag.Int("nshard", 8, "number of shards for the dataset")
		seed    = flag.Int64("seed", 0, "sampling seed; 0 means time-seeded")
		verbose = flag.Bool("v", false, "log the objective each iteration")
	)
	// The solver gathers its sampled gradient models with
	// dynamically created Funcs, which remote workers cannot
	// replay, so no remote systems are registered: the session
	// must evaluate in this process.
	slicecmd.Main(func(sess *exec.Session, args []string) error {
		if *data == "" {
			return fmt.Errorf("missing flag -data")
		}
		ctx := context.Background()
		x, y, err := libsvm.Load(ctx, *data, *nshard)
		if err != nil {
			return err
		}
		n, d := x.Dims()
		log.Printf("loaded %s: %d observations, %d features", *data, n, d)
		params := calasso.Params{
			SampleFraction: *b,
			Samples:        *k,
			Iterations:     *t,
			InnerSteps:     *q,
			Gamma:          *gamma,
			Lambda:         *lambda,
			Tol:            *tol,
			Verbose:        *verbose,
		}
		if *seed != 0 {
			params.Rand = rand.New(rand.NewSource(*seed))
		}
		if *opt != "" {
			// An unreadable reference only disables early stopping;
			// it never fails the run.
			optimum, err := libsvm.LoadVector(ctx, *opt)
			if err != nil {
				log.Error.Printf("reference optimum %s: %v; continuing without early stop", *opt, err)
			} else {
				params.Optimum = optimum
			}
		}
		w, iters, err := calasso.Solve(ctx, sess, x, y, params)
		if err != nil {
			return err
		}
		log.Printf("solved in %d iterations", iters)
		dense, err := w.Dense(ctx, sess)
		if err != nil {
			return err
		}
		obj, err := calasso.Objective(ctx, sess, x, y, dense.ColView(0), *lambda)
		if err != nil {
			return err
		}
		log.Printf("final objective %g", obj)
		if *out == "" {
			for i := 0; i < d; i++ {
				fmt.Println(dense.At(i, 0))
			}
			return nil
		}
		f, err := file.Create(ctx, *out)
		if err != nil {
			return err
		}
		wr := bufio.NewWriter(f.Writer(ctx))
		for i := 0; i < d; i++ {
			fmt.Fprintln(wr, dense.At(i, 0))
		}
		if err := wr.Flush(); err != nil {
			return err
		}
		return f.Close(ctx)
	})
}
