// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package libsvm loads datasets in the sparse labeled feature
// format: one observation per line, a numeric label followed by
// whitespace-separated index:value pairs with 1-based feature
// indices. Indices are converted to 0-based internally. Paths are
// resolved with grailbio/base/file and so may name local files or
// any registered remote implementation (e.g. s3).
package libsvm

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/calasso/coo"
)

// ErrMalformedInput is returned when a dataset or vector file
// contains a line that cannot be parsed.
var ErrMalformedInput = errors.New("malformed input")

// Load reads a dataset from the named path, returning the n x d
// observation matrix and the n x 1 label matrix, both distributed
// over nshard shards. The feature dimension d is taken as the
// largest feature index observed; rows are numbered by line order.
func Load(ctx context.Context, path string, nshard int) (x, y *coo.Matrix, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close(ctx)
	var (
		features []coo.Entry
		labels   []coo.Entry
		d        int
		row      int
		scan     = bufio.NewScanner(f.Reader(ctx))
	)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		label, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, nil, errors.E(ErrMalformedInput, fmt.Sprintf("%s:%d: bad label %q", path, row+1, fields[0]))
		}
		labels = append(labels, coo.Entry{Row: row, Col: 0, Val: label})
		for _, field := range fields[1:] {
			sep := strings.IndexByte(field, ':')
			if sep < 0 {
				return nil, nil, errors.E(ErrMalformedInput, fmt.Sprintf("%s:%d: bad feature %q", path, row+1, field))
			}
			idx, err := strconv.Atoi(field[:sep])
			if err != nil || idx < 1 {
				return nil, nil, errors.E(ErrMalformedInput, fmt.Sprintf("%s:%d: bad feature index %q", path, row+1, field))
			}
			val, err := strconv.ParseFloat(field[sep+1:], 64)
			if err != nil {
				return nil, nil, errors.E(ErrMalformedInput, fmt.Sprintf("%s:%d: bad feature value %q", path, row+1, field))
			}
			if idx > d {
				d = idx
			}
			features = append(features, coo.Entry{Row: row, Col: idx - 1, Val: val})
		}
		row++
	}
	if err := scan.Err(); err != nil {
		return nil, nil, err
	}
	if row == 0 || d == 0 {
		return nil, nil, errors.E(ErrMalformedInput, fmt.Sprintf("%s: empty dataset", path))
	}
	x = coo.FromEntries(nshard, row, d, features)
	y = coo.FromEntries(nshard, row, 1, labels)
	return x, y, nil
}

// LoadVector reads a dense vector from the named path, one
// coefficient per line in index order. It is used to load reference
// optimal weight vectors for the solver's early-stop check.
func LoadVector(ctx context.Context, path string) ([]float64, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	var (
		vec  []float64
		scan = bufio.NewScanner(f.Reader(ctx))
	)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, errors.E(ErrMalformedInput, fmt.Sprintf("%s:%d: bad coefficient %q", path, len(vec)+1, line))
		}
		vec = append(vec, v)
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	return vec, nil
}
