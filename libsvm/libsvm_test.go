// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package libsvm_test

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/bigslice/slicetest"
	"github.com/grailbio/calasso/libsvm"
	"github.com/grailbio/testutil"
)

var nfile int

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	nfile++
	path := filepath.Join(dir, fmt.Sprintf("data%d", nfile))
	if err := ioutil.WriteFile(path, []byte(content), 0666); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeFile(t, dir, `1.5 1:2.0 3:-1.0
-1 2:0.5

0 1:1 4:4
`)
	x, y, err := libsvm.Load(context.Background(), path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if rows, cols := x.Dims(); rows != 3 || cols != 4 {
		t.Fatalf("observations: got %dx%d, want 3x4", rows, cols)
	}
	if rows, cols := y.Dims(); rows != 3 || cols != 1 {
		t.Fatalf("labels: got %dx%d, want 3x1", rows, cols)
	}
	var (
		rows, cols []int
		vals       []float64
	)
	slicetest.RunAndScan(t, x.Slice(), &rows, &cols, &vals)
	got := make(map[[2]int]float64)
	for i := range rows {
		got[[2]int{rows[i], cols[i]}] = vals[i]
	}
	// External indices are 1-based; internal are 0-based.
	want := map[[2]int]float64{
		{0, 0}: 2, {0, 2}: -1,
		{1, 1}: 0.5,
		{2, 0}: 1, {2, 3}: 4,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for key, val := range want {
		if got[key] != val {
			t.Errorf("cell %v: got %v, want %v", key, got[key], val)
		}
	}
	var (
		yrows, ycols []int
		yvals        []float64
	)
	slicetest.RunAndScan(t, y.Slice(), &yrows, &ycols, &yvals)
	labels := make(map[int]float64)
	for i := range yrows {
		labels[yrows[i]] = yvals[i]
	}
	for row, val := range map[int]float64{0: 1.5, 1: -1} {
		if labels[row] != val {
			t.Errorf("label %d: got %v, want %v", row, labels[row], val)
		}
	}
}

func TestLoadMalformed(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	for _, content := range []string{
		"not-a-label 1:2\n",
		"1.0 nocolon\n",
		"1.0 0:2\n", // indices are 1-based
		"1.0 2:abc\n",
		"",
	} {
		path := writeFile(t, dir, content)
		if _, _, err := libsvm.Load(context.Background(), path, 1); err == nil {
			t.Errorf("content %q: expected error", content)
		}
	}
}

func TestLoadVector(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeFile(t, dir, "1.5\n-2\n0\n")
	vec, err := libsvm.LoadVector(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1.5, -2, 0}
	if len(vec) != len(want) {
		t.Fatalf("got %d coefficients, want %d", len(vec), len(want))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("coefficient %d: got %v, want %v", i, vec[i], want[i])
		}
	}
	if _, err := libsvm.LoadVector(context.Background(), writeFile(t, dir, "one\n")); err == nil {
		t.Error("expected error for nonnumeric coefficient")
	}
}
