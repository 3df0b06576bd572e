// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pipetest provides utilities for testing bigpipe user code.
// The utilities here are generally not optimized for performance or
// robustness; they are strictly intended for unit testing.
package pipetest

import (
	"context"
	"reflect"
	"testing"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/exec"
	"github.com/grailbio/bigpipe/rowio"
)

// Run evaluates the provided dataset in local execution mode,
// returning a scanner for the result. Errors are reported as fatal
// to the provided t instance. Run is intended for unit testing of
// Dataset implementations.
func Run(t *testing.T, dataset bigpipe.Dataset) *rowio.Scanner {
	t.Helper()
	ctx := context.Background()
	sess := exec.Start(exec.Local)
	res, err := sess.Run(ctx, dataset)
	if err != nil {
		t.Fatal(err)
	}
	return res.Scanner()
}

// ScanAll scans all rows from the scanner into the provided columns,
// which must be pointers to slices of the correct column types. For
// example, to read all values for a Dataset<id int, name string>:
//
//	var (
//		ids []int
//		names []string
//	)
//	ScanAll(test, scan, &ids, &names)
//
// Errors are reported as fatal to the provided t instance.
func ScanAll(t *testing.T, scan *rowio.Scanner, cols ...interface{}) {
	t.Helper()
	vs := make([]reflect.Value, len(cols))
	elemTypes := make([]reflect.Type, len(cols))
	for i := range vs {
		vs[i] = reflect.Indirect(reflect.ValueOf(cols[i]))
		vs[i].Set(vs[i].Slice(0, 0))
		elemTypes[i] = vs[i].Type().Elem()
	}
	ctx := context.Background()
	args := make([]interface{}, len(cols))
	for n := 0; ; n++ {
		for i := range vs {
			vs[i].Set(reflect.Append(vs[i], reflect.Zero(elemTypes[i])))
			args[i] = vs[i].Index(n).Addr().Interface()
		}
		if !scan.Scan(ctx, args...) {
			for i := range vs {
				vs[i].Set(vs[i].Slice(0, n))
			}
			break
		}
	}
	if err := scan.Err(); err != nil {
		t.Fatal(err)
	}
}

// RunAndScan evaluates the provided dataset and scans its results
// into the provided slice pointers. Errors are reported as fatal to
// the provided t instance.
func RunAndScan(t *testing.T, dataset bigpipe.Dataset, cols ...interface{}) {
	t.Helper()
	ScanAll(t, Run(t, dataset), cols...)
}
