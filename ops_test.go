// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/pipetest"
)

func TestMap(t *testing.T) {
	d := bigpipe.Range(2, 5, "i")
	d = bigpipe.Map(d, func(i int64) (int64, int64) { return i, i * i }, "i", "sq")
	var is, sqs []int64
	pipetest.RunAndScan(t, d, &is, &sqs)
	if got, want := is, []int64{0, 1, 2, 3, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := sqs, []int64{0, 1, 4, 9, 16}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMapDefaultNames(t *testing.T) {
	d := bigpipe.Map(bigpipe.Range(1, 3, "i"), func(i int64) (int64, string) { return i, "x" })
	if got, want := d.Name(0), "c0"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := d.Name(1), "c1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMapTypeMismatch(t *testing.T) {
	expectTypecheckPanic(t, func() {
		bigpipe.Map(bigpipe.Range(1, 3, "i"), func(s string) string { return s })
	})
}

func TestFilter(t *testing.T) {
	d := bigpipe.Range(3, 10, "i")
	d = bigpipe.Filter(d, func(i int64) bool { return i%2 == 0 })
	var is []int64
	pipetest.RunAndScan(t, d, &is)
	if got, want := is, []int64{0, 2, 4, 6, 8}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWithColumn(t *testing.T) {
	d := bigpipe.Const(1,
		[]string{"name", "age"},
		[]string{"ann", "bob"},
		[]int64{31, 42},
	)
	d = bigpipe.WithColumn(d, "label", func(name string, age int64) string {
		if age > 40 {
			return strings.ToUpper(name)
		}
		return name
	})
	if got, want := d.NumOut(), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	var (
		names, labels []string
		ages          []int64
	)
	pipetest.RunAndScan(t, d, &names, &ages, &labels)
	if got, want := labels, []string{"ann", "BOB"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWithColumnSubset(t *testing.T) {
	d := bigpipe.Const(1,
		[]string{"name", "age", "height"},
		[]string{"ann", "bob"},
		[]int64{31, 42},
		[]float64{1.70, 1.85},
	)
	// The function sees only the named columns, in the given order.
	d = bigpipe.WithColumn(d, "desc", func(height float64, name string) string {
		if height > 1.80 {
			return name + " (tall)"
		}
		return name
	}, "height", "name")
	var (
		names, descs []string
		ages         []int64
		heights      []float64
	)
	pipetest.RunAndScan(t, d, &names, &ages, &heights, &descs)
	if got, want := descs, []string{"ann", "bob (tall)"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWithColumnDuplicate(t *testing.T) {
	expectTypecheckPanic(t, func() {
		bigpipe.WithColumn(bigpipe.Range(1, 3, "i"), "i", func(i int64) int64 { return i })
	})
}

func TestProject(t *testing.T) {
	d := bigpipe.Const(2,
		[]string{"name", "age", "height"},
		[]string{"ann", "bob", "cat"},
		[]int64{31, 42, 17},
		[]float64{1.70, 1.85, 1.60},
	)
	p := bigpipe.Project(d, "height", "name")
	if got, want := p.NumOut(), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := p.Name(0), "height"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var (
		heights []float64
		names   []string
	)
	pipetest.RunAndScan(t, p, &heights, &names)
	if got, want := heights, []float64{1.70, 1.85, 1.60}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := names, []string{"ann", "bob", "cat"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestProjectMissingColumn(t *testing.T) {
	expectTypecheckPanic(t, func() {
		bigpipe.Project(bigpipe.Range(1, 3, "i"), "nope")
	})
}

func TestHead(t *testing.T) {
	d := bigpipe.Head(bigpipe.Range(2, 10, "i"), 2)
	var is []int64
	pipetest.RunAndScan(t, d, &is)
	// Head limits each partition separately.
	if got, want := is, []int64{0, 1, 5, 6}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func expectTypecheckPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	f()
}
