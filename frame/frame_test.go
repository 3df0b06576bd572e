// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package frame

import (
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/bigpipe/schema"
)

func TestColumns(t *testing.T) {
	f := Columns([]string{"name", "age"}, []string{"ann", "bob"}, []int64{31, 42})
	if got, want := f.Len(), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := f.NumOut(), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := f.Name(0), "name"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := f.Out(1), reflect.TypeOf(int64(0)); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := f.Index(0, 1).Interface(), "bob"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSlice(t *testing.T) {
	f := Columns([]string{"x"}, []int64{0, 1, 2, 3, 4})
	g := f.Slice(1, 4)
	if got, want := g.Len(), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := g.Value(0).Interface(), []int64{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAppendFrame(t *testing.T) {
	var f Frame
	f = AppendFrame(f, Columns([]string{"x"}, []int64{0, 1}))
	f = AppendFrame(f, Columns([]string{"x"}, []int64{2}))
	if got, want := f.Value(0).Interface(), []int64{0, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEnsure(t *testing.T) {
	typ := schema.New(schema.Field{Name: "x", Type: reflect.TypeOf(int64(0))})
	f := Make(typ, 4, 16)
	g := f.Ensure(8)
	if got, want := g.Len(), 8; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Within capacity, storage is reused.
	if got, want := g.Value(0).Pointer(), f.Value(0).Pointer(); got != want {
		t.Errorf("expected storage to be reused")
	}
	h := f.Ensure(32)
	if got, want := h.Len(), 32; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCopy(t *testing.T) {
	src := Columns([]string{"x", "y"}, []int64{1, 2, 3}, []string{"a", "b", "c"})
	dst := Make(src.Schema(), 2, 2)
	if got, want := Copy(dst, src), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := dst.Value(1).Interface(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestHash(t *testing.T) {
	fz := fuzz.NewWithSeed(1)
	fz.NilChance(0)
	fz.NumElements(100, 100)
	var (
		keys []string
		vals []float64
	)
	fz.Fuzz(&keys)
	fz.Fuzz(&vals)
	f := Columns([]string{"key", "val"}, keys, vals)
	g := Columns([]string{"key", "val"}, keys, vals)
	for i := 0; i < f.Len(); i++ {
		// Hashes depend only on row contents.
		if got, want := f.Hash(i), g.Hash(i); got != want {
			t.Errorf("row %d: got %v, want %v", i, got, want)
		}
		if got, want := f.HashCol(0, i), g.HashCol(0, i); got != want {
			t.Errorf("row %d: got %v, want %v", i, got, want)
		}
	}
}

func TestHashSlices(t *testing.T) {
	f := Columns([]string{"vec"}, [][]float64{{1, 2}, {1, 2}, {2, 1}})
	if got, want := f.Hash(0), f.Hash(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if f.Hash(0) == f.Hash(2) {
		t.Errorf("expected different hashes for different contents")
	}
}

func TestSort(t *testing.T) {
	f := Columns([]string{"x", "tag"},
		[]int64{3, 1, 2, 1},
		[]string{"c", "a1", "b", "a2"},
	)
	if !CanSort(f.Out(0)) {
		t.Fatal("int64 must be sortable")
	}
	f.Sort(0)
	if got, want := f.Value(0).Interface(), []int64{1, 1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	// The sort is stable and rows move together.
	if got, want := f.Value(1).Interface(), []string{"a1", "a2", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCanHash(t *testing.T) {
	for _, c := range []struct {
		typ reflect.Type
		ok  bool
	}{
		{reflect.TypeOf(""), true},
		{reflect.TypeOf(int64(0)), true},
		{reflect.TypeOf([]float64(nil)), true},
		{reflect.TypeOf(map[string]int(nil)), false},
		{reflect.TypeOf(struct{}{}), false},
	} {
		if got, want := CanHash(c.typ), c.ok; got != want {
			t.Errorf("%s: got %v, want %v", c.typ, got, want)
		}
	}
}
