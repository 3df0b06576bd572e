// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package frame implements a typed, columnar data structure that
// carries batches of dataset rows through bigpipe operations. A
// Frame has a schema; its columns are Go slices of the schema's
// column types, all of equal length.
package frame

import (
	"fmt"
	"reflect"

	"github.com/grailbio/bigpipe/schema"
)

// A Frame is a collection of columns carrying rows of data.
// The zero Frame is invalid; it carries no schema.
type Frame struct {
	typ  schema.Type
	cols []reflect.Value
}

// Empty is an empty, untyped Frame.
var Empty = Frame{typ: schema.New()}

// Make returns a new frame with the provided schema, length, and
// capacity.
func Make(typ schema.Type, n, cap int) Frame {
	f := Frame{typ: typ, cols: make([]reflect.Value, typ.NumOut())}
	for i := range f.cols {
		f.cols[i] = reflect.MakeSlice(reflect.SliceOf(typ.Out(i)), n, cap)
	}
	return f
}

// Columns returns a frame over the provided column slices, which
// must all have equal length. The frame's schema assigns the
// provided names to the columns in order. Columns panics if the
// arguments do not form a valid frame.
func Columns(names []string, columns ...interface{}) Frame {
	if len(names) != len(columns) {
		panic("frame.Columns: mismatched names and columns")
	}
	f := Frame{cols: make([]reflect.Value, len(columns))}
	fields := make([]schema.Field, len(columns))
	n := -1
	for i, col := range columns {
		v := reflect.ValueOf(col)
		if !v.IsValid() || v.Kind() != reflect.Slice {
			panic(fmt.Sprintf("frame.Columns: column %d is not a slice", i))
		}
		if n < 0 {
			n = v.Len()
		} else if v.Len() != n {
			panic(fmt.Sprintf("frame.Columns: column %d has length %d, expected %d", i, v.Len(), n))
		}
		f.cols[i] = v
		fields[i] = schema.Field{Name: names[i], Type: v.Type().Elem()}
	}
	f.typ = schema.New(fields...)
	return f
}

// NumOut implements schema.Type.
func (f Frame) NumOut() int { return f.typ.NumOut() }

// Out implements schema.Type.
func (f Frame) Out(i int) reflect.Type { return f.typ.Out(i) }

// Name implements schema.Type.
func (f Frame) Name(i int) string { return f.typ.Name(i) }

// Schema returns the frame's schema.
func (f Frame) Schema() schema.Type { return f.typ }

// IsValid tells whether this frame is valid, i.e., it carries a
// schema.
func (f Frame) IsValid() bool { return f.typ != nil }

// IsZero tells whether this frame is the zero frame.
func (f Frame) IsZero() bool { return f.typ == nil }

// Len returns the number of rows in the frame.
func (f Frame) Len() int {
	if len(f.cols) == 0 {
		return 0
	}
	return f.cols[0].Len()
}

// Cap returns the row capacity of the frame.
func (f Frame) Cap() int {
	if len(f.cols) == 0 {
		return 0
	}
	return f.cols[0].Cap()
}

// Slice returns the frame comprising rows [i, j).
func (f Frame) Slice(i, j int) Frame {
	g := Frame{typ: f.typ, cols: make([]reflect.Value, len(f.cols))}
	for k, col := range f.cols {
		g.cols[k] = col.Slice(i, j)
	}
	return g
}

// Ensure returns a frame of length n, reusing the frame's storage if
// its capacity is sufficient.
func (f Frame) Ensure(n int) Frame {
	if !f.IsValid() || f.Cap() < n {
		return Make(f.typ, n, n)
	}
	return f.Slice(0, n)
}

// Value returns the reflect.Value of the ith column slice.
func (f Frame) Value(i int) reflect.Value { return f.cols[i] }

// Values returns the reflect.Values of all column slices.
func (f Frame) Values() []reflect.Value {
	vs := make([]reflect.Value, len(f.cols))
	copy(vs, f.cols)
	return vs
}

// Index returns the value at column i, row j.
func (f Frame) Index(i, j int) reflect.Value { return f.cols[i].Index(j) }

// Copy copies rows from src to dst, returning the number of rows
// copied, which is the smaller of the two frames' lengths. Copy
// panics if the frames are not assignable.
func Copy(dst, src Frame) int {
	if !schema.Assignable(src, dst) {
		panic(fmt.Sprintf("frame.Copy: %s not assignable to %s", schema.String(src), schema.String(dst)))
	}
	n := src.Len()
	if m := dst.Len(); m < n {
		n = m
	}
	for i := range dst.cols {
		reflect.Copy(dst.cols[i], src.cols[i])
	}
	return n
}

// AppendFrame appends the rows of src to dst, returning the extended
// frame.
func AppendFrame(dst, src Frame) Frame {
	if !dst.IsValid() {
		dst = Make(src.typ, 0, src.Len())
	}
	g := Frame{typ: dst.typ, cols: make([]reflect.Value, len(dst.cols))}
	for i := range dst.cols {
		g.cols[i] = reflect.AppendSlice(dst.cols[i], src.cols[i])
	}
	return g
}

// String returns a human-readable description of the frame.
func (f Frame) String() string {
	return fmt.Sprintf("frame[%d]%s", f.Len(), schema.String(f.typ))
}
