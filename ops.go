// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"context"
	"fmt"
	"reflect"

	"github.com/grailbio/bigpipe/frame"
	"github.com/grailbio/bigpipe/rowio"
	"github.com/grailbio/bigpipe/schema"
	"github.com/grailbio/bigpipe/typecheck"
)

type mapDataset struct {
	Dataset
	fval reflect.Value
	out  schema.Type
}

// Map transforms a dataset by invoking a function for each row. The
// argument types of fn must match the column types of the dataset.
// The columns of the returned dataset are the values returned by fn,
// named by names; if names are omitted, columns are named c0, c1,
// and so on. Map is a narrow transformation: it preserves the
// dataset's partitioning and per-partition row order.
//
// Schematically:
//
//	Map(Dataset<t1, t2, ..., tn>, func(v1 t1, v2 t2, ..., vn tn) (r1, r2, ..., rn)) Dataset<r1, r2, ..., rn>
func Map(dataset Dataset, fn interface{}, names ...string) Dataset {
	m := new(mapDataset)
	m.Dataset = dataset
	m.fval = reflect.ValueOf(fn)
	arg, ret, ok := typecheck.Func(fn)
	if !ok {
		typecheck.Panicf(1, "map: invalid map function %T", fn)
	}
	if !typecheck.Equal(dataset, arg) {
		typecheck.Panicf(1, "map: function %T does not match input dataset type %s", fn, schema.String(dataset))
	}
	if ret.NumOut() == 0 {
		typecheck.Panicf(1, "map: need at least one output column")
	}
	if len(names) == 0 {
		names = make([]string, ret.NumOut())
		for i := range names {
			names[i] = fmt.Sprintf("c%d", i)
		}
	}
	if len(names) != ret.NumOut() {
		typecheck.Panicf(1, "map: %d names provided for %d output columns", len(names), ret.NumOut())
	}
	fields := make([]schema.Field, ret.NumOut())
	for i := range fields {
		fields[i] = schema.Field{Name: names[i], Type: ret.Out(i)}
	}
	m.out = schema.New(fields...)
	return m
}

func (m *mapDataset) NumOut() int            { return m.out.NumOut() }
func (m *mapDataset) Out(c int) reflect.Type { return m.out.Out(c) }
func (m *mapDataset) Name(c int) string      { return m.out.Name(c) }
func (m *mapDataset) Op() string             { return "map" }
func (*mapDataset) NumDep() int              { return 1 }
func (m *mapDataset) Dep(i int) Dep          { return singleDep(i, m.Dataset, false) }

type mapReader struct {
	op     *mapDataset
	reader rowio.Reader // parent reader
	in     frame.Frame  // buffer for input column vectors
	err    error
}

func (m *mapReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	if !schema.Assignable(m.op, out) {
		return 0, errTypeError
	}
	n := out.Len()
	if !m.in.IsValid() {
		m.in = frame.Make(m.op.Dataset, n, n)
	} else {
		m.in = m.in.Ensure(n)
	}
	n, m.err = m.reader.Read(ctx, m.in.Slice(0, n))
	// Transform each row in turn. Parallelism should be achieved by
	// finer partitioning instead, simplifying management of parallel
	// computation.
	args := make([]reflect.Value, m.in.NumOut())
	for i := 0; i < n; i++ {
		for j := range args {
			args[j] = m.in.Index(j, i)
		}
		result := m.op.fval.Call(args)
		for j := range result {
			out.Index(j, i).Set(result[j])
		}
	}
	return n, m.err
}

func (m *mapDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	return &mapReader{op: m, reader: deps[0]}
}

type filterDataset struct {
	Dataset
	pred reflect.Value
}

// Filter returns a dataset where the provided predicate is applied
// to each row in the given dataset. The output dataset contains only
// those rows for which the predicate is true.
//
// The predicate function should receive each column of the dataset
// and return a single boolean value.
//
// Schematically:
//
//	Filter(Dataset<t1, t2, ..., tn>, func(t1, t2, ..., tn) bool) Dataset<t1, t2, ..., tn>
func Filter(dataset Dataset, pred interface{}) Dataset {
	f := new(filterDataset)
	f.Dataset = dataset
	f.pred = reflect.ValueOf(pred)
	arg, ret, ok := typecheck.Func(pred)
	if !ok {
		typecheck.Panicf(1, "filter: invalid predicate function %T", pred)
	}
	if !typecheck.Equal(dataset, arg) {
		typecheck.Panicf(1, "filter: function %T does not match input dataset type %s", pred, schema.String(dataset))
	}
	if ret.NumOut() != 1 || ret.Out(0).Kind() != reflect.Bool {
		typecheck.Panic(1, "filter: predicate must return a single boolean value")
	}
	return f
}

func (*filterDataset) Op() string      { return "filter" }
func (*filterDataset) NumDep() int     { return 1 }
func (f *filterDataset) Dep(i int) Dep { return singleDep(i, f.Dataset, false) }

type filterReader struct {
	op     *filterDataset
	reader rowio.Reader
	in     frame.Frame
	err    error
}

func (f *filterReader) Read(ctx context.Context, out frame.Frame) (n int, err error) {
	if f.err != nil {
		return 0, f.err
	}
	if !schema.Assignable(f.op, out) {
		return 0, errTypeError
	}
	var (
		m   int
		max = out.Len()
	)
	args := make([]reflect.Value, out.NumOut())
	for m < max && f.err == nil {
		if !f.in.IsValid() {
			f.in = frame.Make(f.op, max-m, max-m)
		} else {
			f.in = f.in.Ensure(max - m)
		}
		n, f.err = f.reader.Read(ctx, f.in)
		for i := 0; i < n; i++ {
			for j := range args {
				args[j] = f.in.Index(j, i)
			}
			if f.op.pred.Call(args)[0].Bool() {
				frame.Copy(out.Slice(m, m+1), f.in.Slice(i, i+1))
				m++
			}
		}
	}
	return m, f.err
}

func (f *filterDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	return &filterReader{op: f, reader: deps[0]}
}

type withColumnDataset struct {
	Dataset
	fval reflect.Value
	args []int
	out  schema.Type
}

// WithColumn returns a dataset with an additional column named name,
// computed by invoking fn for each row. If cols are provided, fn
// receives the values of those columns, in order; otherwise it
// receives all of the dataset's column values. The new column is
// appended after the existing columns.
//
// Schematically:
//
//	WithColumn(Dataset<t1, ..., tn>, name, func(v1 t1, ..., vn tn) r) Dataset<t1, ..., tn, r>
func WithColumn(dataset Dataset, name string, fn interface{}, cols ...string) Dataset {
	w := new(withColumnDataset)
	w.Dataset = dataset
	w.fval = reflect.ValueOf(fn)
	arg, ret, ok := typecheck.Func(fn)
	if !ok {
		typecheck.Panicf(1, "withcolumn: invalid function %T", fn)
	}
	if len(cols) == 0 {
		if !typecheck.Equal(dataset, arg) {
			typecheck.Panicf(1, "withcolumn: function %T does not match input dataset type %s", fn, schema.String(dataset))
		}
		w.args = make([]int, dataset.NumOut())
		for i := range w.args {
			w.args[i] = i
		}
	} else {
		if arg.NumOut() != len(cols) {
			typecheck.Panicf(1, "withcolumn: function %T takes %d arguments for %d columns", fn, arg.NumOut(), len(cols))
		}
		w.args = make([]int, len(cols))
		for i, col := range cols {
			c := schema.Index(dataset, col)
			if c < 0 {
				typecheck.Panicf(1, "withcolumn: dataset has no column %q", col)
			}
			if arg.Out(i) != dataset.Out(c) {
				typecheck.Panicf(1, "withcolumn: argument %d of function %T does not match column %q of type %s", i, fn, col, dataset.Out(c))
			}
			w.args[i] = c
		}
	}
	if ret.NumOut() != 1 {
		typecheck.Panic(1, "withcolumn: function must return a single value")
	}
	if schema.Index(dataset, name) >= 0 {
		typecheck.Panicf(1, "withcolumn: dataset already has a column %q", name)
	}
	w.out = schema.Concat(dataset, schema.New(schema.Of(name, ret.Out(0))))
	return w
}

func (w *withColumnDataset) NumOut() int            { return w.out.NumOut() }
func (w *withColumnDataset) Out(c int) reflect.Type { return w.out.Out(c) }
func (w *withColumnDataset) Name(c int) string      { return w.out.Name(c) }
func (w *withColumnDataset) Op() string             { return "withcolumn" }
func (*withColumnDataset) NumDep() int              { return 1 }
func (w *withColumnDataset) Dep(i int) Dep          { return singleDep(i, w.Dataset, false) }

type withColumnReader struct {
	op     *withColumnDataset
	reader rowio.Reader
	in     frame.Frame
	err    error
}

func (w *withColumnReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if !schema.Assignable(w.op, out) {
		return 0, errTypeError
	}
	var (
		n    = out.Len()
		ncol = w.op.Dataset.NumOut()
	)
	if !w.in.IsValid() {
		w.in = frame.Make(w.op.Dataset, n, n)
	} else {
		w.in = w.in.Ensure(n)
	}
	n, w.err = w.reader.Read(ctx, w.in.Slice(0, n))
	args := make([]reflect.Value, len(w.op.args))
	for i := 0; i < n; i++ {
		for j := 0; j < ncol; j++ {
			out.Index(j, i).Set(w.in.Index(j, i))
		}
		for j, c := range w.op.args {
			args[j] = w.in.Index(c, i)
		}
		result := w.op.fval.Call(args)
		out.Index(ncol, i).Set(result[0])
	}
	return n, w.err
}

func (w *withColumnDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	return &withColumnReader{op: w, reader: deps[0]}
}

type projectDataset struct {
	Dataset
	cols []int
	out  schema.Type
}

// Project returns a dataset comprising only the named columns of the
// provided dataset, in the order given. Project is a narrow
// transformation: it preserves partitioning and per-partition row
// order.
func Project(dataset Dataset, cols ...string) Dataset {
	if len(cols) == 0 {
		typecheck.Panic(1, "project: need at least one column")
	}
	p := &projectDataset{Dataset: dataset, cols: make([]int, len(cols))}
	fields := make([]schema.Field, len(cols))
	for i, col := range cols {
		c := schema.Index(dataset, col)
		if c < 0 {
			typecheck.Panicf(1, "project: dataset has no column %q", col)
		}
		for j := 0; j < i; j++ {
			if p.cols[j] == c {
				typecheck.Panicf(1, "project: duplicate column %q", col)
			}
		}
		p.cols[i] = c
		fields[i] = schema.Field{Name: col, Type: dataset.Out(c)}
	}
	p.out = schema.New(fields...)
	return p
}

func (p *projectDataset) NumOut() int            { return p.out.NumOut() }
func (p *projectDataset) Out(c int) reflect.Type { return p.out.Out(c) }
func (p *projectDataset) Name(c int) string      { return p.out.Name(c) }
func (*projectDataset) Op() string               { return "project" }
func (*projectDataset) NumDep() int              { return 1 }
func (p *projectDataset) Dep(i int) Dep          { return singleDep(i, p.Dataset, false) }

type projectReader struct {
	op     *projectDataset
	reader rowio.Reader
	in     frame.Frame
	err    error
}

func (p *projectReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if !schema.Assignable(p.op, out) {
		return 0, errTypeError
	}
	var n = out.Len()
	if !p.in.IsValid() {
		p.in = frame.Make(p.op.Dataset, n, n)
	} else {
		p.in = p.in.Ensure(n)
	}
	n, p.err = p.reader.Read(ctx, p.in.Slice(0, n))
	for j, c := range p.op.cols {
		reflect.Copy(out.Value(j).Slice(0, n), p.in.Value(c).Slice(0, n))
	}
	return n, p.err
}

func (p *projectDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	return &projectReader{op: p, reader: deps[0]}
}

type headDataset struct {
	Dataset
	n int
}

// Head returns a dataset that returns at most the first n rows from
// each partition of the underlying dataset. Its schema is the same
// as the provided dataset.
func Head(dataset Dataset, n int) Dataset {
	return headDataset{dataset, n}
}

func (h headDataset) Op() string      { return fmt.Sprintf("head(%d)", h.n) }
func (headDataset) NumDep() int       { return 1 }
func (h headDataset) Dep(i int) Dep   { return singleDep(i, h.Dataset, false) }

type headReader struct {
	reader rowio.Reader
	n      int
}

func (h headDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	return &headReader{deps[0], h.n}
}

func (h *headReader) Read(ctx context.Context, out frame.Frame) (n int, err error) {
	if h.n <= 0 {
		return 0, rowio.EOF
	}
	n, err = h.reader.Read(ctx, out)
	h.n -= n
	if h.n < 0 {
		n -= -h.n
	}
	return
}
