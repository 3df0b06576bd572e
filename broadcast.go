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

type broadcastDataset struct {
	Dataset
}

// Broadcast marks a dataset as small enough to replicate in full to
// every partition of a dependent computation, letting a Lookup
// against a larger dataset proceed without shuffling the larger
// side. Broadcast is purely a performance hint: it never changes
// the result of a computation.
func Broadcast(dataset Dataset) Dataset {
	return &broadcastDataset{dataset}
}

func (*broadcastDataset) Op() string      { return "broadcast" }
func (b *broadcastDataset) NumDep() int   { return 1 }
func (b *broadcastDataset) Dep(i int) Dep { return singleDep(i, b.Dataset, false) }

func (b *broadcastDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	return deps[0]
}

type lookupDataset struct {
	big      Dataset
	small    Dataset
	bigCol   int
	smallCol int
	out      schema.Type
}

// Lookup joins each row of big with the rows of small whose smallCol
// value equals the row's bigCol value, producing the columns of big
// followed by the columns of small except smallCol. Rows of big
// without a match are dropped. The small dataset is replicated in
// full to every partition of big, so the big side is never shuffled;
// small should be a dataset that comfortably fits in memory, and may
// be wrapped with Broadcast to make the intent explicit.
func Lookup(big, small Dataset, bigCol, smallCol string) Dataset {
	bc := schema.Index(big, bigCol)
	if bc < 0 {
		typecheck.Panicf(1, "lookup: dataset has no column %q", bigCol)
	}
	sc := schema.Index(small, smallCol)
	if sc < 0 {
		typecheck.Panicf(1, "lookup: dataset has no column %q", smallCol)
	}
	if got, want := big.Out(bc), small.Out(sc); got != want {
		typecheck.Panicf(1, "lookup: key columns have mismatched types %s and %s", got, want)
	}
	if kind := big.Out(bc).Kind(); kind == reflect.Slice || !frame.CanHash(big.Out(bc)) {
		typecheck.Panicf(1, "lookup: key type %s is not comparable", big.Out(bc))
	}
	fields := schema.Fields(big)
	for i, f := range schema.Fields(small) {
		if i == sc {
			continue
		}
		fields = append(fields, f)
	}
	l := &lookupDataset{big: big, small: small, bigCol: bc, smallCol: sc}
	l.out = schema.New(fields...)
	for i, f := range fields {
		for j := i + 1; j < len(fields); j++ {
			if f.Name == fields[j].Name {
				typecheck.Panicf(1, "lookup: duplicate column %q in join result", f.Name)
			}
		}
	}
	return l
}

func (l *lookupDataset) NumOut() int            { return l.out.NumOut() }
func (l *lookupDataset) Out(c int) reflect.Type { return l.out.Out(c) }
func (l *lookupDataset) Name(c int) string      { return l.out.Name(c) }
func (*lookupDataset) Op() string               { return "lookup" }
func (l *lookupDataset) NumShard() int          { return l.big.NumShard() }
func (*lookupDataset) NumDep() int              { return 2 }

func (l *lookupDataset) Dep(i int) Dep {
	switch i {
	case 0:
		return Dep{Dataset: l.big}
	case 1:
		return Dep{Dataset: l.small, Broadcast: true}
	}
	panic(fmt.Sprintf("invalid dependency %d", i))
}

type lookupReader struct {
	op         *lookupDataset
	big, small rowio.Reader

	table map[interface{}][]int // smallCol value -> small row indices
	rows  frame.Frame           // all rows of small

	in           frame.Frame // buffer of big rows
	begIn, endIn int
	matches      []int // unemitted matches for row begIn
	eof          bool
	err          error
}

func (l *lookupReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if l.table == nil {
		if l.err = l.build(ctx); l.err != nil {
			return 0, l.err
		}
	}
	var (
		begOut = 0
		endOut = out.Len()
		nbig   = l.op.big.NumOut()
	)
	for begOut < endOut && (!l.eof || l.begIn < l.endIn || len(l.matches) > 0) {
		if l.begIn == l.endIn && len(l.matches) == 0 {
			if !l.in.IsValid() {
				l.in = frame.Make(l.op.big, out.Len(), out.Len())
			} else {
				l.in = l.in.Ensure(out.Len())
			}
			n, err := l.big.Read(ctx, l.in)
			if err != nil && err != rowio.EOF {
				l.err = err
				return begOut, err
			}
			l.begIn, l.endIn = 0, n
			l.eof = err == rowio.EOF
			continue
		}
		if len(l.matches) == 0 {
			key := l.in.Index(l.op.bigCol, l.begIn).Interface()
			l.matches = l.table[key]
			if len(l.matches) == 0 {
				l.begIn++
				continue
			}
		}
		// Emit one (big row, small row) combination per output row.
		j := l.matches[0]
		l.matches = l.matches[1:]
		for c := 0; c < nbig; c++ {
			out.Index(c, begOut).Set(l.in.Index(c, l.begIn))
		}
		c := nbig
		for sc := 0; sc < l.op.small.NumOut(); sc++ {
			if sc == l.op.smallCol {
				continue
			}
			out.Index(c, begOut).Set(l.rows.Index(sc, j))
			c++
		}
		begOut++
		if len(l.matches) == 0 {
			l.begIn++
		}
	}
	if l.eof && l.begIn == l.endIn && len(l.matches) == 0 {
		l.err = rowio.EOF
	}
	if begOut > 0 || l.err == rowio.EOF {
		return begOut, l.err
	}
	return begOut, nil
}

// build reads the entire small side and indexes it by key.
func (l *lookupReader) build(ctx context.Context) error {
	rows, err := rowio.ReadAll(ctx, l.op.small, l.small)
	if err != nil {
		return err
	}
	l.rows = rows
	l.table = make(map[interface{}][]int)
	for i := 0; i < rows.Len(); i++ {
		key := rows.Index(l.op.smallCol, i).Interface()
		l.table[key] = append(l.table[key], i)
	}
	return nil
}

func (l *lookupDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	if len(deps) != 2 {
		panic(fmt.Errorf("expected two deps, got %d", len(deps)))
	}
	return &lookupReader{op: l, big: deps[0], small: deps[1]}
}
