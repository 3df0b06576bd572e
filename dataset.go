// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/grailbio/bigpipe/frame"
	"github.com/grailbio/bigpipe/rowio"
	"github.com/grailbio/bigpipe/schema"
	"github.com/grailbio/bigpipe/typecheck"
)

var errTypeError = fmt.Errorf("type error")

// A Partitioner returns a PartitionFunc used to assign output
// partitions to the rows of one task's output. A fresh PartitionFunc
// is created for each task so that partitioners may carry
// per-partition state (e.g., a round-robin cursor).
type Partitioner func() PartitionFunc

// A PartitionFunc assigns an output partition, in the range
// [0, nshard), to each of the frame's rows. Assignments are written
// into shards, which has the same length as the frame.
type PartitionFunc func(f frame.Frame, nshard int, shards []int)

// A Dep is a Dataset dependency. Deps comprise a dataset and flags
// determining how the dependency's output is routed to the dependent
// dataset's partitions. Shuffle dependencies must perform a data
// shuffle step: the dependency partitions its output according to
// the dep's partitioner, and, when the dependent dataset is
// computed, the evaluator passes in readers that read a single
// partition from all dependent shards. Broadcast dependencies
// replicate the dependency's full output to every partition of the
// dependent dataset.
type Dep struct {
	Dataset
	Shuffle bool
	// Broadcast indicates that every partition of the dependent
	// dataset reads the dependency's entire output.
	Broadcast bool
	// Partitioner overrides the default whole-row hash partitioner
	// for shuffle dependencies. It is ignored unless Shuffle is set.
	Partitioner Partitioner
}

// A Dataset is a partitioned, ordered collection of rows with a
// named, typed schema. Each dataset consists of zero or more columns
// of data distributed over one or more partitions. Datasets may
// declare dependencies on other datasets from which they are
// computed. In order to compute a dataset, its dependencies must
// first be computed, and their resulting readers are passed to the
// dataset's Reader method.
//
// Datasets are lazy: constructing one records lineage, the sequence
// of operations by which it is computed; no data moves until a
// session evaluates it.
type Dataset interface {
	schema.Type

	// Op is a descriptive name of the operation that this Dataset
	// represents.
	Op() string

	// NumShard returns the number of partitions in this Dataset.
	NumShard() int

	// NumDep returns the number of dependencies of this Dataset.
	NumDep() int
	// Dep returns the i'th dependency for this Dataset.
	Dep(i int) Dep

	// Reader returns a Reader for a partition of this Dataset. The
	// reader itself computes the partition's values on demand. The
	// caller must provide readers for all of this partition's
	// dependencies, constructed according to the dependency type (see
	// Dep).
	Reader(shard int, deps []rowio.Reader) rowio.Reader
}

type constDataset struct {
	schema.Type
	frame  frame.Frame
	nshard int
}

// Const returns a Dataset representing the provided value. Each
// column of the dataset should be provided as a Go slice of the
// column's type, with names assigned in order. The value is split
// into nshard partitions.
func Const(nshard int, names []string, columns ...interface{}) Dataset {
	if len(columns) == 0 {
		typecheck.Panic(1, "const: must have at least one column")
	}
	d := new(constDataset)
	d.nshard = nshard
	if d.nshard < 1 {
		typecheck.Panic(1, "const: nshard must be >= 1")
	}
	var ok bool
	d.Type, ok = typecheck.Columns(names, columns...)
	if !ok {
		typecheck.Panic(1, "const: invalid column inputs")
	}
	d.frame = frame.Columns(names, columns...)
	return d
}

func (*constDataset) Op() string        { return "const" }
func (d *constDataset) NumShard() int   { return d.nshard }
func (*constDataset) NumDep() int       { return 0 }
func (*constDataset) Dep(i int) Dep     { panic("no deps") }

func (d *constDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	n := d.frame.Len()
	if n == 0 {
		return rowio.EmptyReader{}
	}
	// The last shard gets truncated when the data cannot be split
	// evenly.
	shardn := (n + d.nshard - 1) / d.nshard
	beg := shardn * shard
	end := beg + shardn
	if beg >= n {
		return rowio.EmptyReader{}
	}
	if end >= n {
		end = n
	}
	return rowio.FrameReader(d.frame.Slice(beg, end))
}

type rangeDataset struct {
	schema.Type
	nshard int
	n      int
	col    string
}

// Range returns a sequential dataset of n rows with a single int64
// column named col, holding values 0 through n-1 in order, split
// into nshard partitions.
func Range(nshard, n int, col string) Dataset {
	if nshard < 1 {
		typecheck.Panic(1, "range: nshard must be >= 1")
	}
	if n < 0 {
		typecheck.Panic(1, "range: n must be >= 0")
	}
	return &rangeDataset{
		Type:   schema.New(schema.Of(col, reflect.TypeOf(int64(0)))),
		nshard: nshard,
		n:      n,
		col:    col,
	}
}

func (*rangeDataset) Op() string      { return "range" }
func (d *rangeDataset) NumShard() int { return d.nshard }
func (*rangeDataset) NumDep() int     { return 0 }
func (*rangeDataset) Dep(i int) Dep   { panic("no deps") }

func (d *rangeDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	shardn := (d.n + d.nshard - 1) / d.nshard
	beg := shardn * shard
	end := beg + shardn
	if beg >= d.n {
		return rowio.EmptyReader{}
	}
	if end > d.n {
		end = d.n
	}
	vals := make([]int64, end-beg)
	for i := range vals {
		vals[i] = int64(beg + i)
	}
	return rowio.FrameReader(frame.Columns([]string{d.col}, vals))
}

// String returns a string describing the dataset and its schema.
func String(d Dataset) string {
	types := make([]string, d.NumOut())
	for i := range types {
		types[i] = fmt.Sprintf("%s %s", d.Name(i), d.Out(i))
	}
	return fmt.Sprintf("%s<%s>", d.Op(), strings.Join(types, ", "))
}

func singleDep(i int, d Dataset, shuffle bool) Dep {
	if i != 0 {
		panic(fmt.Sprintf("invalid dependency %d", i))
	}
	return Dep{Dataset: d, Shuffle: shuffle}
}
