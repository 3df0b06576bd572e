// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"context"
	"fmt"

	"github.com/grailbio/bigpipe/frame"
	"github.com/grailbio/bigpipe/rowio"
	"github.com/grailbio/bigpipe/schema"
	"github.com/grailbio/bigpipe/typecheck"
)

type reshuffleDataset struct {
	name        string
	partitioner Partitioner
	nshard      int
	Dataset
}

// Reshuffle returns a dataset that shuffles rows by the provided key
// column so that all rows with equal key values end up in the same
// partition. Rows are not sorted within a partition. The output
// dataset has the same schema and partition count as the input.
func Reshuffle(dataset Dataset, col string) Dataset {
	c := schema.Index(dataset, col)
	if c < 0 {
		typecheck.Panicf(1, "reshuffle: dataset has no column %q", col)
	}
	if !frame.CanHash(dataset.Out(c)) {
		typecheck.Panicf(1, "reshuffle: column %q of type %s is not partitionable", col, dataset.Out(c))
	}
	part := func() PartitionFunc {
		return func(f frame.Frame, nshard int, shards []int) {
			for i := range shards {
				shards[i] = int(f.HashCol(c, i)) % nshard
			}
		}
	}
	return &reshuffleDataset{"reshuffle", part, dataset.NumShard(), dataset}
}

// Repartition returns a dataset with exactly nshard partitions,
// redistributing rows as evenly as possible. Repartition always
// triggers a full shuffle: rows are assigned to output partitions
// round-robin within each input partition, which balances output
// partition sizes regardless of input skew. To reduce the number of
// partitions without a shuffle, use Coalesce.
func Repartition(dataset Dataset, nshard int) Dataset {
	if nshard < 1 {
		typecheck.Panicf(1, "repartition: nshard must be >= 1; got %d", nshard)
	}
	part := func() PartitionFunc {
		var next int
		return func(f frame.Frame, nshard int, shards []int) {
			for i := range shards {
				shards[i] = next
				next = (next + 1) % nshard
			}
		}
	}
	return &reshuffleDataset{"repartition", part, nshard, dataset}
}

func (r *reshuffleDataset) Op() string    { return r.name }
func (r *reshuffleDataset) NumShard() int { return r.nshard }
func (*reshuffleDataset) NumDep() int     { return 1 }
func (r *reshuffleDataset) Dep(i int) Dep {
	if i != 0 {
		panic(fmt.Sprintf("invalid dependency %d", i))
	}
	return Dep{Dataset: r.Dataset, Shuffle: true, Partitioner: r.partitioner}
}

func (r *reshuffleDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	if len(deps) != 1 {
		panic(fmt.Errorf("expected one dep, got %d", len(deps)))
	}
	return deps[0]
}

type coalesceDataset struct {
	Dataset
	nshard int
}

// Coalesce returns a dataset with nshard partitions, where nshard
// must not exceed the input's partition count. Unlike Repartition,
// Coalesce does not shuffle: each output partition is the
// concatenation of a subset of input partitions, so existing row
// placement is preserved and no data movement occurs beyond merging.
func Coalesce(dataset Dataset, nshard int) Dataset {
	if nshard < 1 {
		typecheck.Panicf(1, "coalesce: nshard must be >= 1; got %d", nshard)
	}
	if nshard > dataset.NumShard() {
		typecheck.Panicf(1, "coalesce: cannot increase partitions from %d to %d; use Repartition", dataset.NumShard(), nshard)
	}
	return &coalesceDataset{dataset, nshard}
}

func (*coalesceDataset) Op() string        { return "coalesce" }
func (c *coalesceDataset) NumShard() int   { return c.nshard }
func (*coalesceDataset) NumDep() int       { return 1 }
func (c *coalesceDataset) Dep(i int) Dep   { return singleDep(i, c.Dataset, false) }

func (c *coalesceDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	if len(deps) != 1 {
		panic(fmt.Errorf("expected one dep, got %d", len(deps)))
	}
	return deps[0]
}

type sortDataset struct {
	Dataset
	col int
}

// Sort returns a dataset whose rows are globally ordered, ascending,
// by the values of the provided column. Sort introduces a shuffle
// boundary: all rows are collected into a single partition and
// sorted there, so it should be reserved for datasets small enough
// to buffer on one worker.
func Sort(dataset Dataset, col string) Dataset {
	c := schema.Index(dataset, col)
	if c < 0 {
		typecheck.Panicf(1, "sort: dataset has no column %q", col)
	}
	if !frame.CanSort(dataset.Out(c)) {
		typecheck.Panicf(1, "sort: column %q of type %s is not ordered", col, dataset.Out(c))
	}
	return &sortDataset{dataset, c}
}

func (*sortDataset) Op() string      { return "sort" }
func (*sortDataset) NumShard() int   { return 1 }
func (*sortDataset) NumDep() int     { return 1 }
func (s *sortDataset) Dep(i int) Dep { return singleDep(i, s.Dataset, true) }

type sortReader struct {
	op     *sortDataset
	reader rowio.Reader
	sorted rowio.Reader
}

func (s *sortReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if s.sorted == nil {
		f, err := rowio.ReadAll(ctx, s.op.Dataset, s.reader)
		if err != nil {
			return 0, err
		}
		f.Sort(s.op.col)
		s.sorted = rowio.FrameReader(f)
	}
	return s.sorted.Read(ctx, out)
}

func (s *sortDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	return &sortReader{op: s, reader: deps[0]}
}
