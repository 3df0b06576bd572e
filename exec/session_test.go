// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/rowio"
)

// countingDataset counts how many times its partitions are computed.
type countingDataset struct {
	bigpipe.Dataset
	count int64
}

func (*countingDataset) Op() string  { return "counting" }
func (*countingDataset) NumDep() int { return 1 }
func (c *countingDataset) Dep(i int) bigpipe.Dep {
	return bigpipe.Dep{Dataset: c.Dataset}
}

func (c *countingDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	atomic.AddInt64(&c.count, 1)
	return deps[0]
}

func scanInt64s(t *testing.T, res *Result) []int64 {
	t.Helper()
	var (
		ctx  = context.Background()
		scan = res.Scanner()
		i    int64
		is   []int64
	)
	for scan.Scan(ctx, &i) {
		is = append(is, i)
	}
	if err := scan.Err(); err != nil {
		t.Fatal(err)
	}
	return is
}

func TestSessionRun(t *testing.T) {
	ctx := context.Background()
	sess := Start(Local, Parallelism(4))
	res, err := sess.Run(ctx, bigpipe.Range(4, 10, "i"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := scanInt64s(t, res), []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResultReuse(t *testing.T) {
	ctx := context.Background()
	sess := Start(Local)
	counting := &countingDataset{Dataset: bigpipe.Range(2, 10, "i")}
	res, err := sess.Run(ctx, counting)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := atomic.LoadInt64(&counting.count), int64(2); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	// A result in the lineage of a later computation reuses the
	// already computed tasks.
	derived := bigpipe.Map(res, func(i int64) int64 { return i * 10 }, "i")
	res2, err := sess.Run(ctx, derived)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res2.Tasks()[0].Deps[0].Tasks[0], res.Tasks()[0]; got != want {
		t.Error("expected derived computation to depend on the result's tasks")
	}
	if got, want := atomic.LoadInt64(&counting.count), int64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := scanInt64s(t, res2), []int64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestUncache(t *testing.T) {
	ctx := context.Background()
	sess := Start(Local)
	counting := &countingDataset{Dataset: bigpipe.Range(2, 10, "i")}
	res, err := sess.Cache(ctx, counting)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := atomic.LoadInt64(&counting.count), int64(2); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	derived := bigpipe.Map(res, func(i int64) int64 { return i + 1 }, "i")
	if _, err := sess.Run(ctx, derived); err != nil {
		t.Fatal(err)
	}
	if got, want := atomic.LoadInt64(&counting.count), int64(2); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	// Uncaching releases the pinned partitions; later computations
	// recompute them from their lineage.
	sess.Uncache(ctx, res)
	res2, err := sess.Run(ctx, derived)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := atomic.LoadInt64(&counting.count), int64(4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := scanInt64s(t, res2), []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReshufflePlacement(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "a", "b", "c", "d", "a", "b"}
	vals := []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	d := bigpipe.Reshuffle(bigpipe.Const(4, []string{"key", "val"}, keys, vals), "key")
	ctx := context.Background()
	sess := Start(Local, Parallelism(2))
	res, err := sess.Run(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	// All rows with equal keys must land in the same partition.
	partition := make(map[string]int)
	var nrow int
	for p, task := range res.Tasks() {
		f, err := rowio.ReadAll(ctx, task.Type, sess.executor.Reader(ctx, task, 0))
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < f.Len(); i++ {
			nrow++
			key := f.Index(0, i).String()
			if prev, ok := partition[key]; ok && prev != p {
				t.Errorf("key %q found in partitions %d and %d", key, prev, p)
			}
			partition[key] = p
		}
	}
	if got, want := nrow, len(keys); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSessionOptions(t *testing.T) {
	sess := Start(Local, Parallelism(8), MaxRetries(5))
	if got, want := sess.Parallelism(), 8; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := sess.MaxRetries(), 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := Start(Local).MaxRetries(), DefaultMaxRetries; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
