// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"strings"
	"testing"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/rowio"
)

func TestPipeline(t *testing.T) {
	d := bigpipe.Range(3, 100, "i")
	d = bigpipe.Filter(d, func(i int64) bool { return i%2 == 0 })
	d = bigpipe.Map(d, func(i int64) int64 { return i * i }, "sq")
	datasets := pipeline(d)
	if got, want := len(datasets), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := datasets[0].Op(), "map"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := datasets[2].Op(), "range"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPipelineShuffleBoundary(t *testing.T) {
	d := bigpipe.Reshuffle(bigpipe.Range(3, 100, "i"), "i")
	d = bigpipe.Map(d, func(i int64) int64 { return i }, "i")
	datasets := pipeline(d)
	// The pipeline stops at the shuffle dependency.
	if got, want := len(datasets), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := datasets[1].Op(), "reshuffle"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCompileNarrow(t *testing.T) {
	d := bigpipe.Range(3, 100, "i")
	d = bigpipe.Filter(d, func(i int64) bool { return i%2 == 0 })
	d = bigpipe.Map(d, func(i int64) int64 { return i * i }, "sq")
	tasks, err := compile(make(taskNamer), d)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(tasks), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, task := range tasks {
		if got, want := task.Name.Op, "range_filter_map"; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := task.Name.Shard, i; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		// The whole chain is one task: there are no dependencies.
		if got, want := len(task.Deps), 0; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := task.NumPartition, 1; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestCompileShuffle(t *testing.T) {
	d := bigpipe.Reshuffle(bigpipe.Range(4, 100, "i"), "i")
	tasks, err := compile(make(taskNamer), d)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(tasks), 4; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for partition, task := range tasks {
		if got, want := len(task.Deps), 1; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		dep := task.Deps[0]
		// Each task reads its own partition from every dependency task.
		if got, want := len(dep.Tasks), 4; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := dep.Partition, partition; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	deptasks := tasks[0].Deps[0].Tasks
	for _, deptask := range deptasks {
		if got, want := deptask.NumPartition, 4; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if deptask.Partition == nil {
			t.Error("expected a partitioner on shuffle dependencies")
		}
	}
}

func TestCompileCoalesce(t *testing.T) {
	d := bigpipe.Coalesce(bigpipe.Range(4, 8, "i"), 2)
	tasks, err := compile(make(taskNamer), d)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(tasks), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	// Dependency tasks are grouped round-robin.
	for shard, task := range tasks {
		if got, want := len(task.Deps), 1; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		if got, want := len(task.Deps[0].Tasks), 2; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i, deptask := range task.Deps[0].Tasks {
			if got, want := deptask.Name.Shard, shard+2*i; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		}
	}
}

func TestCompileBroadcast(t *testing.T) {
	big := bigpipe.Const(3, []string{"k", "v"}, []int64{1, 2, 3}, []string{"a", "b", "c"})
	small := bigpipe.Const(2, []string{"k", "tag"}, []int64{1, 2}, []string{"x", "y"})
	d := bigpipe.Lookup(big, small, "k", "k")
	tasks, err := compile(make(taskNamer), d)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(tasks), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for shard, task := range tasks {
		if got, want := len(task.Deps), 2; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		// The big side is a narrow, one-to-one dependency.
		if got, want := len(task.Deps[0].Tasks), 1; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := task.Deps[0].Tasks[0].Name.Shard, shard; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		// The small side is replicated in full to every task.
		if got, want := len(task.Deps[1].Tasks), 2; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := task.Deps[1].Partition, 0; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	for _, deptask := range tasks[0].Deps[1].Tasks {
		if got, want := deptask.NumPartition, 1; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

type widenDataset struct {
	bigpipe.Dataset
	nshard int
}

func (*widenDataset) Op() string        { return "widen" }
func (w *widenDataset) NumShard() int   { return w.nshard }
func (*widenDataset) NumDep() int       { return 1 }
func (w *widenDataset) Dep(i int) bigpipe.Dep {
	return bigpipe.Dep{Dataset: w.Dataset}
}
func (w *widenDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	return deps[0]
}

func TestCompileWidenError(t *testing.T) {
	d := &widenDataset{Dataset: bigpipe.Range(2, 10, "i"), nshard: 4}
	_, err := compile(make(taskNamer), d)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "cannot widen") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestTaskNamer(t *testing.T) {
	namer := make(taskNamer)
	if got, want := namer.New("map"), "map"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := namer.New("map"), "map1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := namer.New("filter"), "filter"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTaskName(t *testing.T) {
	name := TaskName{Op: "map", Shard: 1, NumShard: 4}
	if got, want := name.String(), "map@4:1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
