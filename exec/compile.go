// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"strings"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/rowio"
)

// Pipeline returns the sequence of datasets that may be pipelined
// starting from dataset. Datasets that do not have shuffle or
// broadcast dependencies, and that do not change the partition
// count, may be pipelined together.
func pipeline(dataset bigpipe.Dataset) (datasets []bigpipe.Dataset) {
	for {
		// Stop at *Results, so we can re-use previous tasks.
		if _, ok := dataset.(*Result); ok {
			return
		}
		datasets = append(datasets, dataset)
		if dataset.NumDep() != 1 {
			return
		}
		dep := dataset.Dep(0)
		if dep.Shuffle || dep.Broadcast {
			return
		}
		// A change in partition count (e.g., a coalesce) is a stage
		// boundary even though no shuffle is involved: the dependency's
		// tasks must be grouped onto the dependent's.
		if dep.Dataset.NumShard() != dataset.NumShard() {
			return
		}
		dataset = dep.Dataset
	}
}

// Compile compiles the provided dataset into a set of task graphs,
// each representing the computation for one partition of the
// dataset. Compile coalesces dataset operations that can be
// pipelined into single tasks, creating wide dependencies only at
// shuffle boundaries. The provided namer must mint names that are
// unique to the session. The order in which the namer is invoked is
// guaranteed to be deterministic.
func compile(namer taskNamer, dataset bigpipe.Dataset) ([]*Task, error) {
	// Reuse tasks from a previous evaluation.
	if result, ok := dataset.(*Result); ok {
		return result.tasks, nil
	}
	// Pipeline datasets and create a task for each underlying
	// partition, pipelining the eligible computations.
	tasks := make([]*Task, dataset.NumShard())
	datasets := pipeline(dataset)
	ops := make([]string, 0, len(datasets))
	for i := len(datasets) - 1; i >= 0; i-- {
		ops = append(ops, datasets[i].Op())
	}
	opName := namer.New(strings.Join(ops, "_"))
	for i := range tasks {
		tasks[i] = &Task{
			Type:         datasets[0],
			Name:         TaskName{Op: opName, Shard: i, NumShard: len(tasks)},
			NumPartition: 1,
		}
	}
	// Pipeline execution, folding multiple row operations
	// into a single task by composing their readers.
	for i := len(datasets) - 1; i >= 0; i-- {
		for shard := range tasks {
			var (
				shard  = shard
				reader = datasets[i].Reader
				prev   = tasks[shard].Do
			)
			if prev == nil {
				// The bottom of the pipeline reads the input directly.
				tasks[shard].Do = func(readers []rowio.Reader) rowio.Reader {
					return reader(shard, readers)
				}
			} else {
				// Subsequent stages read the previous stage's output.
				tasks[shard].Do = func(readers []rowio.Reader) rowio.Reader {
					return reader(shard, []rowio.Reader{prev(readers)})
				}
			}
		}
	}
	// Now capture the dependencies for this task set;
	// they are encoded in the last dataset.
	last := datasets[len(datasets)-1]
	for i := 0; i < last.NumDep(); i++ {
		dep := last.Dep(i)
		deptasks, err := compile(namer, dep.Dataset)
		if err != nil {
			return nil, err
		}
		if dep.Broadcast {
			// Every partition of the dependent dataset reads the
			// dependency's entire (unpartitioned) output.
			for shard := range tasks {
				tasks[shard].Deps = append(tasks[shard].Deps,
					TaskDep{Tasks: deptasks, Partition: 0})
			}
			continue
		}
		if !dep.Shuffle {
			// Narrow dependency: each task reads a subset of the
			// dependency's tasks, preserving existing partition contents.
			// When the partition counts match this is one-to-one;
			// otherwise (a coalesce) the dependency's tasks are assigned
			// round-robin.
			if len(tasks) == len(deptasks) {
				for shard := range tasks {
					tasks[shard].Deps = append(tasks[shard].Deps,
						TaskDep{Tasks: []*Task{deptasks[shard]}, Partition: 0})
				}
				continue
			}
			if len(tasks) > len(deptasks) {
				return nil, fmt.Errorf("compile %s: cannot widen %d tasks to %d without a shuffle",
					opName, len(deptasks), len(tasks))
			}
			groups := make([][]*Task, len(tasks))
			for j, deptask := range deptasks {
				groups[j%len(tasks)] = append(groups[j%len(tasks)], deptask)
			}
			for shard := range tasks {
				tasks[shard].Deps = append(tasks[shard].Deps,
					TaskDep{Tasks: groups[shard], Partition: 0})
			}
			continue
		}
		// Shuffle dependency: assign a partitioner and partition width to
		// our dependencies, so that their output is properly partitioned
		// at the time of computation. Each of our tasks then reads a
		// single partition from all of the dependency's tasks.
		for _, deptask := range deptasks {
			deptask.NumPartition = dataset.NumShard()
			if dep.Partitioner != nil {
				deptask.Partition = PartitionFunc(dep.Partitioner())
			} else {
				deptask.Partition = HashPartitioner
			}
		}
		for partition := range tasks {
			tasks[partition].Deps = append(tasks[partition].Deps,
				TaskDep{Tasks: deptasks, Partition: partition})
		}
	}
	return tasks, nil
}

type taskNamer map[string]int

func (n taskNamer) New(name string) string {
	c := n[name]
	n[name]++
	if c == 0 {
		return name
	}
	return fmt.Sprintf("%s%d", name, c)
}
