// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec implements compilation, evaluation, and execution of
// bigpipe dataset operations.
package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigpipe/rowio"
)

const defaultChunksize = 1024

var fatalErr = errors.E(errors.Fatal)

// Executor defines an interface used to provide implementations of
// task runners. An Executor is responsible for running single tasks,
// partitioning their outputs, and instantiating readers to retrieve
// the output of any given task.
type Executor interface {
	// Start starts the executor. It is called before evaluation has
	// started. The returned function (if any) tears the executor down.
	Start(*Session) (shutdown func())

	// Runnable marks the task as runnable. After a call to Runnable,
	// the Task should have state >= TaskWaiting. The executor owns
	// the task after calling Runnable, and only the executor should
	// modify the task's state.
	Runnable(*Task)

	// Reader returns a locally accessible reader for the requested
	// partition of the task's output.
	Reader(context.Context, *Task, int) rowio.Reader

	// Discard drops the stored output of the provided task, marking
	// the task lost. A subsequent evaluation of a graph containing the
	// task recomputes it from its lineage.
	Discard(context.Context, *Task)
}

// A StageFailure is returned by Eval when a task has failed
// permanently: either its error was fatal, or its retry budget is
// exhausted. It identifies the failed stage and partition so that
// failures can be attributed in multi-stage computations.
type StageFailure struct {
	// Op names the stage whose task failed.
	Op string
	// Shard is the partition index of the failed task.
	Shard int
	// Err is the underlying task error.
	Err error
}

func (s *StageFailure) Error() string {
	return fmt.Sprintf("stage %s: shard %d failed: %v", s.Op, s.Shard, s.Err)
}

func (s *StageFailure) Unwrap() error { return s.Err }

// Eval simultaneously evaluates a set of task graphs from the
// provided set of roots. Eval uses the provided executor to dispatch
// tasks when their dependencies have been satisfied. Tasks that fail
// with non-fatal errors are re-run, up to maxRetries times per task;
// lost tasks are recomputed from their lineage. Eval returns on
// evaluation error or else when all roots are fully evaluated.
func Eval(ctx context.Context, executor Executor, roots []*Task, group *status.Group, maxRetries int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	tasks := make(map[*Task]bool)
	for _, task := range roots {
		task.all(tasks)
	}
	var (
		donec   = make(chan struct{})
		errc    = make(chan error)
		running int
	)
	for {
		todo := make(map[*Task]bool)
		for _, task := range roots {
			task.Lock()
			err := addReady(todo, task)
			task.Unlock()
			if err != nil {
				return err
			}
		}
		if len(todo) == 0 && running == 0 {
			break
		}

		// Mark each ready task as runnable and keep track of them.
		// The executor manages parallelism.
		for task := range todo {
			log.Debug.Printf("runnable: %s", task)
			task.Status = group.Startf("%s", task.Name)
			executor.Runnable(task)
			running++
			go func(task *Task) {
				state, err := task.WaitState(ctx, TaskOk)
				if err != nil {
					errc <- err
					return
				}
				log.Debug.Printf("done task %v", task)
				task.Status.Done()
				switch state {
				default:
					err = fmt.Errorf("unexpected task state %v", task)
				case TaskOk:
				case TaskErr:
					err = retry(task, maxRetries)
				case TaskLost:
					log.Error.Printf("lost task %s", task.Name)
				}
				if err != nil {
					errc <- err
				} else {
					donec <- struct{}{}
				}
			}(task)
		}

		var stateCounts [maxState]int
		for task := range tasks {
			task.Lock()
			stateCounts[task.state]++
			task.Unlock()
		}
		counts := make([]string, maxState)
		for state, count := range stateCounts {
			counts[state] = fmt.Sprintf("%s=%d", TaskState(state), count)
		}
		group.Printf("tasks: %s", strings.Join(counts, " "))
		select {
		case <-donec:
			running--
		case err := <-errc:
			return err
		}
	}
	return nil
}

// Retry decides the fate of a task that failed. Tasks that failed
// with fatal errors (e.g., panics in user code) and tasks whose retry
// budget is exhausted fail the stage permanently; all other tasks are
// re-initialized so that the evaluation loop re-runs them from their
// lineage.
func retry(task *Task, maxRetries int) error {
	task.Lock()
	defer task.Unlock()
	err := task.err
	if err == nil {
		panic("TaskErr without an err")
	}
	if errors.Match(fatalErr, err) || task.attempts >= maxRetries {
		return &StageFailure{Op: task.Name.Op, Shard: task.Name.Shard, Err: err}
	}
	task.attempts++
	log.Error.Printf("task %s failed (attempt %d of %d), retrying: %v", task.Name, task.attempts, maxRetries, err)
	task.state = TaskInit
	task.err = nil
	return nil
}

// AddReady adds all tasks that are runnable but not yet running to
// the provided tasks set. AddReady requires that task is locked on
// entry.
//
// AddReady locks sub-tasks while traversing the graph. Since task
// graphs are DAGs and children are always traversed in the same
// order, concurrent addReady invocations will not deadlock.
func addReady(tasks map[*Task]bool, task *Task) error {
	if tasks[task] {
		return nil
	}
	switch task.state {
	case TaskInit:
	case TaskWaiting, TaskRunning, TaskOk:
		// We only add back lost tasks after they've been acknowledged
		// by the main evaluation loop.
		return nil
	case TaskLost:
		// If we encounter a lost task, we re-initialize it; it is then
		// recomputed from its lineage.
		task.state = TaskInit
	case TaskErr:
		return task.err
	default:
		panic("unhandled task state")
	}

	ready := true
	for _, dep := range task.Deps {
		for _, deptask := range dep.Tasks {
			deptask.Lock()
			err := addReady(tasks, deptask)
			ready = ready && deptask.state == TaskOk
			deptask.Unlock()
			if err != nil {
				return err
			}
		}
	}
	if ready {
		tasks[task] = true
	}
	return nil
}
