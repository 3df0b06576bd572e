// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/rowio"
)

// DefaultMaxRetries is the number of times a task that fails with a
// non-fatal error is re-run before its stage fails permanently.
const DefaultMaxRetries = 3

// Session represents a bigpipe compute session. A session shares an
// executor, and is valid for the run of the binary. A session can
// evaluate multiple datasets, allowing for iterative computing:
// results of previous evaluations are reused when they appear in the
// lineage of later ones.
//
//	sess := exec.Start(exec.Parallelism(4))
//	defer sess.Shutdown()
//	result, err := sess.Run(ctx, dataset)
type Session struct {
	context.Context
	shutdown   func()
	p          int
	maxRetries int
	executor   Executor
	status     *status.Status

	mu sync.Mutex
	// names mints session-unique task names; compilation order is
	// deterministic, so names are stable for a fixed program.
	names taskNamer
	// roots stores all task roots compiled by this session;
	// used for debugging.
	roots map[*Task]struct{}
}

func newSession() *Session {
	return &Session{
		Context: backgroundcontext.Get(),
		names:   make(taskNamer),
		roots:   make(map[*Task]struct{}),
	}
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session with the local in-binary executor.
var Local Option = func(s *Session) {
	s.executor = newLocalExecutor()
}

// Parallelism configures the session with the provided target
// parallelism.
func Parallelism(p int) Option {
	if p <= 0 {
		panic("exec.Parallelism: p <= 0")
	}
	return func(s *Session) {
		s.p = p
	}
}

// MaxRetries configures the session with the provided per-task retry
// budget for non-fatal task failures.
func MaxRetries(n int) Option {
	if n < 0 {
		panic("exec.MaxRetries: n < 0")
	}
	return func(s *Session) {
		s.maxRetries = n
	}
}

// Status configures the session with a status object to which
// run statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status
	}
}

// Start creates and starts a new bigpipe session, configuring it
// according to the provided options. The returned session remains
// valid for the lifetime of the binary. If no executor is configured,
// the session is configured to use the local executor.
func Start(options ...Option) *Session {
	s := newSession()
	for _, opt := range options {
		opt(s)
	}
	if s.p == 0 {
		s.p = 1
	}
	if s.maxRetries == 0 {
		s.maxRetries = DefaultMaxRetries
	}
	if s.executor == nil {
		s.executor = newLocalExecutor()
	}
	s.shutdown = s.executor.Start(s)
	return s
}

// Run evaluates the provided dataset using the session's executor,
// returning the result when the computation has completed, or else on
// error. It is safe to make concurrent calls to Run; the underlying
// computations will be performed in parallel.
func (s *Session) Run(ctx context.Context, dataset bigpipe.Dataset) (*Result, error) {
	return s.run(ctx, 1, dataset)
}

// Must is a version of Run that panics if the computation fails.
func (s *Session) Must(ctx context.Context, dataset bigpipe.Dataset) *Result {
	res, err := s.run(ctx, 1, dataset)
	if err != nil {
		log.Panicf("exec.Run: %v", err)
	}
	return res
}

// Cache evaluates the dataset and pins its partitions in the
// session's executor. The returned result reuses the pinned
// partitions when it appears in the lineage of later computations:
// evaluating a dataset derived from it never recomputes upstream of
// the cache. Use Uncache to release the pinned partitions.
func (s *Session) Cache(ctx context.Context, dataset bigpipe.Dataset) (*Result, error) {
	return s.run(ctx, 1, dataset)
}

// Uncache releases the result's pinned partitions. Computations that
// still refer to the result remain valid: its tasks are marked lost
// and are recomputed from their lineage on the next evaluation.
func (s *Session) Uncache(ctx context.Context, result *Result) {
	for _, task := range result.tasks {
		s.executor.Discard(ctx, task)
	}
}

func (s *Session) run(ctx context.Context, calldepth int, dataset bigpipe.Dataset) (*Result, error) {
	location := "<unknown>"
	if _, file, line, ok := runtime.Caller(calldepth + 1); ok {
		location = fmt.Sprintf("%s:%d", file, line)
	}
	s.mu.Lock()
	tasks, err := compile(s.names, dataset)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	// Register all the tasks so they may be used in visualization.
	for _, task := range tasks {
		s.roots[task] = struct{}{}
	}
	var group *status.Group
	if s.status != nil {
		group = s.status.Groupf("run %s", location)
	}
	s.mu.Unlock()
	return &Result{
		Dataset: dataset,
		sess:    s,
		tasks:   tasks,
	}, Eval(ctx, s.executor, tasks, group, s.maxRetries)
}

// Parallelism returns the desired amount of evaluation parallelism.
func (s *Session) Parallelism() int {
	return s.p
}

// MaxRetries returns the session's per-task retry budget.
func (s *Session) MaxRetries() int {
	return s.maxRetries
}

// Status returns the session's status aggregator.
func (s *Session) Status() *status.Status {
	return s.status
}

// Shutdown tears down resources associated with this session.
// It should be called when the session is discarded.
func (s *Session) Shutdown() {
	if s.shutdown != nil {
		s.shutdown()
	}
}

// A Result is the output of a dataset evaluation. Results implement
// bigpipe.Dataset: when a Result appears in the lineage of a later
// computation in the same session, its already-computed tasks are
// reused instead of being recomputed.
type Result struct {
	bigpipe.Dataset
	sess  *Session
	tasks []*Task
}

// Scanner returns a scanner that scans the output. If the output
// contains multiple partitions, they are scanned sequentially. You
// may get and scan multiple scanners concurrently from r.
func (r *Result) Scanner() *rowio.Scanner {
	readers := make([]rowio.Reader, len(r.tasks))
	for i := range readers {
		readers[i] = r.sess.executor.Reader(r.sess.Context, r.tasks[i], 0)
	}
	return rowio.NewScanner(r, rowio.MultiReader(readers...))
}

// Tasks returns the root tasks computed by this result. It is
// provided for testing and debugging.
func (r *Result) Tasks() []*Task {
	return r.tasks
}
