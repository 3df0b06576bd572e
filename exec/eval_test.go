// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/rowio"
)

// flakyDataset fails its first failures Reader invocations with a
// transient error, then behaves like the identity.
type flakyDataset struct {
	bigpipe.Dataset
	mu       sync.Mutex
	failures int
}

func (*flakyDataset) Op() string  { return "flaky" }
func (*flakyDataset) NumDep() int { return 1 }
func (f *flakyDataset) Dep(i int) bigpipe.Dep {
	return bigpipe.Dep{Dataset: f.Dataset}
}

func (f *flakyDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return rowio.ErrReader(errors.New("temporarily unavailable"))
	}
	return deps[0]
}

func TestEvalRetry(t *testing.T) {
	d := &flakyDataset{Dataset: bigpipe.Range(1, 5, "i"), failures: 2}
	ctx := context.Background()
	sess := Start(Local)
	res, err := sess.Run(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	var (
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
	if got, want := len(is), 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEvalRetryExhausted(t *testing.T) {
	d := &flakyDataset{Dataset: bigpipe.Range(1, 5, "i"), failures: 100}
	ctx := context.Background()
	sess := Start(Local, MaxRetries(2))
	_, err := sess.Run(ctx, d)
	if err == nil {
		t.Fatal("expected error")
	}
	failure, ok := err.(*StageFailure)
	if !ok {
		t.Fatalf("expected StageFailure, got %T: %v", err, err)
	}
	if got, want := failure.Op, "range_flaky"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := failure.Shard, 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !strings.Contains(failure.Err.Error(), "temporarily unavailable") {
		t.Errorf("unexpected task error %v", failure.Err)
	}
}

func TestEvalFatal(t *testing.T) {
	var calls int64
	d := bigpipe.Map(bigpipe.Range(1, 5, "i"), func(i int64) int64 {
		atomic.AddInt64(&calls, 1)
		if i == 3 {
			panic("unseen value")
		}
		return i
	}, "i")
	ctx := context.Background()
	sess := Start(Local)
	_, err := sess.Run(ctx, d)
	failure, ok := err.(*StageFailure)
	if !ok {
		t.Fatalf("expected StageFailure, got %T: %v", err, err)
	}
	if !strings.Contains(failure.Err.Error(), "unseen value") {
		t.Errorf("unexpected task error %v", failure.Err)
	}
	// Panics are fatal: the task must not have been retried.
	if got, want := atomic.LoadInt64(&calls), int64(4); got != want {
		t.Errorf("got %v calls, want %v", got, want)
	}
}

func TestStageFailureUnwrap(t *testing.T) {
	underlying := errors.New("root cause")
	failure := &StageFailure{Op: "map", Shard: 3, Err: underlying}
	if !errors.Is(failure, underlying) {
		t.Error("expected StageFailure to unwrap to its task error")
	}
	if !strings.Contains(failure.Error(), "map") || !strings.Contains(failure.Error(), "3") {
		t.Errorf("uninformative failure message %q", failure.Error())
	}
}
