// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/bigpipe/frame"
	"github.com/grailbio/bigpipe/rowio"
)

// TaskBuffer is an in-memory buffer of task output. It has the
// ability to handle multiple partitions, and stores vectors of
// rows for efficiency.
//
// TaskBuffer layout is: partition, slices, frames.
type taskBuffer [][]frame.Frame

type taskBufferReader struct {
	q       taskBuffer
	i, j, k int
}

func (r *taskBufferReader) Read(ctx context.Context, out frame.Frame) (int, error) {
loop:
	for {
		switch {
		case len(r.q) == r.i:
			return 0, rowio.EOF
		case len(r.q[r.i]) == r.j:
			r.i++
			r.j, r.k = 0, 0
		case r.q[r.i][r.j].Len() == r.k:
			r.j++
			r.k = 0
		default:
			break loop
		}
	}
	buf := r.q[r.i][r.j]
	n := out.Len()
	if m := buf.Len() - r.k; m < n {
		n = m
	}
	l := r.k + n
	frame.Copy(out, buf.Slice(r.k, l))
	r.k = l
	return n, nil
}

// Reader returns a Reader for a partition of the taskBuffer.
func (b taskBuffer) Reader(partition int) rowio.Reader {
	if len(b) == 0 {
		return rowio.EmptyReader{}
	}
	return &taskBufferReader{q: b[partition : partition+1]}
}
