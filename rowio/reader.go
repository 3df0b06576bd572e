// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package rowio provides utilities for managing I/O for bigpipe
// operations: vectorized readers of dataset rows, scanners, and a
// stream codec used for checkpointing and shuffle spills.
package rowio

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigpipe/frame"
	"github.com/grailbio/bigpipe/schema"
)

// DefaultChunksize is the default size used for I/O vectors within
// the rowio package.
const defaultChunksize = 1024

// EOF is the error returned by Reader.Read when no more data is
// available. EOF is intended as a sentinel error: it signals a
// graceful end of output. If output terminates unexpectedly, a
// different error should be returned.
var EOF = errors.New("EOF")

// A Reader represents a stateful stream of records. Each call to
// Read reads the next set of available records.
type Reader interface {
	// Read reads a vector of records into the provided frame. The
	// frame's schema must be assignable from the reader's. Read
	// returns the total number of records read, or an error. When no
	// more records are available, Read returns EOF. Read may return
	// EOF when n > 0: in this case, n records were read, but no more
	// are available.
	//
	// Read should not be called concurrently.
	Read(ctx context.Context, f frame.Frame) (int, error)
}

type multiReader struct {
	q   []Reader
	err error
}

// MultiReader returns a Reader that's the logical concatenation of
// the provided input readers. Once every underlying Reader has
// returned EOF, Read will return EOF, too. Non-EOF errors are
// returned immediately.
func MultiReader(readers ...Reader) Reader {
	return &multiReader{q: readers}
}

func (m *multiReader) Read(ctx context.Context, out frame.Frame) (n int, err error) {
	if m.err != nil {
		return 0, m.err
	}
	for len(m.q) > 0 {
		n, err := m.q[0].Read(ctx, out)
		switch {
		case err == EOF:
			// The reader may return rows along with EOF; surface them
			// before moving on to the next reader.
			m.q = m.q[1:]
			if n > 0 {
				return n, nil
			}
		case err != nil:
			m.err = err
			return n, err
		case n > 0:
			return n, err
		}
	}
	return 0, EOF
}

type frameReader struct {
	frame.Frame
}

// FrameReader returns a Reader that reads the provided Frame to
// completion.
func FrameReader(f frame.Frame) Reader {
	return &frameReader{f}
}

func (f *frameReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	n := out.Len()
	max := f.Frame.Len()
	if max < n {
		n = max
	}
	frame.Copy(out, f.Frame)
	f.Frame = f.Frame.Slice(n, max)
	if f.Frame.Len() == 0 {
		return n, EOF
	}
	return n, nil
}

// ReadAll reads reader r to completion, returning the accumulated
// rows as a single frame with the provided schema. ReadAll is not
// tuned for performance and is intended for testing and for
// small, collected results.
func ReadAll(ctx context.Context, typ schema.Type, r Reader) (frame.Frame, error) {
	out := frame.Make(typ, 0, defaultChunksize)
	buf := frame.Make(typ, defaultChunksize, defaultChunksize)
	for {
		n, err := r.Read(ctx, buf)
		if err != nil && err != EOF {
			return frame.Frame{}, err
		}
		out = frame.AppendFrame(out, buf.Slice(0, n))
		if err == EOF {
			return out, nil
		}
	}
}

// ReadFull reads the full length of the frame. ReadFull reads short
// frames only on EOF.
func ReadFull(ctx context.Context, r Reader, f frame.Frame) (n int, err error) {
	len := f.Len()
	for n < len {
		m, err := r.Read(ctx, f.Slice(n, len))
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// An errReader is a reader that only returns errors.
type errReader struct{ Err error }

// ErrReader returns a reader that returns the provided error on
// every call to Read. ErrReader panics if err is nil.
func ErrReader(err error) Reader {
	if err == nil {
		panic("nil error")
	}
	return &errReader{err}
}

func (e errReader) Read(ctx context.Context, f frame.Frame) (int, error) {
	return 0, e.Err
}

// EmptyReader returns an EOF.
type EmptyReader struct{}

func (EmptyReader) Read(ctx context.Context, f frame.Frame) (int, error) {
	return 0, EOF
}
