// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rowio

import (
	"context"
	"reflect"

	"github.com/grailbio/bigpipe/frame"
	"github.com/grailbio/bigpipe/schema"
	"github.com/grailbio/bigpipe/typecheck"
)

// A Scanner provides a convenient interface for reading records
// (e.g. from a Dataset or a partition of a Dataset). Successive
// calls to Scan return the next record. Scanning stops when no more
// data are available or if an error is encountered. Scan returns
// true while it's safe to continue scanning. When scanning is
// complete, the user should inspect the scanner's error to see if
// scanning stopped because of an EOF or because another error
// occurred.
type Scanner struct {
	Reader Reader
	Type   schema.Type

	err      error
	started  bool
	in       frame.Frame
	beg, end int
}

// NewScanner returns a new scanner of records of the provided schema
// from the provided reader.
func NewScanner(typ schema.Type, r Reader) *Scanner {
	return &Scanner{Reader: r, Type: typ}
}

// Scan the next record into the provided columns. Scanning fails if
// the columns do not match arity and type with the underlying
// dataset. Scan returns true while no errors are encountered and
// there remains data to be scanned.
func (s *Scanner) Scan(ctx context.Context, out ...interface{}) bool {
	if s.err != nil {
		return false
	}
	if len(out) != s.Type.NumOut() {
		s.err = typecheck.Errorf(1, "wrong arity: expected %d columns, got %d", s.Type.NumOut(), len(out))
		return false
	}
	for i := range out {
		if got, want := reflect.TypeOf(out[i]), reflect.PtrTo(s.Type.Out(i)); got != want {
			s.err = typecheck.Errorf(1, "wrong type for argument %d: expected %s, got %s", i, want, got)
			return false
		}
	}
	if !s.started {
		s.started = true
		s.in = frame.Make(s.Type, defaultChunksize, defaultChunksize)
		s.beg, s.end = 0, 0
	}
	// Read the next batch of input.
	for s.beg == s.end {
		if s.Reader == nil {
			s.err = EOF
			return false
		}
		n, err := s.Reader.Read(ctx, s.in)
		if err != nil && err != EOF {
			s.err = err
			return false
		}
		s.beg, s.end = 0, n
		if err == EOF {
			s.Reader = nil
		}
	}
	for i, col := range out {
		reflect.ValueOf(col).Elem().Set(s.in.Index(i, s.beg))
	}
	s.beg++
	return true
}

// Err returns any error that occurred while scanning.
func (s *Scanner) Err() error {
	if s.err == EOF {
		return nil
	}
	return s.err
}
