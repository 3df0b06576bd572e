// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package typecheck

import (
	"errors"
	"fmt"
	"runtime"
)

// TestCalldepth adds extra call depth to the locations captured by
// NewError. Tests override it to account for their own helper frames
// when checking attributed locations.
var TestCalldepth = 0

// An Error is a dataset construction error. Construction errors are
// attributed to the user call site that misused the API, not to the
// library internals that detected the misuse, so an Error carries
// the attributed source location alongside its cause.
type Error struct {
	Err  error
	File string
	Line int
}

// NewError returns an Error wrapping err, attributed to the location
// calldepth frames above the caller.
func NewError(calldepth int, err error) *Error {
	e := &Error{Err: err}
	var ok bool
	_, e.File, e.Line, ok = runtime.Caller(calldepth + 1 + TestCalldepth)
	if !ok {
		e.File = "<unknown>"
	}
	return e
}

// Errorf is NewError with fmt.Errorf-style formatting of the cause.
func Errorf(calldepth int, format string, args ...interface{}) *Error {
	return NewError(calldepth+1, fmt.Errorf(format, args...))
}

// Panic panics with a new Error attributed calldepth frames above
// the caller.
func Panic(calldepth int, message string) {
	panic(NewError(calldepth+1, errors.New(message)))
}

// Panicf is Panic with fmt.Errorf-style formatting of the cause.
func Panicf(calldepth int, format string, args ...interface{}) {
	panic(Errorf(calldepth+1, format, args...))
}

// Error implements error, rendering "file:line: cause".
func (err *Error) Error() string {
	return fmt.Sprintf("%s:%d: %v", err.File, err.Line, err.Err)
}

// Location re-attributes a recovered Error to the provided location
// and panics again; panics of other types pass through unmodified.
// It must be invoked as a deferred call, by intermediaries that
// construct datasets on a user's behalf and want errors attributed
// to the user's own call site:
//
//	defer typecheck.Location(file, line)
func Location(file string, line int) {
	e := recover()
	if e == nil {
		return
	}
	err, ok := e.(*Error)
	if !ok {
		panic(e)
	}
	err.File = file
	err.Line = line
	panic(err)
}
