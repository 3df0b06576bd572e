// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package typecheck contains typechecking and inference utilities
// for bigpipe dataset combinators. Misuse of a combinator is a
// programming error, and is reported by panicking with an error that
// carries the caller's location.
package typecheck

import (
	"reflect"

	"github.com/grailbio/bigpipe/schema"
)

// Equal tells whether the expected and actual schemas carry equal
// column types. Column names are not considered: function arguments
// and return values carry no names.
func Equal(expect, actual schema.Type) bool {
	if got, want := actual.NumOut(), expect.NumOut(); got != want {
		return false
	}
	for i := 0; i < expect.NumOut(); i++ {
		if got, want := actual.Out(i), expect.Out(i); got != want {
			return false
		}
	}
	return true
}

// Columns returns a schema for the provided named column values.
// Each column value must be a slice; the schema's column types are
// the slices' element types. If the passed values are not valid
// column values, Columns returns false.
func Columns(names []string, columns ...interface{}) (schema.Type, bool) {
	if len(names) != len(columns) {
		return nil, false
	}
	fields := make([]schema.Field, len(columns))
	for i, col := range columns {
		t := reflect.TypeOf(col)
		if t == nil || t.Kind() != reflect.Slice {
			return nil, false
		}
		fields[i] = schema.Field{Name: names[i], Type: t.Elem()}
	}
	return schema.New(fields...), true
}

// Func inspects the provided function, returning schemas for its
// arguments and results. The returned schemas carry empty column
// names. If fn is not a function, Func returns false.
func Func(fn interface{}) (arg, ret schema.Type, ok bool) {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return nil, nil, false
	}
	argFields := make([]schema.Field, t.NumIn())
	for i := range argFields {
		argFields[i] = schema.Field{Type: t.In(i)}
	}
	retFields := make([]schema.Field, t.NumOut())
	for i := range retFields {
		retFields[i] = schema.Field{Type: t.Out(i)}
	}
	return schema.New(argFields...), schema.New(retFields...), true
}
