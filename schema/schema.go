// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package schema implements data types and utilities to describe
// Bigpipe dataset schemas: Datasets, Frames, and Tasks all carry
// schema.Types. A schema is an ordered tuple of named, typed
// columns.
package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// A Field describes a single named column.
type Field struct {
	Name string
	Type reflect.Type
}

// String returns the field rendered as "name type".
func (f Field) String() string {
	return fmt.Sprintf("%s %s", f.Name, f.Type)
}

// A Type is the schema of a set of columns. Column names are unique
// within a Type.
type Type interface {
	// NumOut returns the number of columns.
	NumOut() int
	// Out returns the data type of the ith column.
	Out(i int) reflect.Type
	// Name returns the name of the ith column.
	Name(i int) string
}

type fieldSlice []Field

// New returns a new Type comprising the provided fields.
func New(fields ...Field) Type {
	return fieldSlice(fields)
}

// Of is a convenience constructor for a single field.
func Of(name string, typ reflect.Type) Field {
	return Field{Name: name, Type: typ}
}

func (t fieldSlice) NumOut() int            { return len(t) }
func (t fieldSlice) Out(i int) reflect.Type { return t[i].Type }
func (t fieldSlice) Name(i int) string      { return t[i].Name }

// Fields returns a slice of fields from the provided type.
func Fields(typ Type) []Field {
	if fields, ok := typ.(fieldSlice); ok {
		return fields
	}
	out := make([]Field, typ.NumOut())
	for i := range out {
		out[i] = Field{Name: typ.Name(i), Type: typ.Out(i)}
	}
	return out
}

// Index returns the index of the column with the provided name, or
// -1 if the type has no such column.
func Index(typ Type, name string) int {
	for i := 0; i < typ.NumOut(); i++ {
		if typ.Name(i) == name {
			return i
		}
	}
	return -1
}

// Equal tells whether the expected and actual schemas are equal:
// their columns must agree in order, name, and type.
func Equal(expect, actual Type) bool {
	if got, want := actual.NumOut(), expect.NumOut(); got != want {
		return false
	}
	for i := 0; i < expect.NumOut(); i++ {
		if actual.Name(i) != expect.Name(i) {
			return false
		}
		if got, want := actual.Out(i), expect.Out(i); got != want {
			return false
		}
	}
	return true
}

// Assignable reports whether column values of schema in can be
// assigned to schema out. Assignability considers only column types,
// not names.
func Assignable(in, out Type) bool {
	if in.NumOut() != out.NumOut() {
		return false
	}
	for i := 0; i < in.NumOut(); i++ {
		if !in.Out(i).AssignableTo(out.Out(i)) {
			return false
		}
	}
	return true
}

// Concat returns the concatenation of the provided types. Concat
// panics if the concatenation would contain a duplicate column name.
func Concat(types ...Type) Type {
	var t fieldSlice
	seen := make(map[string]bool)
	for _, typ := range types {
		for _, f := range Fields(typ) {
			if seen[f.Name] {
				panic(fmt.Sprintf("schema.Concat: duplicate column %q", f.Name))
			}
			seen[f.Name] = true
			t = append(t, f)
		}
	}
	return t
}

// Slice returns the type comprising columns [i, j) of type t.
func Slice(t Type, i, j int) Type {
	if i < 0 || i > t.NumOut() || j < i || j > t.NumOut() {
		panic("slice: invalid argument")
	}
	return fieldSlice(Fields(t)[i:j])
}

// String renders a human-readable representation of the schema.
func String(typ Type) string {
	elems := make([]string, typ.NumOut())
	for i := range elems {
		elems[i] = fmt.Sprintf("%s %s", typ.Name(i), typ.Out(i))
	}
	return fmt.Sprintf("schema<%s>", strings.Join(elems, ", "))
}
