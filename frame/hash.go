// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package frame

import (
	"encoding/binary"
	"math"
	"reflect"

	"github.com/spaolacci/murmur3"
)

// CanHash tells whether values of the provided type can be hashed
// for partitioning. Hashable types are strings, booleans, integers,
// floats, and slices thereof.
func CanHash(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return CanHash(typ.Elem())
	}
	return false
}

// Hash returns a hash of row i computed over all of the frame's
// columns. Hashes are stable: the same row contents always produce
// the same hash.
func (f Frame) Hash(i int) uint32 {
	var seed uint32
	for _, col := range f.cols {
		seed = hashValue(col.Index(i), seed)
	}
	return seed
}

// HashCol returns a hash of row i computed over column col only.
// It is used to partition rows by a key column.
func (f Frame) HashCol(col, i int) uint32 {
	return hashValue(f.cols[col].Index(i), 0)
}

func hashValue(v reflect.Value, seed uint32) uint32 {
	switch v.Kind() {
	case reflect.String:
		return murmur3.Sum32WithSeed([]byte(v.String()), seed)
	case reflect.Bool:
		if v.Bool() {
			return hash32(1, seed)
		}
		return hash32(0, seed)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return hash64(uint64(v.Int()), seed)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return hash64(v.Uint(), seed)
	case reflect.Float32, reflect.Float64:
		return hash64(math.Float64bits(v.Float()), seed)
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			seed = hashValue(v.Index(i), seed)
		}
		return seed
	}
	panic("frame.Hash: unhashable type " + v.Type().String())
}

func hash32(x uint32, seed uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], x)
	return murmur3.Sum32WithSeed(b[:], seed)
}

func hash64(x uint64, seed uint32) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	return murmur3.Sum32WithSeed(b[:], seed)
}
