// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package frame

import (
	"reflect"
	"sort"
)

// CanSort tells whether values of the provided type are ordered for
// the purpose of sorting.
func CanSort(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// Sort stably sorts the frame's rows in ascending order of the
// values in column col. All columns are swapped together so that
// rows remain intact.
func (f Frame) Sort(col int) {
	sort.Stable(frameSorter{f, col, swappers(f)})
}

func swappers(f Frame) []func(i, j int) {
	swap := make([]func(i, j int), len(f.cols))
	for i, col := range f.cols {
		swap[i] = reflect.Swapper(col.Interface())
	}
	return swap
}

type frameSorter struct {
	f    Frame
	col  int
	swap []func(i, j int)
}

func (s frameSorter) Len() int { return s.f.Len() }

func (s frameSorter) Less(i, j int) bool {
	return less(s.f.cols[s.col], i, j)
}

func (s frameSorter) Swap(i, j int) {
	for _, swap := range s.swap {
		swap(i, j)
	}
}

func less(col reflect.Value, i, j int) bool {
	switch col.Type().Elem().Kind() {
	case reflect.String:
		return col.Index(i).String() < col.Index(j).String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return col.Index(i).Int() < col.Index(j).Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return col.Index(i).Uint() < col.Index(j).Uint()
	case reflect.Float32, reflect.Float64:
		return col.Index(i).Float() < col.Index(j).Float()
	}
	panic("frame.Sort: unordered column type " + col.Type().Elem().String())
}
