// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe_test

import (
	"reflect"
	"sort"
	"testing"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/pipetest"
)

func TestLookup(t *testing.T) {
	events := bigpipe.Const(3,
		[]string{"user", "event"},
		[]int64{1, 2, 1, 3, 9, 2},
		[]string{"login", "login", "logout", "login", "login", "logout"},
	)
	users := bigpipe.Const(1,
		[]string{"id", "name"},
		[]int64{1, 2, 3},
		[]string{"ann", "bob", "cat"},
	)
	d := bigpipe.Lookup(events, bigpipe.Broadcast(users), "user", "id")
	if got, want := d.NumShard(), events.NumShard(); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := d.NumOut(), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := d.Name(2), "name"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var (
		ids            []int64
		events2, names []string
	)
	pipetest.RunAndScan(t, d, &ids, &events2, &names)
	// User 9 has no match and is dropped.
	if got, want := len(ids), 5; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, id := range ids {
		want := map[int64]string{1: "ann", 2: "bob", 3: "cat"}[id]
		if got := names[i]; got != want {
			t.Errorf("row %d: got %v, want %v", i, got, want)
		}
	}
}

func TestLookupDuplicateKeys(t *testing.T) {
	big := bigpipe.Const(2,
		[]string{"key", "val"},
		[]string{"a", "b"},
		[]int64{1, 2},
	)
	small := bigpipe.Const(1,
		[]string{"key", "tag"},
		[]string{"a", "a", "b"},
		[]string{"x", "y", "z"},
	)
	d := bigpipe.Lookup(big, small, "key", "key")
	var (
		keys, tags []string
		vals       []int64
	)
	pipetest.RunAndScan(t, d, &keys, &vals, &tags)
	// Each matching small row produces one output row.
	rows := make([]string, len(keys))
	for i := range rows {
		rows[i] = keys[i] + tags[i]
	}
	sort.Strings(rows)
	if got, want := rows, []string{"ax", "ay", "bz"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLookupKeyTypeMismatch(t *testing.T) {
	big := bigpipe.Const(1, []string{"k"}, []int64{1})
	small := bigpipe.Const(1, []string{"k", "v"}, []string{"a"}, []int64{1})
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	bigpipe.Lookup(big, small, "k", "k")
}
