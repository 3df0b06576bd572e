// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rowio

import (
	"bytes"
	"context"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/bigpipe/frame"
	"github.com/grailbio/bigpipe/schema"
)

var codecType = schema.New(
	schema.Field{Name: "key", Type: reflect.TypeOf("")},
	schema.Field{Name: "vals", Type: reflect.TypeOf([]int(nil))},
)

func fuzzFrame(fz *fuzz.Fuzzer, n int) frame.Frame {
	var (
		keys []string
		vals [][]int
	)
	fz.NumElements(n, n)
	fz.Fuzz(&keys)
	fz.Fuzz(&vals)
	return frame.Columns([]string{"key", "vals"}, keys, vals)
}

func TestCodec(t *testing.T) {
	const N = 100
	fz := fuzz.NewWithSeed(12345)
	fz.NilChance(0)
	in := fuzzFrame(fz, N)
	var b bytes.Buffer
	enc := NewEncoder(&b)
	// Encode in several batches to make sure batch boundaries are
	// invisible to the reader.
	for _, batch := range [][2]int{{0, 30}, {30, 30}, {30, N}} {
		if err := enc.Encode(in.Slice(batch[0], batch[1])); err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()
	out, err := ReadAll(ctx, codecType, NewDecodingReader(codecType, &b))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := out.Len(), N; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for c := 0; c < codecType.NumOut(); c++ {
		if got, want := out.Value(c).Interface(), in.Value(c).Interface(); !reflect.DeepEqual(got, want) {
			t.Errorf("column %d: got %v, want %v", c, got, want)
		}
	}
}

func TestCodecShortReads(t *testing.T) {
	const N = 50
	fz := fuzz.NewWithSeed(0)
	fz.NilChance(0)
	in := fuzzFrame(fz, N)
	var b bytes.Buffer
	if err := NewEncoder(&b).Encode(in); err != nil {
		t.Fatal(err)
	}
	var (
		ctx = context.Background()
		r   = NewDecodingReader(codecType, &b)
		out = frame.Make(codecType, N, N)
		off int
	)
	for off < N {
		n, err := r.Read(ctx, out.Slice(off, min(off+7, N)))
		if err != nil && err != EOF {
			t.Fatal(err)
		}
		off += n
	}
	if got, want := off, N; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if _, err := r.Read(ctx, frame.Make(codecType, 1, 1)); err != EOF {
		t.Errorf("expected EOF, got %v", err)
	}
	for c := 0; c < codecType.NumOut(); c++ {
		if got, want := out.Value(c).Interface(), in.Value(c).Interface(); !reflect.DeepEqual(got, want) {
			t.Errorf("column %d: got %v, want %v", c, got, want)
		}
	}
}

func TestEmptyDecodingReader(t *testing.T) {
	ctx := context.Background()
	r := NewDecodingReader(codecType, &bytes.Buffer{})
	n, err := r.Read(ctx, frame.Make(codecType, 16, 16))
	if got, want := n, 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := err, EOF; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// EOF is sticky.
	if _, err := r.Read(ctx, frame.Make(codecType, 16, 16)); err != EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestCorruptStream(t *testing.T) {
	fz := fuzz.NewWithSeed(0)
	fz.NilChance(0)
	in := fuzzFrame(fz, 64)
	var b bytes.Buffer
	if err := NewEncoder(&b).Encode(in); err != nil {
		t.Fatal(err)
	}
	raw := b.Bytes()
	// Flip a byte in the middle of the encoded payload.
	raw[len(raw)/2] ^= 0xff
	ctx := context.Background()
	r := NewDecodingReader(codecType, bytes.NewReader(raw))
	_, err := r.Read(ctx, frame.Make(codecType, 64, 64))
	if err == nil || err == EOF {
		t.Fatalf("expected decoding error, got %v", err)
	}
}

func min(x, y int) int {
	if x < y {
		return x
	}
	return y
}
