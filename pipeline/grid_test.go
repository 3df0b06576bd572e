// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline_test

import (
	"reflect"
	"testing"

	"github.com/grailbio/bigpipe/pipeline"
)

func TestGrid(t *testing.T) {
	var (
		scaler = pipeline.NewStandardScaler("features", "scaled")
		lr     = pipeline.NewLinearRegression("scaled", "label", "pred")
	)
	grid := pipeline.NewGrid().
		Add(scaler, "withMean", true, false).
		Add(lr, "fitIntercept", true, false)
	if got, want := grid.Size(), 4; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	combos := grid.Combinations()
	if got, want := len(combos), 4; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	// Enumeration is row-major in insertion order, with the last-added
	// entry varying fastest.
	want := [][]interface{}{
		{true, true},
		{true, false},
		{false, true},
		{false, false},
	}
	for i, combo := range combos {
		if got, want := len(combo), 2; got != want {
			t.Fatalf("combination %d: got %v settings, want %v", i, got, want)
		}
		if got, want := combo[0].Stage, pipeline.Stage(scaler); got != want {
			t.Errorf("combination %d: got stage %v, want %v", i, got, want)
		}
		values := []interface{}{combo[0].Value, combo[1].Value}
		if !reflect.DeepEqual(values, want[i]) {
			t.Errorf("combination %d: got %v, want %v", i, values, want[i])
		}
	}
}

func TestGridReplace(t *testing.T) {
	scaler := pipeline.NewStandardScaler("features", "scaled")
	grid := pipeline.NewGrid().
		Add(scaler, "withMean", true, false).
		Add(scaler, "withMean", true)
	if got, want := grid.Size(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGridEmpty(t *testing.T) {
	grid := pipeline.NewGrid()
	if got, want := grid.Size(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := grid.Combinations(); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestSettingApply(t *testing.T) {
	scaler := pipeline.NewStandardScaler("features", "scaled")
	setting := pipeline.Setting{Stage: scaler, Param: "withStd", Value: false}
	if err := setting.Apply(); err != nil {
		t.Fatal(err)
	}
	for _, p := range scaler.Params() {
		if p.Name == "withStd" {
			if got, want := p.Value, false; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		}
	}
	bad := pipeline.Setting{Stage: scaler, Param: "withStd", Value: 3}
	if _, ok := bad.Apply().(*pipeline.ParameterError); !ok {
		t.Error("expected ParameterError")
	}
}
