// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline_test

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/exec"
	"github.com/grailbio/bigpipe/pipeline"
	"github.com/grailbio/bigpipe/pipetest"
	"github.com/grailbio/testutil"
)

func TestSaveLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	d := peopleDataset()
	ctx := context.Background()
	sess := exec.Start(exec.Local)
	model, err := featurePipeline().FitModel(ctx, sess, d)
	if err != nil {
		t.Fatal(err)
	}
	if err := pipeline.Save(ctx, model, dir); err != nil {
		t.Fatal(err)
	}
	loaded, err := pipeline.Load(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := loaded.UID(), model.UID(); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(loaded.Stages()), len(model.Stages()); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	scan := func(m *pipeline.PipelineModel) ([]int64, [][]float64) {
		out, err := m.Transform(d)
		if err != nil {
			t.Fatal(err)
		}
		var (
			indices []int64
			scaled  [][]float64
		)
		pipetest.RunAndScan(t, bigpipe.Project(out, "sexIndex", "scaled"), &indices, &scaled)
		return indices, scaled
	}
	indices, scaled := scan(model)
	loadedIndices, loadedScaled := scan(loaded)
	if !reflect.DeepEqual(loadedIndices, indices) {
		t.Errorf("got %v, want %v", loadedIndices, indices)
	}
	// The loaded model is numerically identical.
	if !reflect.DeepEqual(loadedScaled, scaled) {
		t.Errorf("got %v, want %v", loadedScaled, scaled)
	}
}

func TestLoadVersionMismatch(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	index := `{"Version": 99, "UID": "pipeline_001", "Stages": []}`
	if err := ioutil.WriteFile(filepath.Join(dir, "model.json"), []byte(index), 0666); err != nil {
		t.Fatal(err)
	}
	_, err := pipeline.Load(context.Background(), dir)
	if _, ok := err.(*pipeline.PersistenceError); !ok {
		t.Fatalf("expected PersistenceError, got %T: %v", err, err)
	}
}

func TestLoadUnknownStageType(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	index := `{"Version": 1, "UID": "pipeline_001", "Stages": [{"ID": "0000-bogus-x_001", "Type": "bogus"}]}`
	if err := ioutil.WriteFile(filepath.Join(dir, "model.json"), []byte(index), 0666); err != nil {
		t.Fatal(err)
	}
	_, err := pipeline.Load(context.Background(), dir)
	if _, ok := err.(*pipeline.PersistenceError); !ok {
		t.Fatalf("expected PersistenceError, got %T: %v", err, err)
	}
}

func TestLoadMissingModel(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	_, err := pipeline.Load(context.Background(), filepath.Join(dir, "nothing"))
	if _, ok := err.(*pipeline.PersistenceError); !ok {
		t.Fatalf("expected PersistenceError, got %T: %v", err, err)
	}
}
