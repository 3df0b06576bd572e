// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pipeline implements machine learning pipelines over bigpipe
// datasets. A pipeline is an ordered sequence of stages; each stage
// is either a transformer, a deterministic dataset-to-dataset
// function, or an estimator, which is fit on a dataset to produce a
// transformer. Fitting a pipeline folds over its stages, fitting each
// estimator on the running transformed dataset, and yields a pipeline
// model: an immutable sequence of transformers that can be applied,
// saved, and loaded.
//
// Stage schemas are validated before any computation runs, so schema
// errors surface at fit or transform time without touching data.
package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/exec"
	"github.com/grailbio/bigpipe/schema"
)

var (
	typeOfString  = reflect.TypeOf("")
	typeOfInt64   = reflect.TypeOf(int64(0))
	typeOfFloat64 = reflect.TypeOf(float64(0))
	typeOfVector  = reflect.TypeOf([]float64(nil))
)

// column returns the type of the named column in the provided schema,
// or a SchemaError attributed to the given stage if the column is
// missing or not of the wanted type.
func column(stage string, in schema.Type, name string, want reflect.Type) (reflect.Type, error) {
	c := schema.Index(in, name)
	if c < 0 {
		return nil, schemaErrorf(stage, name, "missing input column")
	}
	if want != nil && in.Out(c) != want {
		return nil, schemaErrorf(stage, name, "column has type %s, need %s", in.Out(c), want)
	}
	return in.Out(c), nil
}

// appended returns the schema in with a column appended, or a
// SchemaError if the column already exists.
func appended(stage string, in schema.Type, name string, typ reflect.Type) (schema.Type, error) {
	if schema.Index(in, name) >= 0 {
		return nil, schemaErrorf(stage, name, "output column already exists")
	}
	return schema.Concat(in, schema.New(schema.Of(name, typ))), nil
}

// Kind is the variant tag of a pipeline stage. The set of stage
// variants is closed: every stage is either an estimator or a
// transformer.
type Kind int

const (
	// KindEstimator stages are fit on a dataset to produce a
	// transformer.
	KindEstimator Kind = iota
	// KindTransformer stages map datasets to datasets directly.
	KindTransformer
)

func (k Kind) String() string {
	switch k {
	case KindEstimator:
		return "estimator"
	case KindTransformer:
		return "transformer"
	}
	panic("unknown stage kind")
}

// A Param is a single hyperparameter setting.
type Param struct {
	Name  string
	Value interface{}
}

// A Stage is a single step of a pipeline.
type Stage interface {
	// Kind returns the stage's variant.
	Kind() Kind
	// UID returns the stage's unique identifier. UIDs identify stages
	// in parameter grids and in persisted models.
	UID() string
	// SetParam sets a hyperparameter. Unknown names, values of the
	// wrong type, and out-of-domain values are ParameterErrors.
	SetParam(name string, value interface{}) error
	// Params returns the stage's current hyperparameter settings in a
	// fixed, stage-defined order.
	Params() []Param
	// OutSchema returns the schema of the stage's output given an
	// input schema, or a SchemaError if the input schema does not
	// satisfy the stage's requirements. For estimators, the reported
	// schema is that of the fitted transformer's output. OutSchema
	// never computes data.
	OutSchema(in schema.Type) (schema.Type, error)
}

// An Estimator is a stage that is fit on a dataset, producing a
// transformer that captures the learned state.
type Estimator interface {
	Stage
	// Fit fits the estimator on the provided dataset, evaluating it
	// with the provided session. Fit does not mutate the estimator: it
	// is safe to fit one estimator concurrently on several datasets.
	Fit(ctx context.Context, sess *exec.Session, dataset bigpipe.Dataset) (Transformer, error)
}

// A Transformer is a stage that maps datasets to datasets. Transforms
// are lazy: they extend the dataset's lineage and compute nothing
// themselves. A transformer applied twice to the same dataset
// produces the same result.
type Transformer interface {
	Stage
	// Transform returns the transformed dataset, or a SchemaError if
	// the dataset does not satisfy the transformer's input schema.
	Transform(dataset bigpipe.Dataset) (bigpipe.Dataset, error)
}

var uids int64

// NextUID mints a process-unique stage identifier with the provided
// prefix. Stages created in a fixed order receive stable UIDs.
func NextUID(prefix string) string {
	return fmt.Sprintf("%s_%03d", prefix, atomic.AddInt64(&uids, 1))
}

// A Pipeline is an estimator composed of an ordered sequence of
// stages. Fitting a pipeline fits each estimator stage, in order, on
// the dataset as transformed by all preceding stages.
type Pipeline struct {
	uid    string
	stages []Stage
}

// New returns a new pipeline comprising the provided stages.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{uid: NextUID("pipeline"), stages: stages}
}

// Kind implements Stage. A pipeline is always an estimator, even if
// all of its stages are transformers.
func (p *Pipeline) Kind() Kind { return KindEstimator }

// UID implements Stage.
func (p *Pipeline) UID() string { return p.uid }

// SetParam implements Stage. Pipelines have no hyperparameters of
// their own; parameters are set on their stages.
func (p *Pipeline) SetParam(name string, value interface{}) error {
	return paramErrorf(p.uid, name, "pipelines have no parameters")
}

// Params implements Stage.
func (p *Pipeline) Params() []Param { return nil }

// Stages returns the pipeline's stages in order.
func (p *Pipeline) Stages() []Stage { return p.stages }

// OutSchema implements Stage, threading the input schema through
// every stage in order.
func (p *Pipeline) OutSchema(in schema.Type) (schema.Type, error) {
	var err error
	for _, stage := range p.stages {
		in, err = stage.OutSchema(in)
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}

// Fit fits the pipeline on the provided dataset, returning a pipeline
// model. The dataset's schema is validated against every stage before
// any computation runs. Fit does not mutate the pipeline.
func (p *Pipeline) Fit(ctx context.Context, sess *exec.Session, dataset bigpipe.Dataset) (Transformer, error) {
	return p.FitModel(ctx, sess, dataset)
}

// FitModel is Fit with a concrete result type.
func (p *Pipeline) FitModel(ctx context.Context, sess *exec.Session, dataset bigpipe.Dataset) (*PipelineModel, error) {
	if _, err := p.OutSchema(dataset); err != nil {
		return nil, err
	}
	stages := make([]Transformer, len(p.stages))
	d := dataset
	for i, stage := range p.stages {
		switch stage.Kind() {
		case KindEstimator:
			fitted, err := stage.(Estimator).Fit(ctx, sess, d)
			if err != nil {
				return nil, err
			}
			stages[i] = fitted
		case KindTransformer:
			stages[i] = stage.(Transformer)
		default:
			panic("unknown stage kind")
		}
		// Subsequent stages see the transformed dataset. The transform
		// is lazy; estimator stages downstream force computation as
		// needed.
		var err error
		d, err = stages[i].Transform(d)
		if err != nil {
			return nil, err
		}
	}
	return &PipelineModel{uid: p.uid, stages: stages}, nil
}

// A PipelineModel is a fitted pipeline: an immutable, ordered
// sequence of transformers. Pipeline models can be persisted with
// Save and restored with Load.
type PipelineModel struct {
	uid    string
	stages []Transformer
}

// Kind implements Stage.
func (m *PipelineModel) Kind() Kind { return KindTransformer }

// UID implements Stage.
func (m *PipelineModel) UID() string { return m.uid }

// SetParam implements Stage. Models are immutable.
func (m *PipelineModel) SetParam(name string, value interface{}) error {
	return paramErrorf(m.uid, name, "fitted models are immutable")
}

// Params implements Stage.
func (m *PipelineModel) Params() []Param { return nil }

// Stages returns the model's transformers in order.
func (m *PipelineModel) Stages() []Transformer { return m.stages }

// OutSchema implements Stage.
func (m *PipelineModel) OutSchema(in schema.Type) (schema.Type, error) {
	var err error
	for _, stage := range m.stages {
		in, err = stage.OutSchema(in)
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}

// Transform applies the model's transformers in order. The dataset's
// schema is validated against every stage before any transform is
// applied.
func (m *PipelineModel) Transform(dataset bigpipe.Dataset) (bigpipe.Dataset, error) {
	if _, err := m.OutSchema(dataset); err != nil {
		return nil, err
	}
	var err error
	for _, stage := range m.stages {
		dataset, err = stage.Transform(dataset)
		if err != nil {
			return nil, err
		}
	}
	return dataset, nil
}
