// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/exec"
	"github.com/grailbio/bigpipe/schema"
	"gonum.org/v1/gonum/stat"
)

// StandardScaler is an estimator that standardizes a vector column to
// zero mean and unit standard deviation per dimension. Moments are
// population statistics: the variance divides by the row count, not
// by the row count less one.
type StandardScaler struct {
	uid       string
	inputCol  string
	outputCol string
	withMean  bool
	withStd   bool
}

// NewStandardScaler returns a scaler that standardizes inputCol into
// outputCol, centering and scaling by default.
func NewStandardScaler(inputCol, outputCol string) *StandardScaler {
	return &StandardScaler{
		uid:       NextUID("stdScal"),
		inputCol:  inputCol,
		outputCol: outputCol,
		withMean:  true,
		withStd:   true,
	}
}

func (s *StandardScaler) Kind() Kind  { return KindEstimator }
func (s *StandardScaler) UID() string { return s.uid }

func (s *StandardScaler) SetParam(name string, value interface{}) error {
	switch name {
	case "inputCol", "outputCol":
		v, ok := value.(string)
		if !ok {
			return paramErrorf(s.uid, name, "need a string value, got %T", value)
		}
		if name == "inputCol" {
			s.inputCol = v
		} else {
			s.outputCol = v
		}
	case "withMean", "withStd":
		v, ok := value.(bool)
		if !ok {
			return paramErrorf(s.uid, name, "need a bool value, got %T", value)
		}
		if name == "withMean" {
			s.withMean = v
		} else {
			s.withStd = v
		}
	default:
		return paramErrorf(s.uid, name, "unknown parameter")
	}
	return nil
}

func (s *StandardScaler) Params() []Param {
	return []Param{
		{"inputCol", s.inputCol},
		{"outputCol", s.outputCol},
		{"withMean", s.withMean},
		{"withStd", s.withStd},
	}
}

func (s *StandardScaler) OutSchema(in schema.Type) (schema.Type, error) {
	if _, err := column(s.uid, in, s.inputCol, typeOfVector); err != nil {
		return nil, err
	}
	return appended(s.uid, in, s.outputCol, typeOfVector)
}

// Fit computes per-dimension population moments of the vector column.
func (s *StandardScaler) Fit(ctx context.Context, sess *exec.Session, dataset bigpipe.Dataset) (Transformer, error) {
	if _, err := s.OutSchema(dataset); err != nil {
		return nil, err
	}
	res, err := sess.Run(ctx, bigpipe.Project(dataset, s.inputCol))
	if err != nil {
		return nil, err
	}
	var (
		scan = res.Scanner()
		vec  []float64
		dims [][]float64
	)
	for scan.Scan(ctx, &vec) {
		if dims == nil {
			dims = make([][]float64, len(vec))
		}
		if len(vec) != len(dims) {
			return nil, schemaErrorf(s.uid, s.inputCol, "ragged vectors: row has %d dimensions, expected %d", len(vec), len(dims))
		}
		for i, v := range vec {
			dims[i] = append(dims[i], v)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if dims == nil {
		return nil, schemaErrorf(s.uid, s.inputCol, "cannot fit on an empty dataset")
	}
	model := &StandardScalerModel{
		uid:       s.uid,
		InputCol:  s.inputCol,
		OutputCol: s.outputCol,
		WithMean:  s.withMean,
		WithStd:   s.withStd,
		Mean:      make([]float64, len(dims)),
		Std:       make([]float64, len(dims)),
	}
	for i, xs := range dims {
		mean := stat.Mean(xs, nil)
		model.Mean[i] = mean
		model.Std[i] = math.Sqrt(stat.MomentAbout(2, xs, mean, nil))
	}
	return model, nil
}

// StandardScalerModel is a fitted StandardScaler holding per-dimension
// population moments.
type StandardScalerModel struct {
	uid       string
	InputCol  string
	OutputCol string
	WithMean  bool
	WithStd   bool
	Mean      []float64
	Std       []float64
}

func (m *StandardScalerModel) Kind() Kind  { return KindTransformer }
func (m *StandardScalerModel) UID() string { return m.uid }

func (m *StandardScalerModel) SetParam(name string, value interface{}) error {
	return paramErrorf(m.uid, name, "fitted models are immutable")
}

func (m *StandardScalerModel) Params() []Param {
	return []Param{
		{"inputCol", m.InputCol},
		{"outputCol", m.OutputCol},
		{"withMean", m.WithMean},
		{"withStd", m.WithStd},
	}
}

func (m *StandardScalerModel) OutSchema(in schema.Type) (schema.Type, error) {
	if _, err := column(m.uid, in, m.InputCol, typeOfVector); err != nil {
		return nil, err
	}
	return appended(m.uid, in, m.OutputCol, typeOfVector)
}

// Transform appends the standardized vector column. Constant
// dimensions (zero standard deviation) are centered but not scaled.
func (m *StandardScalerModel) Transform(dataset bigpipe.Dataset) (bigpipe.Dataset, error) {
	if _, err := m.OutSchema(dataset); err != nil {
		return nil, err
	}
	var (
		mean     = m.Mean
		std      = m.Std
		withMean = m.WithMean
		withStd  = m.WithStd
	)
	fn := reflect.MakeFunc(
		reflect.FuncOf([]reflect.Type{typeOfVector}, []reflect.Type{typeOfVector}, false),
		func(args []reflect.Value) []reflect.Value {
			in := args[0].Interface().([]float64)
			if len(in) != len(mean) {
				panic(fmt.Sprintf("standardscaler: row has %d dimensions, fitted on %d", len(in), len(mean)))
			}
			out := make([]float64, len(in))
			for i, v := range in {
				if withMean {
					v -= mean[i]
				}
				if withStd && std[i] != 0 {
					v /= std[i]
				}
				out[i] = v
			}
			return []reflect.Value{reflect.ValueOf(out)}
		},
	)
	return bigpipe.WithColumn(dataset, m.OutputCol, fn.Interface(), m.InputCol), nil
}

type scalerState struct {
	UID       string
	InputCol  string
	OutputCol string
	WithMean  bool
	WithStd   bool
	Mean      []float64
	Std       []float64
}

func (m *StandardScalerModel) stageType() string { return "standardscaler" }

func (m *StandardScalerModel) state() interface{} {
	return &scalerState{
		UID: m.uid, InputCol: m.InputCol, OutputCol: m.OutputCol,
		WithMean: m.WithMean, WithStd: m.WithStd, Mean: m.Mean, Std: m.Std,
	}
}

func init() {
	registerStage("standardscaler", stageCodec{
		new: func() interface{} { return new(scalerState) },
		restore: func(state interface{}) Transformer {
			s := state.(*scalerState)
			return &StandardScalerModel{
				uid: s.UID, InputCol: s.InputCol, OutputCol: s.OutputCol,
				WithMean: s.WithMean, WithStd: s.WithStd, Mean: s.Mean, Std: s.Std,
			}
		},
	})
}
