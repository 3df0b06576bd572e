// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"fmt"
	"reflect"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/exec"
	"github.com/grailbio/bigpipe/schema"
	"gonum.org/v1/gonum/mat"
)

// LinearRegression is an estimator that fits an ordinary
// least-squares model predicting a float64 label column from a
// []float64 feature column.
type LinearRegression struct {
	uid           string
	featuresCol   string
	labelCol      string
	predictionCol string
	fitIntercept  bool
}

// NewLinearRegression returns a linear regression reading features
// from featuresCol and labels from labelCol, appending predictions as
// predictionCol. An intercept term is fit by default.
func NewLinearRegression(featuresCol, labelCol, predictionCol string) *LinearRegression {
	return &LinearRegression{
		uid:           NextUID("linReg"),
		featuresCol:   featuresCol,
		labelCol:      labelCol,
		predictionCol: predictionCol,
		fitIntercept:  true,
	}
}

func (l *LinearRegression) Kind() Kind  { return KindEstimator }
func (l *LinearRegression) UID() string { return l.uid }

func (l *LinearRegression) SetParam(name string, value interface{}) error {
	switch name {
	case "featuresCol", "labelCol", "predictionCol":
		v, ok := value.(string)
		if !ok {
			return paramErrorf(l.uid, name, "need a string value, got %T", value)
		}
		switch name {
		case "featuresCol":
			l.featuresCol = v
		case "labelCol":
			l.labelCol = v
		case "predictionCol":
			l.predictionCol = v
		}
	case "fitIntercept":
		v, ok := value.(bool)
		if !ok {
			return paramErrorf(l.uid, name, "need a bool value, got %T", value)
		}
		l.fitIntercept = v
	default:
		return paramErrorf(l.uid, name, "unknown parameter")
	}
	return nil
}

func (l *LinearRegression) Params() []Param {
	return []Param{
		{"featuresCol", l.featuresCol},
		{"labelCol", l.labelCol},
		{"predictionCol", l.predictionCol},
		{"fitIntercept", l.fitIntercept},
	}
}

func (l *LinearRegression) OutSchema(in schema.Type) (schema.Type, error) {
	if _, err := column(l.uid, in, l.featuresCol, typeOfVector); err != nil {
		return nil, err
	}
	if _, err := column(l.uid, in, l.labelCol, typeOfFloat64); err != nil {
		return nil, err
	}
	return appended(l.uid, in, l.predictionCol, typeOfFloat64)
}

// Fit collects the feature and label columns and solves the
// least-squares problem.
func (l *LinearRegression) Fit(ctx context.Context, sess *exec.Session, dataset bigpipe.Dataset) (Transformer, error) {
	if _, err := l.OutSchema(dataset); err != nil {
		return nil, err
	}
	res, err := sess.Run(ctx, bigpipe.Project(dataset, l.featuresCol, l.labelCol))
	if err != nil {
		return nil, err
	}
	var (
		scan     = res.Scanner()
		vec      []float64
		label    float64
		features [][]float64
		labels   []float64
	)
	for scan.Scan(ctx, &vec, &label) {
		if len(features) > 0 && len(vec) != len(features[0]) {
			return nil, schemaErrorf(l.uid, l.featuresCol, "ragged vectors: row has %d dimensions, expected %d", len(vec), len(features[0]))
		}
		v := make([]float64, len(vec))
		copy(v, vec)
		features = append(features, v)
		labels = append(labels, label)
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, schemaErrorf(l.uid, l.featuresCol, "cannot fit on an empty dataset")
	}
	var (
		nrow = len(features)
		ndim = len(features[0])
		ncol = ndim
	)
	if l.fitIntercept {
		ncol++
	}
	if nrow < ncol {
		return nil, schemaErrorf(l.uid, l.featuresCol, "underdetermined system: %d rows for %d coefficients", nrow, ncol)
	}
	x := mat.NewDense(nrow, ncol, nil)
	y := mat.NewDense(nrow, 1, nil)
	for i, row := range features {
		for j, v := range row {
			x.Set(i, j, v)
		}
		if l.fitIntercept {
			x.Set(i, ndim, 1)
		}
		y.Set(i, 0, labels[i])
	}
	var coef mat.Dense
	if err := coef.Solve(x, y); err != nil {
		return nil, fmt.Errorf("linearregression %s: %v", l.uid, err)
	}
	model := &LinearRegressionModel{
		uid:           l.uid,
		FeaturesCol:   l.featuresCol,
		PredictionCol: l.predictionCol,
		Weights:       make([]float64, ndim),
	}
	for j := range model.Weights {
		model.Weights[j] = coef.At(j, 0)
	}
	if l.fitIntercept {
		model.Intercept = coef.At(ndim, 0)
	}
	return model, nil
}

// LinearRegressionModel is a fitted LinearRegression.
type LinearRegressionModel struct {
	uid           string
	FeaturesCol   string
	PredictionCol string
	Weights       []float64
	Intercept     float64
}

func (m *LinearRegressionModel) Kind() Kind  { return KindTransformer }
func (m *LinearRegressionModel) UID() string { return m.uid }

func (m *LinearRegressionModel) SetParam(name string, value interface{}) error {
	return paramErrorf(m.uid, name, "fitted models are immutable")
}

func (m *LinearRegressionModel) Params() []Param {
	return []Param{{"featuresCol", m.FeaturesCol}, {"predictionCol", m.PredictionCol}}
}

func (m *LinearRegressionModel) OutSchema(in schema.Type) (schema.Type, error) {
	if _, err := column(m.uid, in, m.FeaturesCol, typeOfVector); err != nil {
		return nil, err
	}
	return appended(m.uid, in, m.PredictionCol, typeOfFloat64)
}

// Transform appends the prediction column.
func (m *LinearRegressionModel) Transform(dataset bigpipe.Dataset) (bigpipe.Dataset, error) {
	if _, err := m.OutSchema(dataset); err != nil {
		return nil, err
	}
	var (
		weights   = m.Weights
		intercept = m.Intercept
	)
	fn := reflect.MakeFunc(
		reflect.FuncOf([]reflect.Type{typeOfVector}, []reflect.Type{typeOfFloat64}, false),
		func(args []reflect.Value) []reflect.Value {
			in := args[0].Interface().([]float64)
			if len(in) != len(weights) {
				panic(fmt.Sprintf("linearregression: row has %d dimensions, fitted on %d", len(in), len(weights)))
			}
			pred := intercept
			for i, v := range in {
				pred += weights[i] * v
			}
			return []reflect.Value{reflect.ValueOf(pred)}
		},
	)
	return bigpipe.WithColumn(dataset, m.PredictionCol, fn.Interface(), m.FeaturesCol), nil
}

type linRegState struct {
	UID           string
	FeaturesCol   string
	PredictionCol string
	Weights       []float64
	Intercept     float64
}

func (m *LinearRegressionModel) stageType() string { return "linearregression" }

func (m *LinearRegressionModel) state() interface{} {
	return &linRegState{
		UID: m.uid, FeaturesCol: m.FeaturesCol, PredictionCol: m.PredictionCol,
		Weights: m.Weights, Intercept: m.Intercept,
	}
}

func init() {
	registerStage("linearregression", stageCodec{
		new: func() interface{} { return new(linRegState) },
		restore: func(state interface{}) Transformer {
			s := state.(*linRegState)
			return &LinearRegressionModel{
				uid: s.UID, FeaturesCol: s.FeaturesCol, PredictionCol: s.PredictionCol,
				Weights: s.Weights, Intercept: s.Intercept,
			}
		},
	})
}
