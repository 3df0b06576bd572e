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
)

// OneHotEncoder is an estimator that expands an integer index column
// (typically produced by a StringIndexer) into a one-hot vector
// column. The vector width is the number of distinct indices observed
// during fitting.
type OneHotEncoder struct {
	uid       string
	inputCol  string
	outputCol string
}

// NewOneHotEncoder returns a one-hot encoder that reads indices from
// inputCol and appends the encoded vectors as outputCol.
func NewOneHotEncoder(inputCol, outputCol string) *OneHotEncoder {
	return &OneHotEncoder{uid: NextUID("oneHot"), inputCol: inputCol, outputCol: outputCol}
}

func (e *OneHotEncoder) Kind() Kind  { return KindEstimator }
func (e *OneHotEncoder) UID() string { return e.uid }

func (e *OneHotEncoder) SetParam(name string, value interface{}) error {
	v, ok := value.(string)
	if !ok {
		return paramErrorf(e.uid, name, "need a string value, got %T", value)
	}
	switch name {
	case "inputCol":
		e.inputCol = v
	case "outputCol":
		e.outputCol = v
	default:
		return paramErrorf(e.uid, name, "unknown parameter")
	}
	return nil
}

func (e *OneHotEncoder) Params() []Param {
	return []Param{{"inputCol", e.inputCol}, {"outputCol", e.outputCol}}
}

func (e *OneHotEncoder) OutSchema(in schema.Type) (schema.Type, error) {
	if _, err := column(e.uid, in, e.inputCol, typeOfInt64); err != nil {
		return nil, err
	}
	return appended(e.uid, in, e.outputCol, typeOfVector)
}

// Fit scans the index column to determine the vector width.
func (e *OneHotEncoder) Fit(ctx context.Context, sess *exec.Session, dataset bigpipe.Dataset) (Transformer, error) {
	if _, err := e.OutSchema(dataset); err != nil {
		return nil, err
	}
	res, err := sess.Run(ctx, bigpipe.Project(dataset, e.inputCol))
	if err != nil {
		return nil, err
	}
	var (
		scan = res.Scanner()
		v    int64
		max  int64 = -1
		any  bool
	)
	for scan.Scan(ctx, &v) {
		any = true
		if v < 0 {
			return nil, schemaErrorf(e.uid, e.inputCol, "negative index %d", v)
		}
		if v > max {
			max = v
		}
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if !any {
		return nil, schemaErrorf(e.uid, e.inputCol, "cannot fit on an empty dataset")
	}
	return &OneHotModel{
		uid:       e.uid,
		InputCol:  e.inputCol,
		OutputCol: e.outputCol,
		Size:      int(max) + 1,
	}, nil
}

// OneHotModel is a fitted OneHotEncoder. Size is the encoded vector
// width.
type OneHotModel struct {
	uid       string
	InputCol  string
	OutputCol string
	Size      int
}

func (m *OneHotModel) Kind() Kind  { return KindTransformer }
func (m *OneHotModel) UID() string { return m.uid }

func (m *OneHotModel) SetParam(name string, value interface{}) error {
	return paramErrorf(m.uid, name, "fitted models are immutable")
}

func (m *OneHotModel) Params() []Param {
	return []Param{{"inputCol", m.InputCol}, {"outputCol", m.OutputCol}}
}

func (m *OneHotModel) OutSchema(in schema.Type) (schema.Type, error) {
	if _, err := column(m.uid, in, m.InputCol, typeOfInt64); err != nil {
		return nil, err
	}
	return appended(m.uid, in, m.OutputCol, typeOfVector)
}

// Transform appends the one-hot vector column. Indices outside the
// fitted range fail the computation.
func (m *OneHotModel) Transform(dataset bigpipe.Dataset) (bigpipe.Dataset, error) {
	if _, err := m.OutSchema(dataset); err != nil {
		return nil, err
	}
	size := m.Size
	fn := reflect.MakeFunc(
		reflect.FuncOf([]reflect.Type{typeOfInt64}, []reflect.Type{typeOfVector}, false),
		func(args []reflect.Value) []reflect.Value {
			i := args[0].Int()
			if i < 0 || i >= int64(size) {
				panic(fmt.Sprintf("onehot: index %d outside fitted range [0, %d)", i, size))
			}
			vec := make([]float64, size)
			vec[i] = 1
			return []reflect.Value{reflect.ValueOf(vec)}
		},
	)
	return bigpipe.WithColumn(dataset, m.OutputCol, fn.Interface(), m.InputCol), nil
}

type oneHotState struct {
	UID       string
	InputCol  string
	OutputCol string
	Size      int
}

func (m *OneHotModel) stageType() string { return "onehot" }

func (m *OneHotModel) state() interface{} {
	return &oneHotState{UID: m.uid, InputCol: m.InputCol, OutputCol: m.OutputCol, Size: m.Size}
}

func init() {
	registerStage("onehot", stageCodec{
		new: func() interface{} { return new(oneHotState) },
		restore: func(state interface{}) Transformer {
			s := state.(*oneHotState)
			return &OneHotModel{uid: s.UID, InputCol: s.InputCol, OutputCol: s.OutputCol, Size: s.Size}
		},
	})
}
