// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"reflect"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/schema"
)

// VectorAssembler is a transformer that concatenates a set of numeric
// columns into a single vector column. Input columns may be float64,
// int64, or []float64; vector inputs are flattened in place. The
// output vector lays out the inputs in column order.
type VectorAssembler struct {
	uid       string
	inputCols []string
	outputCol string
}

// NewVectorAssembler returns an assembler that concatenates
// inputCols, in order, into outputCol.
func NewVectorAssembler(outputCol string, inputCols ...string) *VectorAssembler {
	return &VectorAssembler{uid: NextUID("vecAsm"), inputCols: inputCols, outputCol: outputCol}
}

func (a *VectorAssembler) Kind() Kind  { return KindTransformer }
func (a *VectorAssembler) UID() string { return a.uid }

func (a *VectorAssembler) SetParam(name string, value interface{}) error {
	switch name {
	case "outputCol":
		v, ok := value.(string)
		if !ok {
			return paramErrorf(a.uid, name, "need a string value, got %T", value)
		}
		a.outputCol = v
	case "inputCols":
		v, ok := value.([]string)
		if !ok {
			return paramErrorf(a.uid, name, "need a []string value, got %T", value)
		}
		a.inputCols = v
	default:
		return paramErrorf(a.uid, name, "unknown parameter")
	}
	return nil
}

func (a *VectorAssembler) Params() []Param {
	return []Param{{"inputCols", a.inputCols}, {"outputCol", a.outputCol}}
}

func (a *VectorAssembler) OutSchema(in schema.Type) (schema.Type, error) {
	if len(a.inputCols) == 0 {
		return nil, schemaErrorf(a.uid, "", "no input columns")
	}
	for _, col := range a.inputCols {
		typ, err := column(a.uid, in, col, nil)
		if err != nil {
			return nil, err
		}
		switch typ {
		case typeOfFloat64, typeOfInt64, typeOfVector:
		default:
			return nil, schemaErrorf(a.uid, col, "column has type %s; need float64, int64, or []float64", typ)
		}
	}
	return appended(a.uid, in, a.outputCol, typeOfVector)
}

// Transform appends the assembled vector column.
func (a *VectorAssembler) Transform(dataset bigpipe.Dataset) (bigpipe.Dataset, error) {
	if _, err := a.OutSchema(dataset); err != nil {
		return nil, err
	}
	args := make([]reflect.Type, len(a.inputCols))
	for i, col := range a.inputCols {
		args[i] = dataset.Out(schema.Index(dataset, col))
	}
	fn := reflect.MakeFunc(
		reflect.FuncOf(args, []reflect.Type{typeOfVector}, false),
		func(in []reflect.Value) []reflect.Value {
			var vec []float64
			for _, v := range in {
				switch v.Kind() {
				case reflect.Float64:
					vec = append(vec, v.Float())
				case reflect.Int64:
					vec = append(vec, float64(v.Int()))
				case reflect.Slice:
					vec = append(vec, v.Interface().([]float64)...)
				}
			}
			return []reflect.Value{reflect.ValueOf(vec)}
		},
	)
	return bigpipe.WithColumn(dataset, a.outputCol, fn.Interface(), a.inputCols...), nil
}

type assemblerState struct {
	UID       string
	InputCols []string
	OutputCol string
}

func (a *VectorAssembler) stageType() string { return "assembler" }

func (a *VectorAssembler) state() interface{} {
	return &assemblerState{UID: a.uid, InputCols: a.inputCols, OutputCol: a.outputCol}
}

func init() {
	registerStage("assembler", stageCodec{
		new: func() interface{} { return new(assemblerState) },
		restore: func(state interface{}) Transformer {
			s := state.(*assemblerState)
			return &VectorAssembler{uid: s.UID, inputCols: s.InputCols, outputCol: s.OutputCol}
		},
	})
}
