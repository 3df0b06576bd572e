// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/exec"
	"github.com/grailbio/bigpipe/schema"
)

// StringIndexer is an estimator that maps a string column to integer
// indices ordered by label frequency: the most frequent label
// receives index 0. Ties are broken by lexical order, so indexing is
// deterministic for a fixed input.
type StringIndexer struct {
	uid       string
	inputCol  string
	outputCol string
}

// NewStringIndexer returns a string indexer that reads labels from
// inputCol and appends their indices as outputCol.
func NewStringIndexer(inputCol, outputCol string) *StringIndexer {
	return &StringIndexer{uid: NextUID("strIdx"), inputCol: inputCol, outputCol: outputCol}
}

func (s *StringIndexer) Kind() Kind  { return KindEstimator }
func (s *StringIndexer) UID() string { return s.uid }

func (s *StringIndexer) SetParam(name string, value interface{}) error {
	v, ok := value.(string)
	if !ok {
		return paramErrorf(s.uid, name, "need a string value, got %T", value)
	}
	switch name {
	case "inputCol":
		s.inputCol = v
	case "outputCol":
		s.outputCol = v
	default:
		return paramErrorf(s.uid, name, "unknown parameter")
	}
	return nil
}

func (s *StringIndexer) Params() []Param {
	return []Param{{"inputCol", s.inputCol}, {"outputCol", s.outputCol}}
}

func (s *StringIndexer) OutSchema(in schema.Type) (schema.Type, error) {
	if _, err := column(s.uid, in, s.inputCol, typeOfString); err != nil {
		return nil, err
	}
	return appended(s.uid, in, s.outputCol, typeOfInt64)
}

// Fit scans the input column, counts label frequencies, and returns a
// model holding the ordered label list.
func (s *StringIndexer) Fit(ctx context.Context, sess *exec.Session, dataset bigpipe.Dataset) (Transformer, error) {
	if _, err := s.OutSchema(dataset); err != nil {
		return nil, err
	}
	res, err := sess.Run(ctx, bigpipe.Project(dataset, s.inputCol))
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	scan := res.Scanner()
	var label string
	for scan.Scan(ctx, &label) {
		counts[label]++
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})
	return &StringIndexerModel{
		uid:       s.uid,
		InputCol:  s.inputCol,
		OutputCol: s.outputCol,
		Labels:    labels,
	}, nil
}

// StringIndexerModel is a fitted StringIndexer. Labels holds the
// observed labels in index order.
type StringIndexerModel struct {
	uid       string
	InputCol  string
	OutputCol string
	Labels    []string
}

func (m *StringIndexerModel) Kind() Kind  { return KindTransformer }
func (m *StringIndexerModel) UID() string { return m.uid }

func (m *StringIndexerModel) SetParam(name string, value interface{}) error {
	return paramErrorf(m.uid, name, "fitted models are immutable")
}

func (m *StringIndexerModel) Params() []Param {
	return []Param{{"inputCol", m.InputCol}, {"outputCol", m.OutputCol}}
}

func (m *StringIndexerModel) OutSchema(in schema.Type) (schema.Type, error) {
	if _, err := column(m.uid, in, m.InputCol, typeOfString); err != nil {
		return nil, err
	}
	return appended(m.uid, in, m.OutputCol, typeOfInt64)
}

// Transform appends the index column. Labels not observed during
// fitting fail the computation: the row function panics, which
// surfaces as a fatal stage failure.
func (m *StringIndexerModel) Transform(dataset bigpipe.Dataset) (bigpipe.Dataset, error) {
	if _, err := m.OutSchema(dataset); err != nil {
		return nil, err
	}
	index := make(map[string]int64, len(m.Labels))
	for i, label := range m.Labels {
		index[label] = int64(i)
	}
	inputCol := m.InputCol
	fn := reflect.MakeFunc(
		reflect.FuncOf([]reflect.Type{typeOfString}, []reflect.Type{typeOfInt64}, false),
		func(args []reflect.Value) []reflect.Value {
			label := args[0].String()
			v, ok := index[label]
			if !ok {
				panic(fmt.Sprintf("stringindexer: unseen label %q in column %q", label, inputCol))
			}
			return []reflect.Value{reflect.ValueOf(v)}
		},
	)
	return bigpipe.WithColumn(dataset, m.OutputCol, fn.Interface(), m.InputCol), nil
}

type stringIndexerState struct {
	UID       string
	InputCol  string
	OutputCol string
	Labels    []string
}

func (m *StringIndexerModel) stageType() string { return "stringindexer" }

func (m *StringIndexerModel) state() interface{} {
	return &stringIndexerState{UID: m.uid, InputCol: m.InputCol, OutputCol: m.OutputCol, Labels: m.Labels}
}

func init() {
	registerStage("stringindexer", stageCodec{
		new: func() interface{} { return new(stringIndexerState) },
		restore: func(state interface{}) Transformer {
			s := state.(*stringIndexerState)
			return &StringIndexerModel{uid: s.UID, InputCol: s.InputCol, OutputCol: s.OutputCol, Labels: s.Labels}
		},
	})
}
