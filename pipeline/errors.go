// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import "fmt"

// SchemaError describes a dataset schema that does not satisfy a
// stage's input requirements: a missing input column, a column of the
// wrong type, or an output column that already exists. Schema errors
// are detected before any computation runs.
type SchemaError struct {
	// Stage is the UID of the stage whose requirements are violated.
	Stage string
	// Column is the offending column, if any.
	Column string
	// Message describes the violation.
	Message string
}

func (e *SchemaError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("pipeline: stage %s: column %q: %s", e.Stage, e.Column, e.Message)
	}
	return fmt.Sprintf("pipeline: stage %s: %s", e.Stage, e.Message)
}

func schemaErrorf(stage, column, format string, v ...interface{}) error {
	return &SchemaError{Stage: stage, Column: column, Message: fmt.Sprintf(format, v...)}
}

// ParameterError describes a hyperparameter setting that a stage does
// not accept: an unknown parameter name, a value of the wrong type,
// or a value outside the parameter's domain.
type ParameterError struct {
	// Stage is the UID of the stage that rejected the setting.
	Stage string
	// Param is the parameter name.
	Param string
	// Message describes the rejection.
	Message string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("pipeline: stage %s: parameter %q: %s", e.Stage, e.Param, e.Message)
}

func paramErrorf(stage, param, format string, v ...interface{}) error {
	return &ParameterError{Stage: stage, Param: param, Message: fmt.Sprintf(format, v...)}
}

// PersistenceError describes a failure to save or load a fitted
// pipeline model: an unreadable layout, an unknown stage type, or a
// version mismatch.
type PersistenceError struct {
	// Path is the model path.
	Path string
	// Message describes the failure.
	Message string
	// Err is the underlying error, if any.
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline: model %s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("pipeline: model %s: %s", e.Path, e.Message)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErrorf(path string, err error, format string, v ...interface{}) error {
	return &PersistenceError{Path: path, Message: fmt.Sprintf(format, v...), Err: err}
}
