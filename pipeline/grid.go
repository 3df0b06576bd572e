// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

// A Setting is a single (stage, parameter, value) assignment from a
// parameter grid.
type Setting struct {
	Stage Stage
	Param string
	Value interface{}
}

// Apply applies the setting to its stage.
func (s Setting) Apply() error {
	return s.Stage.SetParam(s.Param, s.Value)
}

// A Grid enumerates hyperparameter combinations for tuning. Each
// entry binds a (stage, parameter) pair to a list of candidate
// values; combinations are the cross product of all entries.
// Enumeration order is deterministic: it depends only on the order in
// which entries were added, never on map iteration.
type Grid struct {
	stages []Stage
	params []string
	values [][]interface{}
}

// NewGrid returns an empty parameter grid.
func NewGrid() *Grid {
	return new(Grid)
}

// Add adds candidate values for a parameter of the provided stage,
// returning the grid for chaining. Adding the same (stage, parameter)
// pair again replaces its candidates.
func (g *Grid) Add(stage Stage, param string, values ...interface{}) *Grid {
	for i := range g.stages {
		if g.stages[i] == stage && g.params[i] == param {
			g.values[i] = values
			return g
		}
	}
	g.stages = append(g.stages, stage)
	g.params = append(g.params, param)
	g.values = append(g.values, values)
	return g
}

// Size returns the number of combinations the grid enumerates.
func (g *Grid) Size() int {
	if len(g.values) == 0 {
		return 0
	}
	size := 1
	for _, vs := range g.values {
		size *= len(vs)
	}
	return size
}

// Combinations enumerates all combinations in deterministic order:
// row-major over the entries in the order they were added, with the
// last-added entry varying fastest.
func (g *Grid) Combinations() [][]Setting {
	total := g.Size()
	if total == 0 {
		return nil
	}
	combos := make([][]Setting, 0, total)
	idx := make([]int, len(g.values))
	for n := 0; n < total; n++ {
		combo := make([]Setting, len(g.values))
		for i := range g.values {
			combo[i] = Setting{Stage: g.stages[i], Param: g.params[i], Value: g.values[i][idx[i]]}
		}
		combos = append(combos, combo)
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(g.values[i]) {
				break
			}
			idx[i] = 0
		}
	}
	return combos
}
