// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/exec"
	"github.com/grailbio/bigpipe/frame"
	"github.com/grailbio/bigpipe/rowio"
	"github.com/grailbio/bigpipe/schema"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// An Evaluator scores a transformed dataset. Scores are oriented so
// that greater is better; error-style metrics are negated.
type Evaluator interface {
	Evaluate(ctx context.Context, sess *exec.Session, dataset bigpipe.Dataset) (float64, error)
}

// Regression metrics for RegressionEvaluator.
const (
	// MetricNegRMSE is the negated root mean squared error.
	MetricNegRMSE = "neg_rmse"
	// MetricNegMSE is the negated mean squared error.
	MetricNegMSE = "neg_mse"
	// MetricR2 is the coefficient of determination.
	MetricR2 = "r2"
)

// RegressionEvaluator scores predictions of a float64 label column.
// The zero Metric is MetricNegRMSE.
type RegressionEvaluator struct {
	LabelCol      string
	PredictionCol string
	Metric        string
}

// Evaluate computes the evaluator's metric over the dataset's label
// and prediction columns.
func (e *RegressionEvaluator) Evaluate(ctx context.Context, sess *exec.Session, dataset bigpipe.Dataset) (float64, error) {
	res, err := sess.Run(ctx, bigpipe.Project(dataset, e.LabelCol, e.PredictionCol))
	if err != nil {
		return 0, err
	}
	var (
		scan          = res.Scanner()
		label, pred   float64
		labels, preds []float64
	)
	for scan.Scan(ctx, &label, &pred) {
		labels = append(labels, label)
		preds = append(preds, pred)
	}
	if err := scan.Err(); err != nil {
		return 0, err
	}
	if len(labels) == 0 {
		return 0, fmt.Errorf("evaluate: empty dataset")
	}
	var sqerr float64
	for i := range labels {
		d := labels[i] - preds[i]
		sqerr += d * d
	}
	mse := sqerr / float64(len(labels))
	switch e.Metric {
	case MetricNegRMSE, "":
		return -math.Sqrt(mse), nil
	case MetricNegMSE:
		return -mse, nil
	case MetricR2:
		mean := stat.Mean(labels, nil)
		var tot float64
		for _, l := range labels {
			d := l - mean
			tot += d * d
		}
		if tot == 0 {
			return 0, fmt.Errorf("evaluate: constant labels, r2 undefined")
		}
		return 1 - sqerr/tot, nil
	}
	return 0, fmt.Errorf("evaluate: unknown metric %q", e.Metric)
}

// A Metric reports the cross-validation outcome for one parameter
// combination.
type Metric struct {
	// Combination is the parameter combination, in grid enumeration
	// order.
	Combination []Setting
	// Scores holds the per-fold scores, indexed by fold.
	Scores []float64
	// Score is the aggregated score.
	Score float64
}

// CrossValidator tunes an estimator over a parameter grid using
// k-fold cross validation. Rows are assigned to folds by a stable
// hash of their contents, so fold assignment is deterministic for a
// fixed dataset. Folds of a combination are fit concurrently; fitted
// state is never shared between folds.
type CrossValidator struct {
	// Estimator is the estimator to tune, typically a *Pipeline.
	Estimator Estimator
	// Grid enumerates the parameter combinations to evaluate.
	Grid *Grid
	// Evaluator scores each fitted model on its held-out fold.
	Evaluator Evaluator
	// NumFolds is the number of folds, k. It defaults to 3.
	NumFolds int
	// Aggregate reduces per-fold scores to a single score per
	// combination. It defaults to the mean.
	Aggregate func([]float64) float64
}

// CrossValidatorModel is the outcome of cross validation: the model
// refit on the full dataset with the best parameter combination,
// along with per-combination metrics in grid enumeration order.
type CrossValidatorModel struct {
	// Best is the winning model, refit on the full dataset.
	Best Transformer
	// BestIndex is the winning combination's index into Metrics. Ties
	// resolve to the first enumerated combination.
	BestIndex int
	// Metrics holds one entry per combination, in enumeration order.
	Metrics []Metric
}

// Transform applies the best model.
func (m *CrossValidatorModel) Transform(dataset bigpipe.Dataset) (bigpipe.Dataset, error) {
	return m.Best.Transform(dataset)
}

// Fit evaluates every grid combination with k-fold cross validation
// and refits the best one on the full dataset. Combinations are
// evaluated sequentially so that parameter settings never race; the
// folds within a combination are fit concurrently.
func (cv *CrossValidator) Fit(ctx context.Context, sess *exec.Session, dataset bigpipe.Dataset) (*CrossValidatorModel, error) {
	if cv.Estimator == nil {
		return nil, fmt.Errorf("crossvalidator: no estimator")
	}
	if cv.Evaluator == nil {
		return nil, fmt.Errorf("crossvalidator: no evaluator")
	}
	k := cv.NumFolds
	if k == 0 {
		k = 3
	}
	if k < 2 {
		return nil, fmt.Errorf("crossvalidator: need at least 2 folds, got %d", k)
	}
	agg := cv.Aggregate
	if agg == nil {
		agg = func(scores []float64) float64 { return stat.Mean(scores, nil) }
	}
	var combos [][]Setting
	if cv.Grid != nil {
		combos = cv.Grid.Combinations()
	}
	if len(combos) == 0 {
		// An empty grid evaluates the estimator as configured.
		combos = [][]Setting{nil}
	}
	var (
		metrics = make([]Metric, len(combos))
		best    = -1
	)
	for ci, combo := range combos {
		for _, setting := range combo {
			if err := setting.Apply(); err != nil {
				return nil, err
			}
		}
		scores := make([]float64, k)
		g, gctx := errgroup.WithContext(ctx)
		for fold := 0; fold < k; fold++ {
			fold := fold
			g.Go(func() error {
				var (
					train = newFold(dataset, k, fold, false)
					test  = newFold(dataset, k, fold, true)
				)
				model, err := cv.Estimator.Fit(gctx, sess, train)
				if err != nil {
					return err
				}
				out, err := model.Transform(test)
				if err != nil {
					return err
				}
				score, err := cv.Evaluator.Evaluate(gctx, sess, out)
				if err != nil {
					return err
				}
				scores[fold] = score
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		metrics[ci] = Metric{Combination: combo, Scores: scores, Score: agg(scores)}
		// Strictly greater, so ties resolve to the first enumerated
		// combination.
		if best < 0 || metrics[ci].Score > metrics[best].Score {
			best = ci
		}
	}
	for _, setting := range combos[best] {
		if err := setting.Apply(); err != nil {
			return nil, err
		}
	}
	fitted, err := cv.Estimator.Fit(ctx, sess, dataset)
	if err != nil {
		return nil, err
	}
	return &CrossValidatorModel{Best: fitted, BestIndex: best, Metrics: metrics}, nil
}

// A foldDataset is a narrow transformation that keeps the rows of one
// cross-validation fold (test) or its complement (train). Rows are
// assigned to folds by their stable hash, so the split depends only
// on row contents.
type foldDataset struct {
	bigpipe.Dataset
	nfold, fold int
	test        bool
}

func newFold(dataset bigpipe.Dataset, nfold, fold int, test bool) bigpipe.Dataset {
	return &foldDataset{Dataset: dataset, nfold: nfold, fold: fold, test: test}
}

func (f *foldDataset) Op() string {
	if f.test {
		return fmt.Sprintf("fold(%d/%d)", f.fold, f.nfold)
	}
	return fmt.Sprintf("cofold(%d/%d)", f.fold, f.nfold)
}

func (f *foldDataset) NumDep() int { return 1 }

func (f *foldDataset) Dep(i int) bigpipe.Dep {
	if i != 0 {
		panic(fmt.Sprintf("invalid dependency %d", i))
	}
	return bigpipe.Dep{Dataset: f.Dataset}
}

func (f *foldDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	return &foldReader{op: f, reader: deps[0]}
}

type foldReader struct {
	op     *foldDataset
	reader rowio.Reader
	in     frame.Frame
	err    error
}

func (f *foldReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if !schema.Assignable(f.op, out) {
		return 0, fmt.Errorf("type error")
	}
	var (
		m   int
		max = out.Len()
	)
	for m < max && f.err == nil {
		if !f.in.IsValid() {
			f.in = frame.Make(f.op, max-m, max-m)
		} else {
			f.in = f.in.Ensure(max - m)
		}
		var n int
		n, f.err = f.reader.Read(ctx, f.in)
		for i := 0; i < n; i++ {
			hit := f.in.Hash(i)%uint32(f.op.nfold) == uint32(f.op.fold)
			if hit == f.op.test {
				frame.Copy(out.Slice(m, m+1), f.in.Slice(i, i+1))
				m++
			}
		}
	}
	return m, f.err
}
