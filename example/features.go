// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package example

import (
	"github.com/grailbio/bigpipe/pipeline"
)

// FeaturePipeline returns a pipeline that turns a dataset with a
// string column "sex" and float64 columns "height" and "weight" into
// standardized model features. We will use this small pipeline to
// illustrate testing facilities. See features_test.go.
func FeaturePipeline() *pipeline.Pipeline {
	return pipeline.New(
		pipeline.NewStringIndexer("sex", "sexIndex"),
		pipeline.NewOneHotEncoder("sexIndex", "sexVec"),
		pipeline.NewVectorAssembler("features", "sexVec", "height", "weight"),
		pipeline.NewStandardScaler("features", "scaled"),
	)
}
