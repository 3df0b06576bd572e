// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigpipe implements a data-parallel processing system for
	machine learning pipelines. Users compose computations by operating
	over partitioned, schema-typed collections ("datasets"),
	transforming them with a handful of combinators. Datasets are lazy:
	constructing one records lineage, the sequence of operations by
	which it is computed, and no data moves until a session (see
	package exec) evaluates it.

	Datasets are compiled into graphs of tasks. Chains of narrow
	operations (Map, Filter, WithColumn, Project) are pipelined into
	single tasks; operations that redistribute rows (Reshuffle,
	Repartition, Sort) introduce shuffle boundaries, at which every
	upstream partition must be computed before any downstream partition
	runs. Task outputs at boundaries are retained while dependent tasks
	need them, so a failed or lost partition is recovered by re-running
	only its own lineage.

	Package pipeline builds on these combinators to provide
	estimator/transformer pipelines, hyperparameter tuning by cross
	validation, and model persistence.
*/
package bigpipe
