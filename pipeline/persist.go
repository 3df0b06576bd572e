// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/grailbio/base/file"
)

// modelVersion tags the persisted model layout. Load rejects models
// written with a different version.
const modelVersion = 1

// indexFile is the name of the model's index record.
const indexFile = "model.json"

type modelIndex struct {
	Version int
	UID     string
	Stages  []stageEntry
}

type stageEntry struct {
	// ID is the stage's record identifier. It carries the stage's
	// position as a prefix ("0002-standardscaler-stdScal_003") so that
	// stage order never depends on listing order.
	ID   string
	Type string
}

// A stageCodec restores one persisted stage type.
type stageCodec struct {
	// new returns a zero state record for gob decoding.
	new func() interface{}
	// restore rebuilds the transformer from a decoded state record.
	restore func(state interface{}) Transformer
}

var stageCodecs = make(map[string]stageCodec)

func registerStage(typ string, codec stageCodec) {
	if _, ok := stageCodecs[typ]; ok {
		panic(fmt.Sprintf("pipeline: stage type %q registered twice", typ))
	}
	stageCodecs[typ] = codec
}

// persistable is implemented by transformers that can be saved.
type persistable interface {
	Transformer
	stageType() string
	state() interface{}
}

// Save persists a fitted pipeline model under the provided path
// prefix: an index record plus one gob-encoded state record per
// stage. Save uses GRAIL's file library, so path may refer to URLs of
// a distributed object store such as S3. Only fitted stage state is
// persisted; auxiliary annotations a caller attaches to datasets are
// not, and are lost across a save/load round trip.
func Save(ctx context.Context, model *PipelineModel, path string) error {
	index := modelIndex{Version: modelVersion, UID: model.uid}
	for i, stage := range model.stages {
		p, ok := stage.(persistable)
		if !ok {
			return persistErrorf(path, nil, "stage %s (%T) cannot be persisted", stage.UID(), stage)
		}
		id := fmt.Sprintf("%04d-%s-%s", i, p.stageType(), stage.UID())
		if err := writeStage(ctx, path, id, p.state()); err != nil {
			return err
		}
		index.Stages = append(index.Stages, stageEntry{ID: id, Type: p.stageType()})
	}
	f, err := file.Create(ctx, file.Join(path, indexFile))
	if err != nil {
		return persistErrorf(path, err, "create index")
	}
	if err := json.NewEncoder(f.Writer(ctx)).Encode(index); err != nil {
		f.Discard(ctx)
		return persistErrorf(path, err, "encode index")
	}
	if err := f.Close(ctx); err != nil {
		return persistErrorf(path, err, "write index")
	}
	return nil
}

func writeStage(ctx context.Context, path, id string, state interface{}) error {
	f, err := file.Create(ctx, file.Join(path, id+".bin"))
	if err != nil {
		return persistErrorf(path, err, "create stage %s", id)
	}
	if err := gob.NewEncoder(f.Writer(ctx)).Encode(state); err != nil {
		f.Discard(ctx)
		return persistErrorf(path, err, "encode stage %s", id)
	}
	if err := f.Close(ctx); err != nil {
		return persistErrorf(path, err, "write stage %s", id)
	}
	return nil
}

// Load restores a pipeline model persisted by Save. Models written
// with a different layout version, containing unknown stage types, or
// with malformed records are PersistenceErrors.
func Load(ctx context.Context, path string) (*PipelineModel, error) {
	f, err := file.Open(ctx, file.Join(path, indexFile))
	if err != nil {
		return nil, persistErrorf(path, err, "open index")
	}
	var index modelIndex
	err = json.NewDecoder(f.Reader(ctx)).Decode(&index)
	if closeErr := f.Close(ctx); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, persistErrorf(path, err, "decode index")
	}
	if index.Version != modelVersion {
		return nil, persistErrorf(path, nil, "layout version %d, need %d", index.Version, modelVersion)
	}
	// The position prefix makes ID order the stage order.
	sort.Slice(index.Stages, func(i, j int) bool {
		return index.Stages[i].ID < index.Stages[j].ID
	})
	model := &PipelineModel{uid: index.UID, stages: make([]Transformer, len(index.Stages))}
	for i, entry := range index.Stages {
		codec, ok := stageCodecs[entry.Type]
		if !ok {
			return nil, persistErrorf(path, nil, "unknown stage type %q", entry.Type)
		}
		state := codec.new()
		if err := readStage(ctx, path, entry.ID, state); err != nil {
			return nil, err
		}
		model.stages[i] = codec.restore(state)
	}
	return model, nil
}

func readStage(ctx context.Context, path, id string, state interface{}) error {
	f, err := file.Open(ctx, file.Join(path, id+".bin"))
	if err != nil {
		return persistErrorf(path, err, "open stage %s", id)
	}
	err = gob.NewDecoder(f.Reader(ctx)).Decode(state)
	if closeErr := f.Close(ctx); err == nil {
		err = closeErr
	}
	if err != nil {
		return persistErrorf(path, err, "decode stage %s", id)
	}
	return nil
}
