// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigpipe/frame"
	"github.com/grailbio/bigpipe/rowio"
)

type fileDataset struct {
	Dataset
	prefix string
}

func (*fileDataset) Op() string    { return "file" }
func (*fileDataset) NumDep() int   { return 0 }
func (*fileDataset) Dep(i int) Dep { panic("no deps") }

type fileReader struct {
	rowio.Reader
	op   *fileDataset
	file file.File
	path string
}

func (f *fileReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if f.file == nil {
		var err error
		f.file, err = file.Open(ctx, f.path)
		if err != nil {
			return 0, err
		}
		f.Reader = rowio.NewDecodingReader(f.op.Dataset, f.file.Reader(context.Background()))
	}
	n, err := f.Reader.Read(ctx, out)
	if err != nil {
		if closeErr := f.file.Close(ctx); closeErr != nil {
			log.Error.Printf("%s: close: %v", f.file.Name(), closeErr)
		}
	}
	return n, err
}

func (f *fileDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	return &fileReader{op: f, path: shardPath(f.prefix, shard, f.NumShard())}
}

type writethroughDataset struct {
	Dataset
	prefix string
}

func (*writethroughDataset) Op() string { return "writethrough" }

type writethroughReader struct {
	rowio.Reader
	path string
	file file.File
	enc  *rowio.Encoder
}

func (r *writethroughReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if r.file == nil {
		var err error
		r.file, err = file.Create(ctx, r.path)
		if err != nil {
			return 0, err
		}
		// Ideally we'd use the underlying context for each op here,
		// but the way encoder is set up, we can't (understandably)
		// pass a new writer for each encode.
		r.enc = rowio.NewEncoder(r.file.Writer(context.Background()))
	}
	n, err := r.Reader.Read(ctx, out)
	if err == nil || err == rowio.EOF {
		if encErr := r.enc.Encode(out.Slice(0, n)); encErr != nil {
			return n, encErr
		}
		if err == rowio.EOF {
			if closeErr := r.file.Close(ctx); closeErr != nil {
				return n, closeErr
			}
		}
	} else {
		r.file.Discard(context.Background())
	}
	return n, err
}

func (w *writethroughDataset) Reader(shard int, deps []rowio.Reader) rowio.Reader {
	return &writethroughReader{
		Reader: w.Dataset.Reader(shard, deps),
		path:   shardPath(w.prefix, shard, w.NumShard()),
	}
}

// Checkpoint persists the dataset's partitions to the given file
// prefix, truncating the dataset's upstream lineage once the
// persisted copy exists. Partition contents are stored as
// "prefix-nnnn-of-mmmm" for partitions nnnn of mmmm. On the first
// evaluation each partition is encoded and written through to its
// file as it is computed. If all partition files exist, Checkpoint
// instead returns a dataset that reads directly from the persisted
// copy: its recovery source is the files, not the upstream graph,
// so failures can no longer trigger recomputation from before the
// checkpoint. The user must guarantee checkpoint consistency: if
// the persisted data could be invalid (e.g., because of code
// changes), the user is responsible for removing existing files or
// picking a different prefix.
//
// Checkpoint uses GRAIL's file library, so prefix may refer to URLs
// of a distributed object store such as S3.
func Checkpoint(ctx context.Context, dataset Dataset, prefix string) (Dataset, error) {
	m := dataset.NumShard()
	_, err := file.Stat(ctx, shardPath(prefix, 0, m))
	if err == nil {
		// Make sure the remaining partitions are also there.
		err = traverse.Each(m-1, func(i int) error {
			_, err := file.Stat(ctx, shardPath(prefix, i+1, m))
			return err
		})
	}
	if err == nil {
		return &fileDataset{Dataset: dataset, prefix: prefix}, nil
	}
	if !errors.Is(errors.NotExist, err) {
		return nil, err
	}
	return &writethroughDataset{Dataset: dataset, prefix: prefix}, nil
}

func shardPath(prefix string, n, m int) string {
	return fmt.Sprintf("%s-%04d-of-%04d", prefix, n, m)
}
