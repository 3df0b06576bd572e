// Copyright 2025 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rowio

import (
	"context"
	"encoding/gob"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"reflect"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigpipe/frame"
	"github.com/grailbio/bigpipe/schema"
)

// An Encoder manages transmission of frames through an underlying
// io.Writer. Frames are written as batches of rows stored in
// column-major order, each batch followed by a crc32 checksum of its
// encoding. Streams can be read back by a DecodingReader with the
// same schema.
type Encoder struct {
	enc *gob.Encoder
	crc hash.Hash32
}

// NewEncoder returns a new Encoder that streams frames into the
// provided writer.
func NewEncoder(w io.Writer) *Encoder {
	crc := crc32.NewIEEE()
	return &Encoder{
		enc: gob.NewEncoder(io.MultiWriter(w, crc)),
		crc: crc,
	}
}

// Encode encodes a batch of rows and writes the encoded output into
// the encoder's writer.
func (e *Encoder) Encode(f frame.Frame) error {
	e.crc.Reset()
	if err := e.enc.Encode(f.Len()); err != nil {
		return err
	}
	for col := 0; col < f.NumOut(); col++ {
		if err := e.enc.EncodeValue(f.Value(col)); err != nil {
			// We're encoding user-provided column types here, so we
			// pessimistically treat gob failures as fatal.
			return errors.E(errors.Fatal, err)
		}
	}
	return e.enc.Encode(e.crc.Sum32())
}

// decodingReader provides a Reader on top of a gob stream encoded
// with batches of rows stored in column-major order.
type decodingReader struct {
	typ schema.Type
	dec *gob.Decoder
	crc hash.Hash32
	buf frame.Frame
	off int
	err error
}

// NewDecodingReader returns a new Reader that decodes values of the
// provided schema from the provided stream. Since values are
// streamed in vectors, the decoding reader buffers values until they
// are read by the consumer.
func NewDecodingReader(typ schema.Type, r io.Reader) Reader {
	cr := &crcReader{r: r, crc: crc32.NewIEEE()}
	return &decodingReader{
		typ: typ,
		dec: gob.NewDecoder(cr),
		crc: cr.crc,
	}
}

// A crcReader accumulates a checksum of the bytes read through it.
// It implements io.ByteReader so that gob does not insert its own
// buffering: gob then reads exact message boundaries, keeping the
// decoder's checksum in sync with the encoder's.
type crcReader struct {
	r   io.Reader
	crc hash.Hash32
	b   [1]byte
}

func (c *crcReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.crc.Write(p[:n])
	return n, err
}

func (c *crcReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(c.r, c.b[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	c.crc.Write(c.b[:])
	return c.b[0], nil
}

func (d *decodingReader) Read(ctx context.Context, f frame.Frame) (n int, err error) {
	if d.err != nil {
		return 0, d.err
	}
	for d.buf.IsZero() || d.off == d.buf.Len() {
		if d.err = d.decode(); d.err != nil {
			return 0, d.err
		}
	}
	n = f.Len()
	if m := d.buf.Len() - d.off; m < n {
		n = m
	}
	frame.Copy(f, d.buf.Slice(d.off, d.off+n))
	d.off += n
	return n, nil
}

// decode decodes the next batch into d.buf, verifying its checksum.
func (d *decodingReader) decode() error {
	d.crc.Reset()
	var n int
	if err := d.dec.Decode(&n); err != nil {
		if err == io.EOF {
			return EOF
		}
		return err
	}
	cols := make([]interface{}, d.typ.NumOut())
	names := make([]string, d.typ.NumOut())
	for i := range cols {
		colv := reflect.New(reflect.SliceOf(d.typ.Out(i)))
		if err := d.dec.DecodeValue(colv); err != nil {
			return errors.E(errors.Fatal, err)
		}
		if colv.Elem().Len() != n {
			return errors.E(errors.Fatal,
				fmt.Errorf("rowio: corrupt stream: column %d has %d rows, expected %d", i, colv.Elem().Len(), n))
		}
		cols[i] = colv.Elem().Interface()
		names[i] = d.typ.Name(i)
	}
	sum := d.crc.Sum32()
	var expect uint32
	if err := d.dec.Decode(&expect); err != nil {
		return errors.E(errors.Fatal, err)
	}
	if sum != expect {
		return errors.E(errors.Fatal, fmt.Errorf("rowio: checksum mismatch: %x != %x", sum, expect))
	}
	d.buf = frame.Columns(names, cols...)
	d.off = 0
	return nil
}
