// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records link traffic as a CBOR stream and reads it back.
//
// A capture is a header item ["ibuslink-capture", version] followed by one
// item per chunk: [unix_micros, dir, bytes].
package capture

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	magic   = "ibuslink-capture"
	version = 1
)

// Dir is the direction of a captured chunk as seen from the device.
type Dir uint8

const (
	DirRx      Dir = iota // master to device
	DirTx                 // device to master
	DirDiscard            // on the wire but never decoded: adapter echo, receiver off
)

func (d Dir) String() string {
	switch d {
	case DirRx:
		return "RX"
	case DirTx:
		return "TX"
	case DirDiscard:
		return "DISCARD"
	default:
		return fmt.Sprintf("DIR(%d)", uint8(d))
	}
}

// Record is one captured chunk.
type Record struct {
	Time time.Time
	Dir  Dir
	Data []byte
}

type header struct {
	_       struct{} `cbor:",toarray"`
	Magic   string
	Version uint
}

type wireRecord struct {
	_      struct{} `cbor:",toarray"`
	Micros int64
	Dir    Dir
	Data   []byte
}

// ErrNotCapture is returned when a stream does not start with a capture header.
var ErrNotCapture = errors.New("capture: not an ibuslink capture")

// Writer appends records to a stream. It is not safe for concurrent use.
type Writer struct {
	enc *cbor.Encoder
	n   int
}

// NewWriter writes the capture header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	enc := cbor.NewEncoder(w)
	if err := enc.Encode(header{Magic: magic, Version: version}); err != nil {
		return nil, fmt.Errorf("capture header: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Write appends one record.
func (w *Writer) Write(r Record) error {
	if err := w.enc.Encode(wireRecord{Micros: r.Time.UnixMicro(), Dir: r.Dir, Data: r.Data}); err != nil {
		return fmt.Errorf("capture record %d: %w", w.n, err)
	}
	w.n++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.n
}

// Reader reads records from a stream.
type Reader struct {
	dec *cbor.Decoder
	n   int
}

// NewReader checks the capture header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)
	var h header
	if err := dec.Decode(&h); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNotCapture
		}
		return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}
	if h.Magic != magic {
		return nil, ErrNotCapture
	}
	if h.Version != version {
		return nil, fmt.Errorf("capture: unsupported version %d", h.Version)
	}
	return &Reader{dec: dec}, nil
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	var w wireRecord
	if err := r.dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture record %d: %w", r.n, err)
	}
	r.n++
	return Record{Time: time.UnixMicro(w.Micros), Dir: w.Dir, Data: w.Data}, nil
}

// ReadAll reads every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
