// Package recorder defines the wrapper contracts the File Rotator (C2)
// drives around the record-file container: a header, a set of streams,
// and an append operation. The container's on-disk byte layout is out of
// scope (spec §1); this package states only the interface plus a small
// in-memory default implementation used by the default binary and tests.
package recorder

import (
	"fmt"
	"time"
)

// StreamShape describes the immutable layout of a stream, used to decide
// whether a continuation file's streams match their predecessor (spec
// §8 invariant 5: channel count, record size, data type size, data
// format, bit depth/alignment).
type StreamShape struct {
	ChannelCount int
	RecordSizeB  int
	DataTypeSize int
	DataFormat   string
	BitDepth     int
}

// Equal reports whether two shapes describe the same layout.
func (s StreamShape) Equal(o StreamShape) bool {
	return s.ChannelCount == o.ChannelCount &&
		s.RecordSizeB == o.RecordSizeB &&
		s.DataTypeSize == o.DataTypeSize &&
		s.DataFormat == o.DataFormat &&
		s.BitDepth == o.BitDepth
}

// Header is the per-file metadata block. Mutable only while the owning
// File is in the "preparing" stage.
type Header struct {
	Filename      string
	Description   string
	TimestampUTC  time.Time
	RunDurationMS uint64
}

// Clone returns a deep copy suitable for seeding a continuation file.
func (h *Header) Clone() *Header {
	c := *h
	return &c
}

// Stream is one channel-ordered sequence of records within a File.
type Stream interface {
	Shape() StreamShape
	// AppendRecord copies data into the stream and commits it. isNewAcq
	// marks the first record of a new acquisition window.
	AppendRecord(id uint64, ts time.Time, data []byte, isNewAcq bool) error
	RecordCount() int
	Close() error
}

// File is one open record-file: a header plus N streams.
type File interface {
	Filename() string
	Header() *Header
	// SetHeader overwrites the header; returns an error once the file
	// has left the "preparing" stage.
	SetHeader(h *Header) error
	// WriteHeader commits the header to the container, sealing it from
	// further SetHeader calls.
	WriteHeader() error
	NumStreams() int
	Stream(index int) (Stream, error)
	Close() error
}

// Container creates and finalizes Files. The default implementation
// keeps everything in memory; a production deployment would swap this
// for a binary-container-backed implementation without changing C2.
type Container interface {
	// Create opens a new file with the given shapes, in the
	// "preparing" stage (header not yet written).
	Create(filename string, shapes []StreamShape) (File, error)
	// Continuation opens a new file that copies src's header
	// (description rewritten per the continuation convention) and
	// shapes, also in "preparing" stage.
	Continuation(src File, filename string) (File, error)
	// Finalize closes out f for good (flush + close); called once a
	// file has been fully rotated out of active use.
	Finalize(f File) error
}

// ContinuationDescription applies the documented rewrite: the original
// description plus a line naming the file it continues.
func ContinuationDescription(oldDescription, oldFilename string) string {
	return fmt.Sprintf("%s\nContinuation of file %s", oldDescription, oldFilename)
}
