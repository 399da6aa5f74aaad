package recorder

import (
	"fmt"
	"sync"
	"time"
)

// memRecord is one appended record kept for inspection by tests.
type memRecord struct {
	ID       uint64
	Time     time.Time
	Data     []byte
	IsNewAcq bool
}

type memStream struct {
	shape   StreamShape
	mu      sync.Mutex
	records []memRecord
	closed  bool
}

func (s *memStream) Shape() StreamShape { return s.shape }

func (s *memStream) AppendRecord(id uint64, ts time.Time, data []byte, isNewAcq bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("recorder: append to closed stream")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.records = append(s.records, memRecord{ID: id, Time: ts, Data: cp, IsNewAcq: isNewAcq})
	return nil
}

func (s *memStream) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memFile struct {
	mu        sync.Mutex
	filename  string
	header    *Header
	preparing bool
	streams   []*memStream
	closed    bool
}

func (f *memFile) Filename() string { return f.filename }

func (f *memFile) Header() *Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.header.Clone()
}

func (f *memFile) SetHeader(h *Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.preparing {
		return fmt.Errorf("recorder: header is immutable outside the preparing stage")
	}
	f.header = h.Clone()
	return nil
}

func (f *memFile) WriteHeader() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.preparing {
		return fmt.Errorf("recorder: header already written")
	}
	f.preparing = false
	return nil
}

func (f *memFile) NumStreams() int { return len(f.streams) }

func (f *memFile) Stream(index int) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.streams) {
		return nil, fmt.Errorf("recorder: stream index %d out of range", index)
	}
	return f.streams[index], nil
}

func (f *memFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for _, s := range f.streams {
		_ = s.Close()
	}
	return nil
}

// MemContainer is an in-memory Container, the default used by the
// binary and every test: it keeps closed files addressable so tests can
// assert on record counts and header contents after rotation.
type MemContainer struct {
	mu     sync.Mutex
	closed map[string]*memFile
}

// NewMemContainer returns a ready-to-use in-memory container.
func NewMemContainer() *MemContainer {
	return &MemContainer{closed: make(map[string]*memFile)}
}

func (c *MemContainer) Create(filename string, shapes []StreamShape) (File, error) {
	if len(shapes) == 0 {
		return nil, fmt.Errorf("recorder: a file needs at least one stream")
	}
	f := &memFile{
		filename:  filename,
		header:    &Header{Filename: filename, TimestampUTC: time.Now().UTC()},
		preparing: true,
	}
	for _, sh := range shapes {
		f.streams = append(f.streams, &memStream{shape: sh})
	}
	return f, nil
}

func (c *MemContainer) Continuation(src File, filename string) (File, error) {
	srcHdr := src.Header()
	shapes := make([]StreamShape, src.NumStreams())
	for i := range shapes {
		s, err := src.Stream(i)
		if err != nil {
			return nil, err
		}
		shapes[i] = s.Shape()
	}
	f, err := c.Create(filename, shapes)
	if err != nil {
		return nil, err
	}
	mf := f.(*memFile)
	mf.header.Description = ContinuationDescription(srcHdr.Description, srcHdr.Filename)
	mf.header.RunDurationMS = srcHdr.RunDurationMS
	return f, nil
}

func (c *MemContainer) Finalize(f File) error {
	if err := f.Close(); err != nil {
		return err
	}
	if mf, ok := f.(*memFile); ok {
		c.mu.Lock()
		c.closed[mf.filename] = mf
		c.mu.Unlock()
	}
	return nil
}

// ClosedFile returns a finalized file by name, for test inspection.
func (c *MemContainer) ClosedFile(filename string) (File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.closed[filename]
	return f, ok
}
