// Package recorder holds the raw trace records produced by an instrumented
// process and the containers that store and replay them.
package recorder

import (
	"io"
	"sync"
)

// Recorder accepts raw records in arrival order.
type Recorder interface {
	RecordEvent(r Record) error
	GetEvents() []Record
	Clear()
}

// Source yields raw records one at a time. Next returns io.EOF once the
// stream is exhausted. A source that cannot recover from a read error must
// return io.EOF afterwards rather than repeat the error.
type Source interface {
	Next() (Record, error)
}

type InMemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{records: []Record{}}
}

func (r *InMemoryRecorder) RecordEvent(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *InMemoryRecorder) GetEvents() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

func (r *InMemoryRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = []Record{}
}

// Source returns a Source over the records captured so far.
func (r *InMemoryRecorder) Source() Source {
	return NewSliceSource(r.GetEvents())
}

// SliceSource replays a fixed slice of records.
type SliceSource struct {
	records []Record
	pos     int
}

// NewSliceSource returns a Source yielding records in order.
func NewSliceSource(records []Record) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next() (Record, error) {
	if s.pos >= len(s.records) {
		return Record{}, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

// Drain reads src until io.EOF.
func Drain(src Source) ([]Record, error) {
	var out []Record
	for {
		rec, err := src.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
