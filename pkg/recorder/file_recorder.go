package recorder

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
)

// maxLineSize bounds one JSON line when reading a trace back.
const maxLineSize = 1 << 20

// FileRecorder records raw records to a file as JSON lines with optional
// compression and integrity sealing
type FileRecorder struct {
	mu              sync.Mutex
	file            *os.File
	writer          io.Writer
	bufWriter       *bufio.Writer
	path            string
	compressionType CompressionType
	integrityKey    []byte
	eventCount      int
}

// FileRecorderOptions contains options for creating a file recorder
type FileRecorderOptions struct {
	CompressionType CompressionType
	// IntegrityKey, when set, seals every line with an HMAC-SHA256.
	IntegrityKey []byte
}

// DefaultFileRecorderOptions returns default options for file recorder
func DefaultFileRecorderOptions() FileRecorderOptions {
	return FileRecorderOptions{
		CompressionType: DefaultCompression,
	}
}

// NewFileRecorder creates a new file recorder with default options
func NewFileRecorder(path string) (*FileRecorder, error) {
	return NewFileRecorderWithOptions(path, DefaultFileRecorderOptions())
}

// NewFileRecorderWithOptions creates a new file recorder with the given options
func NewFileRecorderWithOptions(path string, options FileRecorderOptions) (*FileRecorder, error) {
	fr := &FileRecorder{
		path:            path,
		compressionType: options.CompressionType,
		integrityKey:    options.IntegrityKey,
	}
	if err := fr.open(); err != nil {
		return nil, err
	}
	return fr, nil
}

func (fr *FileRecorder) open() error {
	f, err := os.OpenFile(fr.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening trace %s", fr.path)
	}
	bufWriter := bufio.NewWriter(f)
	w, err := NewCompressedWriter(bufWriter, fr.compressionType)
	if err != nil {
		f.Close()
		return err
	}
	fr.file = f
	fr.bufWriter = bufWriter
	fr.writer = w
	return nil
}

// RecordEvent writes a record as one line
func (fr *FileRecorder) RecordEvent(r Record) error {
	data, err := sealRecord(r, fr.integrityKey)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if _, err := fr.writer.Write(data); err != nil {
		return err
	}
	fr.eventCount++
	return nil
}

// Count returns the number of records written since the recorder was
// opened or cleared.
func (fr *FileRecorder) Count() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.eventCount
}

// flushLocked ends the current compressed frame so the file is readable.
func (fr *FileRecorder) flushLocked() error {
	if err := CloseCompressedWriter(fr.writer, fr.compressionType); err != nil {
		return err
	}
	return fr.bufWriter.Flush()
}

// GetEvents reads all records from the file. Unreadable lines are skipped.
func (fr *FileRecorder) GetEvents() []Record {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if err := fr.flushLocked(); err != nil {
		return nil
	}
	// Later writes go to a fresh frame.
	defer func() {
		fr.writer, _ = NewCompressedWriter(fr.bufWriter, fr.compressionType)
	}()

	src, err := OpenFileSource(fr.path, fr.integrityKey)
	if err != nil {
		return nil
	}
	defer src.Close()

	var records []Record
	for {
		rec, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}

// Clear clears the file and resets the recorder
func (fr *FileRecorder) Clear() {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	// Ignore errors in Clear() as per interface
	fr.flushLocked()
	fr.file.Close()
	os.Truncate(fr.path, 0)
	if fr.open() == nil {
		fr.eventCount = 0
	}
}

// Close flushes and closes the file
func (fr *FileRecorder) Close() error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if err := fr.flushLocked(); err != nil {
		return err
	}
	return fr.file.Close()
}

// FileSource reads a trace file written by FileRecorder. Compression is
// detected from the file contents.
type FileSource struct {
	file    *os.File
	reader  io.Reader
	scanner *bufio.Scanner
	key     []byte
	line    int
	fatal   bool
}

// OpenFileSource opens path for reading. A non-empty key requires every
// line to carry a valid seal.
func OpenFileSource(path string, key []byte) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening trace %s", path)
	}
	r, _, err := NewDetectingReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "reading trace %s", path)
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &FileSource{file: f, reader: r, scanner: sc, key: key}, nil
}

// Next returns the next record. A line that fails to parse or verify yields
// an error and the source moves on. A broken stream yields one error and
// then io.EOF.
func (s *FileSource) Next() (Record, error) {
	if s.fatal {
		return Record{}, io.EOF
	}
	for s.scanner.Scan() {
		s.line++
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := openRecord(line, s.key)
		if err != nil {
			return Record{}, errors.Wrapf(err, "line %d", s.line)
		}
		return rec, nil
	}
	if err := s.scanner.Err(); err != nil {
		s.fatal = true
		return Record{}, errors.Wrapf(err, "line %d", s.line+1)
	}
	return Record{}, io.EOF
}

// Close releases the file.
func (s *FileSource) Close() error {
	closeCompressedReader(s.reader)
	return s.file.Close()
}
