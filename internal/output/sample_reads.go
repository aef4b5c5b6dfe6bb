package output

import (
	"errors"
	"fmt"
	"os"

	"github.com/klauspost/compress/gzip"
)

// ErrBufferOverflow means a buffer was sized too small for its data.
var ErrBufferOverflow = errors.New("output buffer overflow")

// fixedWriter appends into a slice without ever growing it.
type fixedWriter struct {
	buf []byte
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	if len(w.buf)+len(p) > cap(w.buf) {
		return 0, ErrBufferOverflow
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// SampleReads accumulates the reads of one sample and one read side, turns
// them into gzip members and appends those to the output file.
type SampleReads struct {
	path string
	raw  []byte
	out  fixedWriter
	gz   *gzip.Writer
}

func newSampleReads(path string, info BufferInfo) (*SampleReads, error) {
	gz, err := gzip.NewWriterLevel(nil, info.Level)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	return &SampleReads{
		path: path,
		raw:  make([]byte, 0, info.CompressionBuffer),
		out:  fixedWriter{buf: make([]byte, 0, info.OutputCapacity)},
		gz:   gz,
	}, nil
}

// Path returns the output file.
func (s *SampleReads) Path() string { return s.path }

// Add copies p into the accumulation buffer.
func (s *SampleReads) Add(p []byte) error {
	if len(s.raw)+len(p) > cap(s.raw) {
		return fmt.Errorf("%w: %d bytes into %d of %d for %s",
			ErrBufferOverflow, len(p), len(s.raw), cap(s.raw), s.path)
	}
	s.raw = append(s.raw, p...)
	return nil
}

// Append reserves n bytes at the end of the accumulation buffer for the
// caller to fill in place.
func (s *SampleReads) Append(n int) ([]byte, error) {
	if len(s.raw)+n > cap(s.raw) {
		return nil, fmt.Errorf("%w: %d bytes into %d of %d for %s",
			ErrBufferOverflow, n, len(s.raw), cap(s.raw), s.path)
	}
	start := len(s.raw)
	s.raw = s.raw[:start+n]
	return s.raw[start:], nil
}

// Pending returns the number of raw bytes waiting for compression.
func (s *SampleReads) Pending() int { return len(s.raw) }

// Compressed returns the number of compressed bytes waiting to be written.
func (s *SampleReads) Compressed() int { return len(s.out.buf) }

func (s *SampleReads) compress() error {
	if len(s.raw) == 0 {
		return nil
	}
	s.gz.Reset(&s.out)
	if _, err := s.gz.Write(s.raw); err != nil {
		return fmt.Errorf("compressing %s: %w", s.path, err)
	}
	if err := s.gz.Close(); err != nil {
		return fmt.Errorf("compressing %s: %w", s.path, err)
	}
	s.raw = s.raw[:0]
	return nil
}

func (s *SampleReads) write() error {
	if len(s.out.buf) == 0 {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // output path built from the run's output directory
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	if _, err := f.Write(s.out.buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", s.path, err)
	}
	s.out.buf = s.out.buf[:0]
	return nil
}
