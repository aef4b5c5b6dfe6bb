package fastq

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// Record is one FASTQ record read by Reader. Slices are owned by the record.
type Record struct {
	Header   []byte // Header line including the leading '@'
	Sequence []byte
	Plus     []byte // Separator line including the leading '+'
	Quality  []byte
}

// Size returns the record length on disk, newlines included.
func (r *Record) Size() int {
	return len(r.Header) + len(r.Sequence) + len(r.Plus) + len(r.Quality) + LinesPerRecord
}

// Reader reads FASTQ records one at a time from a stream. It is meant for
// inspecting the first records of an input, not for bulk processing.
type Reader struct {
	reader *bufio.Reader
	line   []byte // reusable buffer for reading lines
}

// NewReader creates a record reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		reader: bufio.NewReaderSize(r, 1<<16),
		line:   make([]byte, 0, 512),
	}
}

// Next reads and returns the next FASTQ record.
// Returns io.EOF when no more records are available.
func (p *Reader) Next() (*Record, error) {
	rec := &Record{}

	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 || line[0] != '@' {
		return nil, errors.New("invalid FASTQ: header line must start with @")
	}
	rec.Header = bytes.Clone(line)

	if line, err = p.readLine(); err != nil {
		return nil, truncated(err)
	}
	rec.Sequence = bytes.Clone(line)

	if line, err = p.readLine(); err != nil {
		return nil, truncated(err)
	}
	if len(line) == 0 || line[0] != '+' {
		return nil, errors.New("invalid FASTQ: separator line must start with +")
	}
	rec.Plus = bytes.Clone(line)

	if line, err = p.readLine(); err != nil {
		return nil, truncated(err)
	}
	rec.Quality = bytes.Clone(line)

	if len(rec.Sequence) != len(rec.Quality) {
		return nil, errors.New("invalid FASTQ: sequence and quality lengths must match")
	}
	return rec, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return errors.New("invalid FASTQ: truncated record")
	}
	return err
}

// readLine reads a line from the input, stripping the newline.
func (p *Reader) readLine() ([]byte, error) {
	p.line = p.line[:0]

	for {
		segment, isPrefix, err := p.reader.ReadLine()
		if err != nil {
			return nil, err
		}

		p.line = append(p.line, segment...)

		if !isPrefix {
			break
		}
	}

	p.line = bytes.TrimSuffix(p.line, []byte{'\r'})
	return p.line, nil
}
