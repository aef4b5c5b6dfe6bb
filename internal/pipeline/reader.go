package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vertti/fastqdemux/internal/fastq"
)

// ErrTruncated is returned when an input ends inside a record.
var ErrTruncated = errors.New("invalid FASTQ: input ends inside a record")

// chunkReader fills pool buffers with whole records. Bytes past the last
// whole record are carried into the next buffer.
type chunkReader struct {
	name  string
	src   io.Reader
	pool  *Pool
	extra []byte
	eof   bool
}

func newChunkReader(name string, src io.Reader, pool *Pool) *chunkReader {
	return &chunkReader{
		name:  name,
		src:   src,
		pool:  pool,
		extra: make([]byte, 0, pool.Capacity()),
	}
}

// next returns a buffer holding up to want records. An empty buffer means
// the input is exhausted. With want 0 the reader only looks for leftover
// input, which drained then reports.
func (r *chunkReader) next(ctx context.Context, want int) (*Buffer, error) {
	b, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.fill(b, want); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

func (r *chunkReader) fill(b *Buffer, want int) error {
	limit := want * fastq.LinesPerRecord
	b.Data = append(b.Data, r.extra...)
	r.extra = r.extra[:0]
	b.Lines = fastq.AppendLineEnds(b.Lines, b.Data, 0)

	for (len(b.Lines) < limit || want == 0) && !r.eof && len(b.Data) < cap(b.Data) {
		from := len(b.Data)
		n, err := r.src.Read(b.Data[from:cap(b.Data)])
		b.Data = b.Data[:from+n]
		b.Lines = fastq.AppendLineEnds(b.Lines, b.Data, from)
		if errors.Is(err, io.EOF) {
			r.eof = true
		} else if err != nil {
			return fmt.Errorf("reading %s: %w", r.name, err)
		}
	}

	// A final record without a trailing newline is still a record.
	if r.eof && len(b.Data) > 0 && b.Data[len(b.Data)-1] != '\n' && len(b.Lines) < limit {
		if len(b.Data) == cap(b.Data) {
			return fmt.Errorf("%s: buffer of %d bytes too small for the final record", r.name, cap(b.Data))
		}
		b.Data = append(b.Data, '\n')
		b.Lines = append(b.Lines, len(b.Data)-1)
	}

	keep := min(len(b.Lines)/fastq.LinesPerRecord, want) * fastq.LinesPerRecord
	cut := 0
	if keep > 0 {
		cut = b.Lines[keep-1] + 1
	}
	r.extra = append(r.extra, b.Data[cut:]...)
	b.Data = b.Data[:cut]
	b.Lines = b.Lines[:keep]
	if r.eof && len(bytes.TrimSpace(r.extra)) == 0 {
		r.extra = r.extra[:0]
	}

	if keep == 0 && len(r.extra) > 0 && want > 0 {
		if r.eof {
			return fmt.Errorf("%s: %w", r.name, ErrTruncated)
		}
		return fmt.Errorf("%s: buffer of %d bytes too small for one record", r.name, cap(b.Data))
	}
	if len(b.Data) > 0 && b.Data[0] != '@' {
		return fmt.Errorf("%s: invalid FASTQ: record does not start with '@'", r.name)
	}
	return nil
}

// unread gives back every record of b past the first keep. They lead the
// next buffer.
func (r *chunkReader) unread(b *Buffer, keep int) {
	lines := keep * fastq.LinesPerRecord
	cut := 0
	if lines > 0 {
		cut = b.Lines[lines-1] + 1
	}
	tail := b.Data[cut:]
	n := len(r.extra)
	r.extra = append(r.extra, tail...)
	copy(r.extra[len(tail):], r.extra[:n])
	copy(r.extra, tail)
	b.Data = b.Data[:cut]
	b.Lines = b.Lines[:lines]
}

// drained reports whether every byte of the input has been handed out.
func (r *chunkReader) drained() bool {
	return r.eof && len(r.extra) == 0
}
