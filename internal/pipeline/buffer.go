// Package pipeline reads FASTQ inputs in whole-record chunks and hands them
// to worker goroutines through bounded channels, recycling every buffer.
package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/vertti/fastqdemux/internal/fastq"
)

// Buffer is a reusable chunk of whole FASTQ records and the offsets of every
// newline in it. Exactly one goroutine owns a buffer at any time.
type Buffer struct {
	Data  []byte
	Lines []int

	pool *Pool
}

// Records returns the number of whole records in the buffer.
func (b *Buffer) Records() int {
	return len(b.Lines) / fastq.LinesPerRecord
}

// Release hands the buffer back to its pool. The caller must not touch it
// afterwards.
func (b *Buffer) Release() {
	if b != nil && b.pool != nil {
		b.pool.put(b)
	}
}

func (b *Buffer) reset() {
	b.Data = b.Data[:0]
	b.Lines = b.Lines[:0]
}

// Pool is a fixed set of buffers allocated once and recycled through a
// channel of idle buffers.
type Pool struct {
	empty    chan *Buffer
	size     int
	capacity int
	held     atomic.Int64
}

// NewPool allocates size buffers of capacity bytes, each able to index
// lines newline offsets without growing.
func NewPool(size, capacity, lines int) *Pool {
	p := &Pool{
		empty:    make(chan *Buffer, size),
		size:     size,
		capacity: capacity,
	}
	for range size {
		p.empty <- &Buffer{
			Data:  make([]byte, 0, capacity),
			Lines: make([]int, 0, lines),
			pool:  p,
		}
	}
	return p
}

// Get blocks until an idle buffer is available.
func (p *Pool) Get(ctx context.Context) (*Buffer, error) {
	select {
	case b := <-p.empty:
		p.held.Add(1)
		b.reset()
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) put(b *Buffer) {
	p.held.Add(-1)
	select {
	case p.empty <- b:
	default:
		panic("pipeline: buffer released twice")
	}
}

// Size returns the number of buffers owned by the pool.
func (p *Pool) Size() int { return p.size }

// Capacity returns the byte capacity of every buffer.
func (p *Pool) Capacity() int { return p.capacity }

// Idle returns the number of buffers waiting in the pool.
func (p *Pool) Idle() int { return len(p.empty) }

// Outstanding returns the number of buffers out of the pool: with a reader, in a
// channel, or with a worker.
func (p *Pool) Outstanding() int { return int(p.held.Load()) }
