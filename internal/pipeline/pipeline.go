package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/vertti/fastqdemux/internal/fastq"
)

// DefaultBatchRecords is the number of records per buffer when unset.
const DefaultBatchRecords = 4096

// ErrUnpaired is returned when the two inputs of a paired run hold a
// different number of records.
var ErrUnpaired = errors.New("paired inputs have different record counts")

// Batch is the unit of work handed to a worker: a chunk of barcode-read
// records and, for paired input, the chunk of their mates. A batch with no
// barcode buffer tells the worker to stop.
type Batch struct {
	Barcode *Buffer
	Mate    *Buffer
}

// Terminal reports whether the batch is the end-of-input marker.
func (b Batch) Terminal() bool {
	return b.Barcode == nil
}

// Release returns both buffers to their pools.
func (b Batch) Release() {
	b.Barcode.Release()
	b.Mate.Release()
}

// Worker consumes batches on its own goroutine. Finish runs once after the
// worker has seen the end-of-input marker.
type Worker interface {
	Process(Batch) error
	Finish() error
}

// Input is one FASTQ stream.
type Input struct {
	Name         string
	Reader       io.Reader
	RecordLength int // typical record size in bytes
}

// Options configures Run.
type Options struct {
	BatchRecords int // records per batch (0 = DefaultBatchRecords)
	PoolSize     int // buffers per input (0 = 2 per worker)

	// OnBatch, if set, is called with the record count of every batch as it
	// is handed to the workers.
	OnBatch func(records int)
}

// BufferCapacity returns the byte size of a buffer that holds records
// records of roughly recordLength bytes with room for longer headers.
func BufferCapacity(records, recordLength int) int {
	return records*recordLength + records*recordLength/4 + 64<<10
}

// Pipeline moves batches from one or two inputs to a set of workers.
type Pipeline struct {
	opts    Options
	barcode *Pool
	mate    *Pool
}

// New allocates the buffer pools for the given inputs. mate may be nil.
func New(barcode, mate *Input, workers int, opts Options) *Pipeline {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if opts.BatchRecords <= 0 {
		opts.BatchRecords = DefaultBatchRecords
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = workers * 2
	}
	lines := opts.BatchRecords*fastq.LinesPerRecord + fastq.LinesPerRecord
	p := &Pipeline{
		opts:    opts,
		barcode: NewPool(opts.PoolSize, BufferCapacity(opts.BatchRecords, barcode.RecordLength), lines),
	}
	if mate != nil {
		p.mate = NewPool(opts.PoolSize, BufferCapacity(opts.BatchRecords, mate.RecordLength), lines)
	}
	return p
}

// Pools returns the barcode and mate buffer pools. The mate pool is nil for
// single-end input.
func (p *Pipeline) Pools() (*Pool, *Pool) {
	return p.barcode, p.mate
}

// Run reads both inputs to the end and feeds every batch to exactly one
// worker. Batches of the two inputs are paired in order and always hold the
// same number of records.
func (p *Pipeline) Run(ctx context.Context, barcode, mate *Input, workers []Worker) error {
	if len(workers) == 0 {
		return errors.New("pipeline needs at least one worker")
	}
	if (mate == nil) != (p.mate == nil) {
		return errors.New("pipeline inputs do not match its pools")
	}

	g, ctx := errgroup.WithContext(ctx)
	batches := make(chan Batch, len(workers)*2)

	for _, w := range workers {
		g.Go(func() error {
			return runWorker(ctx, w, batches)
		})
	}

	bc := newChunkReader(barcode.Name, barcode.Reader, p.barcode)
	if mate == nil {
		g.Go(func() error {
			return p.produceSingle(ctx, bc, batches, len(workers))
		})
		return g.Wait()
	}

	mc := newChunkReader(mate.Name, mate.Reader, p.mate)
	counts := make(chan int, 1)
	granted := make(chan int, 1)
	barcodeFull := make(chan *Buffer, p.opts.PoolSize)
	mateFull := make(chan *Buffer, p.opts.PoolSize)

	g.Go(func() error {
		return p.readPrimary(ctx, bc, barcodeFull, counts, granted)
	})
	g.Go(func() error {
		return readSecondary(ctx, mc, mateFull, counts, granted)
	})
	g.Go(func() error {
		return p.pair(ctx, barcodeFull, mateFull, batches, len(workers))
	})
	return g.Wait()
}

func runWorker(ctx context.Context, w Worker, batches <-chan Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-batches:
			if b.Terminal() {
				return w.Finish()
			}
			err := w.Process(b)
			b.Release()
			if err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) produceSingle(ctx context.Context, r *chunkReader, batches chan<- Batch, workers int) error {
	for {
		b, err := r.next(ctx, p.opts.BatchRecords)
		if err != nil {
			return err
		}
		if b.Records() == 0 {
			b.Release()
			return broadcastEnd(ctx, batches, workers)
		}
		if err := p.send(ctx, batches, Batch{Barcode: b}); err != nil {
			b.Release()
			return err
		}
	}
}

// readPrimary reads barcode-read chunks and tells the mate reader how many
// records each one holds. The mate reader answers with the number it could
// fit; records beyond that go back to the barcode reader for the next chunk.
// A zero count marks the end.
func (p *Pipeline) readPrimary(ctx context.Context, r *chunkReader, full chan<- *Buffer, counts chan<- int, granted <-chan int) error {
	for {
		b, err := r.next(ctx, p.opts.BatchRecords)
		if err != nil {
			return err
		}
		n := b.Records()
		select {
		case counts <- n:
		case <-ctx.Done():
			b.Release()
			return ctx.Err()
		}
		var m int
		select {
		case m = <-granted:
		case <-ctx.Done():
			b.Release()
			return ctx.Err()
		}
		if m < n {
			r.unread(b, m)
		}
		select {
		case full <- b:
		case <-ctx.Done():
			b.Release()
			return ctx.Err()
		}
		if n == 0 {
			return nil
		}
	}
}

// readSecondary reads up to as many mate records as the primary reader asks
// for and reports how many it got. Fewer records are only an error once the
// mate input is exhausted.
func readSecondary(ctx context.Context, r *chunkReader, full chan<- *Buffer, counts <-chan int, granted chan<- int) error {
	for {
		var want int
		select {
		case want = <-counts:
		case <-ctx.Done():
			return ctx.Err()
		}
		b, err := r.next(ctx, want)
		if err != nil {
			return err
		}
		got := b.Records()
		if got < want && r.drained() {
			b.Release()
			return fmt.Errorf("%w: %s ended early", ErrUnpaired, r.name)
		}
		if want == 0 && !r.drained() {
			b.Release()
			return fmt.Errorf("%w: %s has extra records", ErrUnpaired, r.name)
		}
		select {
		case granted <- got:
		case <-ctx.Done():
			b.Release()
			return ctx.Err()
		}
		select {
		case full <- b:
		case <-ctx.Done():
			b.Release()
			return ctx.Err()
		}
		if want == 0 {
			return nil
		}
	}
}

func (p *Pipeline) pair(ctx context.Context, barcodes, mates <-chan *Buffer, batches chan<- Batch, workers int) error {
	for {
		var b Batch
		select {
		case b.Barcode = <-barcodes:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case b.Mate = <-mates:
		case <-ctx.Done():
			b.Barcode.Release()
			return ctx.Err()
		}
		if b.Barcode.Records() == 0 {
			b.Release()
			return broadcastEnd(ctx, batches, workers)
		}
		if err := p.send(ctx, batches, b); err != nil {
			b.Release()
			return err
		}
	}
}

func (p *Pipeline) send(ctx context.Context, batches chan<- Batch, b Batch) error {
	n := b.Barcode.Records()
	select {
	case batches <- b:
		if p.opts.OnBatch != nil {
			p.opts.OnBatch(n)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// broadcastEnd sends one end marker per worker.
func broadcastEnd(ctx context.Context, batches chan<- Batch, workers int) error {
	for range workers {
		select {
		case batches <- Batch{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
