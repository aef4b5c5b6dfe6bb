package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/fastqdemux/internal/fastq"
)

func makeFASTQ(n int, tag string) string {
	var sb strings.Builder
	for i := range n {
		fmt.Fprintf(&sb, "@%s%d/1\nACGTACGTAC\n+\nIIIIIIIIII\n", tag, i)
	}
	return sb.String()
}

// collector records every header it sees and checks buffer ownership.
type collector struct {
	mu      *sync.Mutex
	inUse   map[*Buffer]bool
	headers *[]string
	pairs   *[][2]string
	pools   []*Pool
	fail    error
	done    atomic.Bool
}

func newCollector(pools ...*Pool) *collector {
	return &collector{
		mu:      &sync.Mutex{},
		inUse:   map[*Buffer]bool{},
		headers: &[]string{},
		pairs:   &[][2]string{},
		pools:   pools,
	}
}

func (c *collector) claim(b *Buffer) error {
	if b == nil {
		return nil
	}
	if c.inUse[b] {
		return fmt.Errorf("buffer %p handed to two workers", b)
	}
	c.inUse[b] = true
	return nil
}

func (c *collector) Process(b Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.claim(b.Barcode); err != nil {
		return err
	}
	if err := c.claim(b.Mate); err != nil {
		return err
	}
	defer func() {
		delete(c.inUse, b.Barcode)
		delete(c.inUse, b.Mate)
	}()
	for _, p := range c.pools {
		if p.Outstanding() > p.Size() {
			return fmt.Errorf("pool holds %d of %d buffers", p.Outstanding(), p.Size())
		}
	}
	if c.fail != nil {
		return c.fail
	}

	bc := fastq.NewScanner(b.Barcode.Lines)
	var mc *fastq.Scanner
	if b.Mate != nil {
		mc = fastq.NewScanner(b.Mate.Lines)
		if b.Mate.Records() != b.Barcode.Records() {
			return fmt.Errorf("unpaired batch: %d vs %d", b.Barcode.Records(), b.Mate.Records())
		}
	}
	for {
		rec, ok := bc.Next()
		if !ok {
			break
		}
		h := string(rec.Header(b.Barcode.Data))
		*c.headers = append(*c.headers, h)
		if mc != nil {
			m, _ := mc.Next()
			*c.pairs = append(*c.pairs, [2]string{h, string(m.Header(b.Mate.Data))})
		}
	}
	return nil
}

func (c *collector) Finish() error {
	c.done.Store(true)
	return nil
}

func workersOf(n int, c *collector) []Worker {
	ws := make([]Worker, n)
	for i := range ws {
		ws[i] = c
	}
	return ws
}

func TestRun_SingleEnd(t *testing.T) {
	t.Parallel()

	data := makeFASTQ(1000, "r")
	in := &Input{Name: "r1", Reader: strings.NewReader(data), RecordLength: 34}
	var batches atomic.Int64
	p := New(in, nil, 4, Options{BatchRecords: 64, OnBatch: func(int) { batches.Add(1) }})
	pool, mate := p.Pools()
	require.Nil(t, mate)

	c := newCollector(pool)
	require.NoError(t, p.Run(context.Background(), in, nil, workersOf(4, c)))

	assert.Len(t, *c.headers, 1000)
	assert.Equal(t, int64(16), batches.Load())
	assert.True(t, c.done.Load())
	assert.Equal(t, pool.Size(), pool.Idle())
	assert.Zero(t, pool.Outstanding())
}

func TestRun_PairedBatchesStayAligned(t *testing.T) {
	t.Parallel()

	// Mates have longer headers so their buffers fill at a different pace.
	barcode := makeFASTQ(777, "read")
	mate := strings.ReplaceAll(makeFASTQ(777, "read"), "/1\n", "/2 extra-comment-on-the-mate\n")
	bIn := &Input{Name: "r2", Reader: strings.NewReader(barcode), RecordLength: 36}
	mIn := &Input{Name: "r1", Reader: strings.NewReader(mate), RecordLength: 60}

	p := New(bIn, mIn, 3, Options{BatchRecords: 50})
	bp, mp := p.Pools()
	c := newCollector(bp, mp)
	require.NoError(t, p.Run(context.Background(), bIn, mIn, workersOf(3, c)))

	require.Len(t, *c.pairs, 777)
	for _, pair := range *c.pairs {
		assert.Equal(t, strings.TrimSuffix(pair[0], "/1")+"/2", strings.Fields(pair[1])[0])
	}
	assert.Equal(t, bp.Size(), bp.Idle())
	assert.Equal(t, mp.Size(), mp.Idle())
}

func TestRun_MatesLongerThanFirstRecord(t *testing.T) {
	t.Parallel()

	const records = 4096
	var barcode, mate strings.Builder
	for i := range records {
		fmt.Fprintf(&barcode, "@read%d/2\nACGTACGTAC\n+\nIIIIIIIIII\n", i)
		length := 150
		if i == 0 {
			length = 30
		}
		fmt.Fprintf(&mate, "@read%d/1\n%s\n+\n%s\n", i, strings.Repeat("A", length), strings.Repeat("I", length))
	}
	bIn := &Input{Name: "r2", Reader: strings.NewReader(barcode.String()), RecordLength: 38}
	mIn := &Input{Name: "r1", Reader: strings.NewReader(mate.String()), RecordLength: 74}

	var seen atomic.Int64
	p := New(bIn, mIn, 2, Options{BatchRecords: records, OnBatch: func(n int) { seen.Add(int64(n)) }})
	bp, mp := p.Pools()
	c := newCollector(bp, mp)
	require.NoError(t, p.Run(context.Background(), bIn, mIn, workersOf(2, c)))

	require.Len(t, *c.pairs, records)
	for _, pair := range *c.pairs {
		assert.Equal(t, strings.TrimSuffix(pair[0], "/2")+"/1", pair[1])
	}
	assert.Equal(t, int64(records), seen.Load())
	assert.Equal(t, bp.Size(), bp.Idle())
	assert.Equal(t, mp.Size(), mp.Idle())
}

func TestChunkReader_Unread(t *testing.T) {
	t.Parallel()

	data := makeFASTQ(10, "r")
	pool := NewPool(2, 4096, 64)
	r := newChunkReader("r1", strings.NewReader(data), pool)

	b, err := r.next(context.Background(), 6)
	require.NoError(t, err)
	require.Equal(t, 6, b.Records())
	r.unread(b, 2)
	assert.Equal(t, 2, b.Records())
	assert.Equal(t, makeFASTQ(2, "r"), string(b.Data))
	b.Release()

	b, err = r.next(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 8, b.Records())
	assert.Equal(t, strings.TrimPrefix(data, makeFASTQ(2, "r")), string(b.Data))
	assert.True(t, r.drained())
	b.Release()
}

func TestRun_UnpairedInputs(t *testing.T) {
	t.Parallel()

	tests := map[string]struct{ barcode, mate int }{
		"mate short": {barcode: 100, mate: 90},
		"mate long":  {barcode: 100, mate: 101},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			bIn := &Input{Name: "r2", Reader: strings.NewReader(makeFASTQ(tt.barcode, "a")), RecordLength: 34}
			mIn := &Input{Name: "r1", Reader: strings.NewReader(makeFASTQ(tt.mate, "a")), RecordLength: 34}
			p := New(bIn, mIn, 2, Options{BatchRecords: 16})
			err := p.Run(context.Background(), bIn, mIn, workersOf(2, newCollector()))
			require.ErrorIs(t, err, ErrUnpaired)
		})
	}
}

func TestRun_WorkerErrorStopsPipeline(t *testing.T) {
	t.Parallel()

	in := &Input{Name: "r1", Reader: strings.NewReader(makeFASTQ(5000, "r")), RecordLength: 34}
	p := New(in, nil, 2, Options{BatchRecords: 10})
	c := newCollector()
	c.fail = assert.AnError
	err := p.Run(context.Background(), in, nil, workersOf(2, c))
	require.ErrorIs(t, err, assert.AnError)
}

func TestRun_EmptyInput(t *testing.T) {
	t.Parallel()

	in := &Input{Name: "r1", Reader: strings.NewReader(""), RecordLength: 34}
	p := New(in, nil, 2, Options{})
	c := newCollector()
	require.NoError(t, p.Run(context.Background(), in, nil, workersOf(2, c)))
	assert.Empty(t, *c.headers)
	assert.True(t, c.done.Load())
}

func TestChunkReader_CarriesPartialRecords(t *testing.T) {
	t.Parallel()

	data := makeFASTQ(10, "r")
	pool := NewPool(1, 3*34+10, 64)
	r := newChunkReader("r1", strings.NewReader(data), pool)

	var got bytes.Buffer
	for {
		b, err := r.next(context.Background(), 100)
		require.NoError(t, err)
		n := b.Records()
		if n == 0 {
			b.Release()
			break
		}
		assert.Equal(t, byte('@'), b.Data[0])
		assert.Equal(t, byte('\n'), b.Data[len(b.Data)-1])
		assert.Len(t, b.Lines, n*fastq.LinesPerRecord)
		got.Write(b.Data)
		b.Release()
	}
	assert.Equal(t, data, got.String())
	assert.True(t, r.drained())
}

func TestChunkReader_MissingFinalNewline(t *testing.T) {
	t.Parallel()

	data := strings.TrimSuffix(makeFASTQ(3, "r"), "\n")
	pool := NewPool(1, 1<<10, 64)
	r := newChunkReader("r1", strings.NewReader(data), pool)

	b, err := r.next(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Records())
	b.Release()
}

func TestChunkReader_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		data     string
		capacity int
		want     error
	}{
		"truncated":    {data: "@r1\nACGT\n+\n", capacity: 1 << 10, want: ErrTruncated},
		"tiny buffer":  {data: makeFASTQ(2, "r"), capacity: 8},
		"missing at":   {data: "r1\nACGT\n+\nIIII\n", capacity: 1 << 10},
		"trailing one": {data: makeFASTQ(1, "r") + "@r2\nAC", capacity: 1 << 10, want: ErrTruncated},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r := newChunkReader("r1", strings.NewReader(tt.data), NewPool(1, tt.capacity, 64))
			var err error
			for err == nil {
				var b *Buffer
				b, err = r.next(context.Background(), 10)
				if err == nil {
					done := b.Records() == 0
					b.Release()
					if done {
						break
					}
				}
			}
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestPool_ReleaseTwicePanics(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 16, 4)
	b, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Outstanding())
	b.Release()
	assert.Panics(t, func() { b.Release() })
}

func TestPool_GetHonoursContext(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 16, 4)
	_, err := p.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Get(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func BenchmarkRun_SingleEnd(b *testing.B) {
	data := makeFASTQ(20000, "bench")
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for b.Loop() {
		in := &Input{Name: "r1", Reader: strings.NewReader(data), RecordLength: 40}
		p := New(in, nil, 4, Options{BatchRecords: 1024})
		if err := p.Run(context.Background(), in, nil, workersOf(4, newCollector())); err != nil {
			b.Fatal(err)
		}
	}
}
