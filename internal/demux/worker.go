package demux

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vertti/fastqdemux/internal/fastq"
	"github.com/vertti/fastqdemux/internal/index"
	"github.com/vertti/fastqdemux/internal/output"
	"github.com/vertti/fastqdemux/internal/pipeline"
	"github.com/vertti/fastqdemux/internal/report"
)

// Undetermined reads are only judged once a worker has seen this many.
const undeterminedMinReads = 1000

var (
	// ErrFormat is returned for malformed or inconsistent input records.
	ErrFormat = errors.New("invalid FASTQ")
	// ErrTooManyUndetermined is returned when most reads match no sample,
	// which usually means a wrong template or sample sheet.
	ErrTooManyUndetermined = errors.New("more than 75% of reads are undetermined")
)

// settings is the read-only state shared by all workers.
type settings struct {
	matcher       *Matcher
	barcodeLength int
	undetermined  int
	synthetic     []bool

	prefix []byte // Illumina header prefix; nil keeps MGI headers
	lPos   int

	keepBarcode        bool
	fullHeader         bool
	checkContent       bool
	ignoreUndetermined bool
	paired             bool

	mu      sync.Mutex
	report  *report.Manager
	warning sync.Once
}

// worker classifies batches and owns its sample buffers and statistics.
type worker struct {
	s     *settings
	data  []*output.SampleData
	stats *report.Manager

	barcodes, mates fastq.Scanner

	header, mateHeader []byte
	barcode, umi       []byte

	reads, undetermined uint64
}

func newWorker(s *settings, data []*output.SampleData, stats *report.Manager) *worker {
	return &worker{
		s:          s,
		data:       data,
		stats:      stats,
		header:     make([]byte, 0, 512),
		mateHeader: make([]byte, 0, 512),
		barcode:    make([]byte, 0, 64),
		umi:        make([]byte, 0, 32),
	}
}

// Process demultiplexes one batch.
func (w *worker) Process(b pipeline.Batch) error {
	w.barcodes.Reset(b.Barcode.Lines)
	var mateData []byte
	if b.Mate != nil {
		w.mates.Reset(b.Mate.Lines)
		mateData = b.Mate.Data
	}

	for {
		rec, ok := w.barcodes.Next()
		if !ok {
			break
		}
		var mate fastq.Bounds
		if b.Mate != nil {
			if mate, ok = w.mates.Next(); !ok {
				return fmt.Errorf("%w: mate batch ended before the barcode batch", ErrFormat)
			}
		}
		if err := w.record(b.Barcode.Data, rec, mateData, mate); err != nil {
			return err
		}
	}
	if b.Mate != nil && w.mates.Remaining() > 0 {
		return fmt.Errorf("%w: barcode batch ended before the mate batch", ErrFormat)
	}
	return nil
}

// Finish writes the remaining buffers and merges the statistics.
func (w *worker) Finish() error {
	if err := output.Flush(w.data); err != nil {
		return err
	}
	w.s.mu.Lock()
	w.s.report.Merge(w.stats)
	w.s.mu.Unlock()
	return nil
}

func (w *worker) record(buf []byte, rec fastq.Bounds, mateBuf []byte, mate fastq.Bounds) error {
	header, seq, qual := rec.Header(buf), rec.Sequence(buf), rec.Quality(buf)
	if err := w.check(header, seq, rec.Plus(buf), qual); err != nil {
		return err
	}
	if len(seq) < w.s.barcodeLength {
		return fmt.Errorf("%w: read %q is shorter than the %d base barcode", ErrFormat, header, w.s.barcodeLength)
	}
	var mateHeader, mateSeq, mateQual []byte
	if mateBuf != nil {
		mateHeader, mateSeq, mateQual = mate.Header(mateBuf), mate.Sequence(mateBuf), mate.Quality(mateBuf)
		if err := w.check(mateHeader, mateSeq, mate.Plus(mateBuf), mateQual); err != nil {
			return err
		}
		if w.s.checkContent && string(headerPrefix(header)) != string(headerPrefix(mateHeader)) {
			return fmt.Errorf("%w: paired headers %q and %q differ", ErrFormat, header, mateHeader)
		}
	}

	out := w.s.matcher.Match(seq)
	w.count(out.Sample, out.Mismatches, qual, mateQual)
	w.barcode = w.s.matcher.AppendBarcode(w.barcode[:0], seq, out.Template)

	var digit int
	switch {
	case w.s.synthetic[out.Sample]:
		if out.Sample == w.s.undetermined {
			w.stats.AddUndetermined(w.barcode)
			if err := w.checkUndetermined(); err != nil {
				return err
			}
		} else {
			w.stats.AddAmbiguous(w.barcode)
		}
		w.header, digit = appendMGIHeader(w.header[:0], header, w.barcode, nil)
	default:
		if err := w.appendUMI(seq, out); err != nil {
			return err
		}
		if !w.s.keepBarcode {
			seq = seq[:len(seq)-w.s.barcodeLength]
			qual = qual[:len(qual)-w.s.barcodeLength]
		}
		var err error
		if w.header, digit, err = w.rewrite(header); err != nil {
			return err
		}
	}

	d := w.data[out.Sample]
	if d.Barcode != nil {
		if err := putRecord(d.Barcode, w.header, seq, qual); err != nil {
			return err
		}
	}
	if d.Mate != nil {
		w.mateHeader = appendMateHeader(w.mateHeader[:0], w.header, digit, mateHeader)
		if err := putRecord(d.Mate, w.mateHeader, mateSeq, mateQual); err != nil {
			return err
		}
	}
	return d.CompressAndWrite(false)
}

// rewrite builds the output header of a read assigned to a real sample.
func (w *worker) rewrite(header []byte) ([]byte, int, error) {
	if w.s.prefix != nil {
		return appendIlluminaHeader(w.header[:0], w.s.prefix, header, w.s.lPos, w.barcode, w.umi)
	}
	if !w.s.fullHeader {
		h, digit := appendMGIHeader(w.header[:0], header, nil, nil)
		return h, digit, nil
	}
	h, digit := appendMGIHeader(w.header[:0], header, w.barcode, w.umi)
	return h, digit, nil
}

func (w *worker) appendUMI(seq []byte, out Outcome) error {
	w.umi = w.umi[:0]
	f := out.Template.Layout.UMI
	if !f.Present {
		return nil
	}
	if !out.Template.I7RC {
		w.umi = append(w.umi, f.Slice(seq)...)
		return nil
	}
	var err error
	if w.umi, err = index.AppendReverseComplement(w.umi, f.Slice(seq)); err != nil {
		return fmt.Errorf("%w: UMI: %w", ErrFormat, err)
	}
	return nil
}

// count records the statistics of one read. The barcode read is split into
// its sequence part and the trailing barcode; single-end reads report the
// sequence part as R1.
func (w *worker) count(sample, mismatches int, qual, mateQual []byte) {
	w.reads++
	w.stats.AddRead(sample, mismatches)
	cut := len(qual) - w.s.barcodeLength
	body := report.R1
	if w.s.paired {
		body = report.R2
		w.stats.AddQuality(sample, report.R1, mateQual)
	}
	w.stats.AddQuality(sample, body, qual[:cut])
	w.stats.AddQuality(sample, report.R3, qual[cut:])
}

func (w *worker) checkUndetermined() error {
	w.undetermined++
	if w.reads <= undeterminedMinReads || w.undetermined*4 <= w.reads*3 {
		return nil
	}
	if !w.s.ignoreUndetermined {
		return fmt.Errorf("%w: %d of %d reads, check the template and sample sheet",
			ErrTooManyUndetermined, w.undetermined, w.reads)
	}
	w.s.warning.Do(func() {
		log.Warnf("%d of the first %d reads are undetermined, check the template and sample sheet",
			w.undetermined, w.reads)
	})
	return nil
}

// check validates the record layout. Base and quality contents are only
// checked in check-content mode.
func (w *worker) check(header, seq, plus, qual []byte) error {
	switch {
	case len(header) == 0 || header[0] != '@':
		return fmt.Errorf("%w: header %q does not start with '@'", ErrFormat, header)
	case len(plus) == 0 || plus[0] != '+':
		return fmt.Errorf("%w: record %q has no '+' separator", ErrFormat, header)
	case len(seq) != len(qual):
		return fmt.Errorf("%w: record %q has %d bases and %d qualities", ErrFormat, header, len(seq), len(qual))
	}
	if !w.s.checkContent {
		return nil
	}
	for _, b := range seq {
		if !index.IsReadBase(b) {
			return fmt.Errorf("%w: record %q has base %q", ErrFormat, header, b)
		}
	}
	if !fastq.ValidQuality(qual) {
		return fmt.Errorf("%w: record %q has a quality outside Phred+33", ErrFormat, header)
	}
	return nil
}

// putRecord writes one record into a sample buffer in place.
func putRecord(dst *output.SampleReads, header, seq, qual []byte) error {
	p, err := dst.Append(len(header) + len(seq) + len(qual) + 5)
	if err != nil {
		return err
	}
	i := copy(p, header)
	p[i] = '\n'
	i++
	i += copy(p[i:], seq)
	i += copy(p[i:], "\n+\n")
	i += copy(p[i:], qual)
	p[i] = '\n'
	return nil
}
