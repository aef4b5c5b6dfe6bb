package demux

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/vertti/fastqdemux/internal/output"
	"github.com/vertti/fastqdemux/internal/pipeline"
	"github.com/vertti/fastqdemux/internal/report"
	"github.com/vertti/fastqdemux/internal/resources"
	"github.com/vertti/fastqdemux/internal/runinfo"
	"github.com/vertti/fastqdemux/internal/samplesheet"
)

// Default output buffer sizes.
const (
	DefaultWritingBuffer     = 64 << 20
	DefaultCompressionBuffer = 128 << 10
)

// readerMemory bounds the reader buffers when the batch size is derived.
const readerMemory = 512 << 20

// Options configures Run. Zero values select the defaults, except
// CompressionLevel where 0 stores reads uncompressed.
type Options struct {
	SampleSheet string
	Sheet       samplesheet.Options
	Run         runinfo.Options

	CPUs              int    // 0 = runtime.NumCPU()
	Memory            uint64 // bytes; 0 = all free memory
	WritingBuffer     int
	CompressionBuffer int
	CompressionLevel  int
	BatchRecords      int // records per reader buffer; 0 = sized from memory

	KeepBarcode        bool // keep the barcode bases in real sample reads
	FullHeader         bool // append barcode and UMI to MGI headers
	Comprehensive      bool // check every template even after a match
	PerIndex           bool // allowed mismatches apply to i7 and i5 separately
	CheckContent       bool
	IgnoreUndetermined bool

	ReportLevel int
	ReportLimit int

	// Progress, if set, receives the record count of every batch handed to
	// the workers.
	Progress func(records int)
}

// Result describes a finished run.
type Result struct {
	Run     *runinfo.Run
	Samples *samplesheet.Samples
	Report  *report.Manager
	Elapsed time.Duration
}

// Run demultiplexes the configured inputs and writes reads and reports.
func Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	rows, err := samplesheet.Load(opts.SampleSheet)
	if err != nil {
		return nil, err
	}
	table, samples, err := samplesheet.Build(rows, opts.Sheet)
	if err != nil {
		return nil, err
	}
	run, err := runinfo.Discover(opts.Run)
	if err != nil {
		return nil, err
	}
	if run.Barcode.SequenceLength < table.BarcodeLength {
		return nil, fmt.Errorf("%w: barcode reads of %d bases cannot hold a %d base barcode",
			ErrFormat, run.Barcode.SequenceLength, table.BarcodeLength)
	}

	cpus := opts.CPUs
	if cpus <= 0 {
		cpus = runtime.NumCPU()
	}
	readers, workers := resources.SplitCPUs(cpus, run.Paired())
	recordLength := max(run.Barcode.RecordLength, run.Mate.RecordLength)

	info, err := bufferInfo(opts, recordLength)
	if err != nil {
		return nil, err
	}
	writers := len(samples.Writers())
	if err := fitMemory(&info, opts.Memory, writers, workers, run.Paired()); err != nil {
		return nil, err
	}

	set := output.NewSet(samples, output.Options{
		Dir:           run.OutputDir,
		Lane:          run.Lane,
		Illumina:      opts.Run.IlluminaFormat,
		Paired:        run.Paired(),
		BarcodeOutput: !run.Paired() || opts.KeepBarcode || run.Read2HasSequence(table.BarcodeLength),
	})
	if err := set.Prepare(opts.Run.Force); err != nil {
		return nil, err
	}

	s := &settings{
		matcher:            NewMatcher(table, samples, opts.Comprehensive, opts.PerIndex),
		barcodeLength:      table.BarcodeLength,
		undetermined:       samples.Undetermined,
		synthetic:          make([]bool, samples.Len()),
		keepBarcode:        opts.KeepBarcode,
		fullHeader:         opts.FullHeader,
		checkContent:       opts.CheckContent,
		ignoreUndetermined: opts.IgnoreUndetermined,
		paired:             run.Paired(),
		report:             report.NewManager(samples.Len(), table.Allowed, opts.ReportLevel >= report.LevelBarcodes),
	}
	for i, smp := range samples.List {
		s.synthetic[i] = smp.Synthetic()
	}
	if opts.Run.IlluminaFormat {
		prefix, err := run.IlluminaPrefix()
		if err != nil {
			return nil, err
		}
		s.prefix, s.lPos = []byte(prefix), run.Barcode.LPosition
	}

	ws := make([]pipeline.Worker, workers)
	for i := range ws {
		data, err := set.NewWorkerData(info)
		if err != nil {
			return nil, err
		}
		stats := report.NewManager(samples.Len(), table.Allowed, opts.ReportLevel >= report.LevelBarcodes)
		ws[i] = newWorker(s, data, stats)
	}

	if err := process(ctx, run, opts, readers, workers, recordLength, ws); err != nil {
		return nil, err
	}

	err = s.report.Write(samples, report.Options{
		Dir:             run.ReportDir,
		Flowcell:        run.Flowcell(),
		Lane:            run.Lane,
		Level:           opts.ReportLevel,
		Limit:           opts.ReportLimit,
		MismatchColumns: s.matcher.MismatchColumns(),
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Run: run, Samples: samples, Report: s.report, Elapsed: time.Since(start)}
	total := s.report.Total()
	log.WithFields(log.Fields{
		"reads":        humanize.Comma(int64(total)), //nolint:gosec // read counts fit
		"undetermined": humanize.Comma(int64(s.report.Reads(samples.Undetermined))),
		"ambiguous":    humanize.Comma(int64(s.report.Reads(samples.Ambiguous))),
		"elapsed":      res.Elapsed.Round(time.Millisecond),
	}).Info("demultiplexing finished")
	return res, nil
}

func bufferInfo(opts Options, recordLength int) (output.BufferInfo, error) {
	writing, compression := opts.WritingBuffer, opts.CompressionBuffer
	if writing <= 0 {
		writing = DefaultWritingBuffer
	}
	if compression <= 0 {
		compression = DefaultCompressionBuffer
	}
	// rewritten headers grow, so leave room for a record well past the first
	return output.NewBufferInfo(writing, compression, opts.CompressionLevel, 4*recordLength+1024)
}

// fitMemory shrinks the writing buffer when every worker's buffers would
// not fit in memory.
func fitMemory(info *output.BufferInfo, requested uint64, writers, workers int, paired bool) error {
	available, err := resources.AvailableMemory(requested)
	if errors.Is(err, resources.ErrInsufficientMemory) {
		return err
	}
	if err != nil {
		log.Warnf("%v: output buffers are not checked against memory", err)
		return nil
	}

	writing := uint64(info.WritingBuffer)         //nolint:gosec // positive
	compression := uint64(info.CompressionBuffer) //nolint:gosec // positive

	required := resources.RequiredMemory(writers, writing, compression, paired) * uint64(workers) //nolint:gosec // positive
	if required <= available {
		log.Debugf("output buffers need %s of %s", bytefmt.ByteSize(required), bytefmt.ByteSize(available))
		return nil
	}
	largest := resources.LargestBufferSize(available, writers, compression, !paired, workers)
	if largest < output.MinWritingBuffer {
		return fmt.Errorf("%w: %d samples on %d workers need %s, %s available",
			resources.ErrInsufficientMemory, writers, workers, bytefmt.ByteSize(required), bytefmt.ByteSize(available))
	}
	if err := info.Shrink(int(largest)); err != nil { //nolint:gosec // below MaxWritingBuffer
		return fmt.Errorf("%w: %w", resources.ErrInsufficientMemory, err)
	}
	return nil
}

// process opens the inputs and runs the pipeline over them.
func process(ctx context.Context, run *runinfo.Run, opts Options, readers, workers, recordLength int, ws []pipeline.Worker) error {
	inputs := 1
	if run.Paired() {
		inputs = 2
	}
	readAhead := readers / inputs

	r, closeBarcode, err := pipeline.OpenInputN(run.BarcodeReads, readAhead)
	if err != nil {
		return err
	}
	defer closeBarcode()
	barcode := &pipeline.Input{Name: run.BarcodeReads, Reader: r, RecordLength: run.Barcode.RecordLength}

	var mate *pipeline.Input
	if run.Paired() {
		mr, closeMate, err := pipeline.OpenInputN(run.PairedReads, readAhead)
		if err != nil {
			return err
		}
		defer closeMate()
		mate = &pipeline.Input{Name: run.PairedReads, Reader: mr, RecordLength: run.Mate.RecordLength}
	}

	poolSize := workers * 2
	batch := opts.BatchRecords
	if batch <= 0 {
		batch = resources.BatchRecords(readerMemory, poolSize*inputs, recordLength)
	}
	log.WithFields(log.Fields{
		"readers": readers,
		"workers": workers,
		"batch":   batch,
	}).Info("starting demultiplexing")

	p := pipeline.New(barcode, mate, workers, pipeline.Options{
		BatchRecords: batch,
		PoolSize:     poolSize,
		OnBatch:      opts.Progress,
	})
	return p.Run(ctx, barcode, mate, ws)
}
