// fqsim writes synthetic MGI FASTQ files for a sample sheet. Reads carry
// their sample's indexes at the end of the barcode read, a share of them
// with one substituted base or a random barcode, so demultiplexing runs can
// be tested and benchmarked without real data.
package main

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vertti/fastqdemux/internal/samplesheet"
	"github.com/vertti/fastqdemux/internal/template"
)

const (
	exitSuccess = 0
	exitError   = 1
)

const bases = "ACGT"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newCommand()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		log.Errorf("%v", err)
		return exitError
	}
	return exitSuccess
}

type options struct {
	sheet        string
	template     string
	dir          string
	flowcell     string
	lane         int
	reads        int
	insert       int
	mate         int
	mismatchRate float64
	randomRate   float64
	level        int
	seed         uint64
}

func newCommand() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:           "fqsim",
		Short:         "Write synthetic MGI FASTQ files for a sample sheet",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return simulate(o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.sheet, "sample-sheet", "s", "", "sample sheet with sample_id, i7 and optional i5")
	f.StringVar(&o.template, "template", "", "barcode template for every sample")
	f.StringVarP(&o.dir, "output", "o", ".", "directory for the read files")
	f.StringVar(&o.flowcell, "flowcell", "V350000001", "flowcell id in headers and file names")
	f.IntVar(&o.lane, "lane", 1, "lane number 1-9")
	f.IntVarP(&o.reads, "reads", "n", 100000, "reads to write")
	f.IntVar(&o.insert, "insert", 50, "barcode read bases before the barcode")
	f.IntVar(&o.mate, "mate", 0, "mate read length, 0 for single-end output")
	f.Float64Var(&o.mismatchRate, "mismatch-rate", 0.1, "share of reads with one substituted i7 base")
	f.Float64Var(&o.randomRate, "random-rate", 0.02, "share of reads with a random barcode")
	f.IntVar(&o.level, "level", pgzip.BestSpeed, "gzip level")
	f.Uint64Var(&o.seed, "seed", 42, "random seed for reproducibility")
	_ = cmd.MarkFlagRequired("sample-sheet")
	return cmd
}

// target is the barcode of one sample as it appears in reads.
type target struct {
	layout template.Layout
	i7, i5 string
}

// counts tallies the kinds of reads written.
type counts struct {
	exact, mismatched, random int
}

func loadTargets(o options) ([]target, int, error) {
	rows, err := samplesheet.Load(o.sheet)
	if err != nil {
		return nil, 0, err
	}
	table, _, err := samplesheet.Build(rows, samplesheet.Options{Template: o.template})
	if err != nil {
		return nil, 0, err
	}
	var targets []target
	for _, t := range table.Templates {
		for _, i7 := range t.I7 {
			e := t.Entries[i7]
			if len(e.ByI5) == 0 {
				targets = append(targets, target{layout: t.Layout, i7: i7})
				continue
			}
			for _, i5 := range slices.Sorted(maps.Keys(e.ByI5)) {
				targets = append(targets, target{layout: t.Layout, i7: i7, i5: i5})
			}
		}
	}
	if len(targets) == 0 {
		return nil, 0, samplesheet.ErrEmpty
	}
	return targets, table.BarcodeLength, nil
}

func simulate(o options) error {
	if o.lane < 1 || o.lane > 9 {
		return fmt.Errorf("lane %d outside 1-9", o.lane)
	}
	if o.mismatchRate+o.randomRate > 1 || o.mismatchRate < 0 || o.randomRate < 0 {
		return fmt.Errorf("mismatch and random rates must be shares summing to at most 1")
	}
	targets, barcodeLength, err := loadTargets(o)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.dir, 0o750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	name := func(read int) string {
		return filepath.Join(o.dir, fmt.Sprintf("%s_L%02d_read_%d.fq.gz", o.flowcell, o.lane, read))
	}
	barcodePath := name(1)
	var mate *gzipFile
	if o.mate > 0 {
		barcodePath = name(2)
		if mate, err = createGzip(name(1), o.level); err != nil {
			return err
		}
		defer mate.Close()
	}
	barcodes, err := createGzip(barcodePath, o.level)
	if err != nil {
		return err
	}
	defer barcodes.Close()

	//nolint:gosec // intentionally using math/rand for reproducibility, not security
	rng := rand.New(rand.NewPCG(o.seed, o.seed))
	g := generator{rng: rng, targets: targets, barcodeLength: barcodeLength, opts: o}
	var mateWriter io.Writer
	if mate != nil {
		mateWriter = mate
	}
	c, err := g.write(barcodes, mateWriter)
	if err != nil {
		return err
	}
	if mate != nil {
		if err := mate.Close(); err != nil {
			return err
		}
	}
	if err := barcodes.Close(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"exact":      humanize.Comma(int64(c.exact)),
		"mismatched": humanize.Comma(int64(c.mismatched)),
		"random":     humanize.Comma(int64(c.random)),
		"samples":    len(targets),
	}).Infof("wrote %s", barcodePath)
	return nil
}

type generator struct {
	rng           *rand.Rand
	targets       []target
	barcodeLength int
	opts          options
}

func (g *generator) randomBases(dst []byte) {
	for i := range dst {
		dst[i] = bases[g.rng.IntN(len(bases))]
	}
}

func (g *generator) quality(dst []byte) {
	for i := range dst {
		dst[i] = byte('5' + g.rng.IntN('J'-'5'))
	}
}

// barcode fills dst with the barcode region of one read and reports which
// kind of read it is.
func (g *generator) barcode(dst []byte, c *counts) {
	g.randomBases(dst)
	roll := g.rng.Float64()
	if roll < g.opts.randomRate {
		c.random++
		return
	}
	t := g.targets[g.rng.IntN(len(g.targets))]
	place := func(f template.Field, seq string) {
		if f.Present {
			copy(dst[len(dst)-f.Offset:], seq)
		}
	}
	place(t.layout.I7, t.i7)
	place(t.layout.I5, t.i5)
	if roll < g.opts.randomRate+g.opts.mismatchRate {
		c.mismatched++
		pos := len(dst) - t.layout.I7.Offset + g.rng.IntN(t.layout.I7.Length)
		dst[pos] = bases[(strings.IndexByte(bases, dst[pos])+1+g.rng.IntN(len(bases)-1))%len(bases)]
		return
	}
	c.exact++
}

func (g *generator) write(barcodes, mate io.Writer) (counts, error) {
	var c counts
	bw := bufio.NewWriterSize(barcodes, 1<<20)
	var mw *bufio.Writer
	if mate != nil {
		mw = bufio.NewWriterSize(mate, 1<<20)
	}
	seq := make([]byte, g.opts.insert+g.barcodeLength)
	qual := make([]byte, max(len(seq), g.opts.mate))
	mateSeq := make([]byte, g.opts.mate)
	barcodeRead := 1
	if mw != nil {
		barcodeRead = 2
	}

	for i := range g.opts.reads {
		header := fmt.Sprintf("@%sL%dC%03dR001%07d", g.opts.flowcell, g.opts.lane, 1+i/10000000%1000, 1+i%10000000)
		g.randomBases(seq[:g.opts.insert])
		g.barcode(seq[g.opts.insert:], &c)
		g.quality(qual[:len(seq)])
		if _, err := fmt.Fprintf(bw, "%s/%d\n%s\n+\n%s\n", header, barcodeRead, seq, qual[:len(seq)]); err != nil {
			return c, fmt.Errorf("writing reads: %w", err)
		}
		if mw == nil {
			continue
		}
		g.randomBases(mateSeq)
		g.quality(qual[:len(mateSeq)])
		if _, err := fmt.Fprintf(mw, "%s/1\n%s\n+\n%s\n", header, mateSeq, qual[:len(mateSeq)]); err != nil {
			return c, fmt.Errorf("writing mates: %w", err)
		}
	}
	if mw != nil {
		if err := mw.Flush(); err != nil {
			return c, fmt.Errorf("writing mates: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return c, fmt.Errorf("writing reads: %w", err)
	}
	return c, nil
}

// gzipFile is a parallel gzip writer over a file. Close is idempotent.
type gzipFile struct {
	f  *os.File
	gz *pgzip.Writer
}

func createGzip(path string, level int) (*gzipFile, error) {
	f, err := os.Create(path) //nolint:gosec // output path given by the user
	if err != nil {
		return nil, fmt.Errorf("creating output: %w", err)
	}
	gz, err := pgzip.NewWriterLevel(f, level)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	return &gzipFile{f: f, gz: gz}, nil
}

func (g *gzipFile) Write(p []byte) (int, error) {
	return g.gz.Write(p)
}

func (g *gzipFile) Close() error {
	if g.f == nil {
		return nil
	}
	err := g.gz.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	g.f = nil
	return err
}
