// Package runinfo discovers run metadata: input files, instrument, run id,
// flowcell, lane and read geometry.
package runinfo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shenwei356/xopen"
	log "github.com/sirupsen/logrus"

	"github.com/vertti/fastqdemux/internal/fastq"
	"github.com/vertti/fastqdemux/internal/pipeline"
)

// InfoFileName is the run information file written next to MGI reads.
const InfoFileName = "BioInfo.csv"

// Default suffixes used to find reads inside an input directory.
const (
	DefaultR1Suffix = "_read_1.fq.gz"
	DefaultR2Suffix = "_read_2.fq.gz"
)

// ErrMissingMetadata is returned when Illumina output lacks run metadata.
var ErrMissingMetadata = errors.New("missing run metadata")

// ReadInfo describes the first record of an input file.
type ReadInfo struct {
	SequenceLength int
	RecordLength   int // whole record including newlines
	LPosition      int // position of the lane marker 'L' in the header
	Flowcell       string
	Lane           string
}

// Options configures Discover.
type Options struct {
	InputDir   string
	Read1      string // mate read, or the barcode read when Read2 is empty
	Read2      string // barcode read of paired input
	R1Suffix   string
	R2Suffix   string
	InfoFile   string
	Lane       string
	Instrument string
	RunID      string
	OutputDir  string
	ReportDir  string
	Force      bool

	NonMGI         bool // headers lack the MGI flowcell/lane layout
	IlluminaFormat bool
}

// Run holds everything known about the run before demultiplexing starts.
type Run struct {
	BarcodeReads string
	PairedReads  string // empty for single-end input
	OutputDir    string
	ReportDir    string
	Lane         string
	Instrument   string
	RunID        string
	MGIData      bool

	Barcode ReadInfo
	Mate    ReadInfo
}

// Discover resolves inputs and metadata, prepares the output directories and
// inspects the first record of each input.
func Discover(opts Options) (*Run, error) {
	if opts.IlluminaFormat && opts.NonMGI {
		return nil, errors.New("illumina output requires MGI formatted input headers")
	}

	r := &Run{MGIData: !opts.NonMGI}
	var err error
	if opts.InputDir != "" {
		r.PairedReads, r.BarcodeReads, err = readsFromDir(opts.InputDir, opts.R1Suffix, opts.R2Suffix)
	} else {
		r.PairedReads, r.BarcodeReads, err = assignReads(opts.Read1, opts.Read2)
	}
	if err != nil {
		return nil, err
	}

	if opts.Instrument == "" || opts.RunID == "" {
		info := findInfoFile(opts.InfoFile, opts.InputDir, r.BarcodeReads)
		if info != "" {
			r.Instrument, r.RunID, err = ParseInfoFile(info)
			if err != nil {
				return nil, err
			}
		}
	}
	if opts.Instrument != "" {
		r.Instrument = opts.Instrument
	}
	if opts.RunID != "" {
		r.RunID = opts.RunID
	}

	if r.Barcode, err = Inspect(r.BarcodeReads, r.MGIData); err != nil {
		return nil, err
	}
	if r.PairedReads != "" {
		if r.Mate, err = Inspect(r.PairedReads, false); err != nil {
			return nil, err
		}
	}

	r.Lane = opts.Lane
	if r.Lane == "" {
		r.Lane = LaneFromFileName(r.BarcodeReads)
	}
	if r.Lane == "" {
		r.Lane = r.Barcode.Lane
	} else if r.Barcode.Lane != "" && r.Barcode.Lane != r.Lane {
		log.Warnf("lane %s in the read header does not match lane %s", r.Barcode.Lane, r.Lane)
	}

	if opts.IlluminaFormat {
		if _, err := r.IlluminaPrefix(); err != nil {
			return nil, err
		}
	}

	if r.OutputDir, r.ReportDir, err = prepareDirs(opts.OutputDir, opts.ReportDir, opts.Force); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"barcode_reads": r.BarcodeReads,
		"paired_reads":  r.PairedReads,
		"lane":          r.Lane,
		"flowcell":      r.Flowcell(),
		"instrument":    r.Instrument,
		"run":           r.RunID,
	}).Info("run metadata")
	return r, nil
}

// Paired reports whether a mate read file is present.
func (r *Run) Paired() bool {
	return r.PairedReads != ""
}

// Flowcell returns the flowcell detected from the barcode read header.
func (r *Run) Flowcell() string {
	return r.Barcode.Flowcell
}

// Read2HasSequence reports whether the barcode read carries bases beyond the
// barcode itself.
func (r *Run) Read2HasSequence(barcodeLength int) bool {
	return r.Barcode.SequenceLength > barcodeLength
}

// IlluminaPrefix returns "@instrument:run:flowcell:".
func (r *Run) IlluminaPrefix() (string, error) {
	if r.Instrument == "" || r.RunID == "" || r.Flowcell() == "" {
		return "", fmt.Errorf("%w: instrument %q, run %q, flowcell %q",
			ErrMissingMetadata, r.Instrument, r.RunID, r.Flowcell())
	}
	return "@" + r.Instrument + ":" + r.RunID + ":" + r.Flowcell() + ":", nil
}

func assignReads(r1, r2 string) (paired, barcode string, err error) {
	if r2 == "" {
		barcode = r1
	} else {
		paired, barcode = r1, r2
		if paired == "" {
			return "", "", errors.New("paired input needs both read files")
		}
		if err := checkFile(paired); err != nil {
			return "", "", err
		}
	}
	if barcode == "" {
		return "", "", errors.New("no input reads given")
	}
	if err := checkFile(barcode); err != nil {
		return "", "", err
	}
	if paired != "" {
		log.Infof("paired-end input: mate %s, barcode read %s", paired, barcode)
	} else {
		log.Infof("single-end input: %s", barcode)
	}
	return paired, barcode, nil
}

func readsFromDir(dir, r1Suffix, r2Suffix string) (string, string, error) {
	if r1Suffix == "" {
		r1Suffix = DefaultR1Suffix
	}
	if r2Suffix == "" {
		r2Suffix = DefaultR2Suffix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("reading input directory: %w", err)
	}
	var r1, r2 string
	for _, e := range entries {
		switch name := e.Name(); {
		case strings.HasSuffix(name, r1Suffix):
			r1 = filepath.Join(dir, name)
		case strings.HasSuffix(name, r2Suffix):
			r2 = filepath.Join(dir, name)
		}
	}
	if r1 == "" && r2 == "" {
		return "", "", fmt.Errorf("no files ending with %s or %s in %s", r1Suffix, r2Suffix, dir)
	}
	return assignReads(r1, r2)
}

func checkFile(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("input %s: %w", path, err)
	}
	if st.IsDir() {
		return fmt.Errorf("input %s is a directory", path)
	}
	return nil
}

func findInfoFile(explicit, inputDir, reads string) string {
	candidates := []string{explicit}
	if inputDir != "" {
		candidates = append(candidates, filepath.Join(inputDir, InfoFileName))
	}
	candidates = append(candidates, filepath.Join(filepath.Dir(reads), InfoFileName))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c
		}
	}
	return ""
}

// ParseInfoFile extracts the instrument id and the run id (sequencing date
// and time digits) from an MGI run information file.
func ParseInfoFile(path string) (instrument, run string, err error) {
	r, err := xopen.Ropen(path)
	if err != nil {
		return "", "", fmt.Errorf("opening info file: %w", err)
	}
	defer r.Close() //nolint:errcheck // read-only

	var date, clock string
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			key, value, ok := strings.Cut(strings.TrimSpace(line), ",")
			if ok {
				value = strings.TrimSpace(value)
				switch {
				case key == "Machine ID":
					instrument = value
				case strings.HasPrefix(key, "Sequence Date"), strings.HasPrefix(key, "Sequence Start Date"):
					date = strings.ReplaceAll(value, "-", "")
				case strings.HasPrefix(key, "Sequence Time"), strings.HasPrefix(key, "Sequence Start Time"):
					clock = strings.ReplaceAll(value, ":", "")
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", "", err
		}
	}
	return instrument, date + clock, nil
}

// LaneFromFileName returns the "L0<n>" component of an MGI file name such as
// FLOWCELL_L01_read_1.fq.gz, or "" when absent.
func LaneFromFileName(path string) string {
	parts := strings.Split(filepath.Base(path), "_")
	if len(parts) > 1 && strings.HasPrefix(parts[1], "L0") {
		return parts[1]
	}
	return ""
}

// FlowcellLane parses an MGI header such as "@V350000001L1C001R0010000001/1".
// It returns the flowcell, the position of the lane marker and the lane name.
func FlowcellLane(header []byte) (flowcell string, lPos int, lane string, err error) {
	lPos = bytes.LastIndexByte(header, 'L')
	if lPos <= 1 || lPos+1 >= len(header) {
		return "", 0, "", fmt.Errorf("cannot find the flowcell in header %q", header)
	}
	flowcell = string(header[1:lPos])
	digit := header[lPos+1]
	if !strings.ContainsRune("1234", rune(digit)) {
		log.Warnf("lane %q in header %q is not one of 1, 2, 3 or 4", digit, header)
	}
	return flowcell, lPos, "L0" + string(digit), nil
}

// Inspect reads the first record of path. MGI headers also yield flowcell
// and lane; otherwise the flowcell is a timestamp.
func Inspect(path string, mgi bool) (ReadInfo, error) {
	var info ReadInfo
	in, cleanup, err := pipeline.OpenInput(path)
	if err != nil {
		return info, err
	}
	defer cleanup()

	rec, err := fastq.NewReader(in).Next()
	if err != nil {
		return info, fmt.Errorf("reading first record of %s: %w", path, err)
	}
	if !bytes.Equal(rec.Plus, []byte("+")) {
		return info, fmt.Errorf("%s: separator line must be exactly '+', found %q", path, rec.Plus)
	}
	info.SequenceLength = len(rec.Sequence)
	info.RecordLength = rec.Size()

	if !mgi {
		info.Flowcell = time.Now().Format("20060102T150405")
		return info, nil
	}
	info.Flowcell, info.LPosition, info.Lane, err = FlowcellLane(rec.Header)
	if err != nil {
		return info, err
	}
	log.Infof("detected flowcell %s and lane %s from %s", info.Flowcell, info.Lane, filepath.Base(path))
	return info, nil
}

func prepareDirs(output, report string, force bool) (string, string, error) {
	if output == "" {
		output = "fqdemux_" + time.Now().Format("20060102T150405")
	}
	sameDir := report == ""
	if sameDir {
		report = output
	}

	for i, dir := range []string{output, report} {
		if i == 1 && sameDir {
			break
		}
		if st, err := os.Stat(dir); err == nil {
			if !st.IsDir() {
				return "", "", fmt.Errorf("%s exists and is not a directory", dir)
			}
			if !force {
				return "", "", fmt.Errorf("directory %s exists, use --force to overwrite its data", dir)
			}
			log.Infof("directory %s exists, data will be overwritten", dir)
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // output directories are meant to be shared
			return "", "", fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return output, report, nil
}
