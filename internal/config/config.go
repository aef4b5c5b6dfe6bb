// Package config holds the settings of a demultiplexing run. Values come
// from built-in defaults, an optional TOML file and command line flags, in
// that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pelletier/go-toml/v2"

	"github.com/vertti/fastqdemux/internal/demux"
	"github.com/vertti/fastqdemux/internal/index"
	"github.com/vertti/fastqdemux/internal/report"
	"github.com/vertti/fastqdemux/internal/runinfo"
	"github.com/vertti/fastqdemux/internal/samplesheet"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is every setting of a run. Sizes are strings such as "64M".
type Config struct {
	SampleSheet string `toml:"sample-sheet" comment:"Inputs"`
	InputDir    string `toml:"input-dir"`
	Read1       string `toml:"read1"`
	Read2       string `toml:"read2"`
	R1Suffix    string `toml:"r1-suffix"`
	R2Suffix    string `toml:"r2-suffix"`
	InfoFile    string `toml:"info-file"`
	Lane        string `toml:"lane"`
	Instrument  string `toml:"instrument"`
	RunID       string `toml:"run-id"`
	NonMGI      bool   `toml:"non-mgi"`

	Template          string `toml:"template" comment:"Matching"`
	I7RC              bool   `toml:"i7-rc"`
	I5RC              bool   `toml:"i5-rc"`
	Mismatches        int    `toml:"mismatches"`
	PerIndex          bool   `toml:"per-index-mismatches"`
	Comprehensive     bool   `toml:"comprehensive-scan"`
	UndeterminedLabel string `toml:"undetermined-label"`
	AmbiguousLabel    string `toml:"ambiguous-label"`

	OutputDir          string `toml:"output-dir" comment:"Output"`
	ReportDir          string `toml:"report-dir"`
	DisableIllumina    bool   `toml:"disable-illumina-format"`
	KeepBarcode        bool   `toml:"keep-barcode"`
	FullHeader         bool   `toml:"full-header"`
	CheckContent       bool   `toml:"check-content"`
	IgnoreUndetermined bool   `toml:"ignore-undetermined"`
	Force              bool   `toml:"force"`

	CPUs              int    `toml:"cpus" comment:"Resources"`
	Memory            string `toml:"memory"`
	WritingBuffer     string `toml:"writing-buffer"`
	CompressionBuffer string `toml:"compression-buffer"`
	CompressionLevel  int    `toml:"compression-level"`
	BatchRecords      int    `toml:"batch-records"`

	ReportLevel int `toml:"report-level" comment:"Reports"`
	ReportLimit int `toml:"report-limit"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Mismatches:        1,
		UndeterminedLabel: samplesheet.UndeterminedLabel,
		AmbiguousLabel:    samplesheet.AmbiguousLabel,
		WritingBuffer:     bytefmt.ByteSize(demux.DefaultWritingBuffer),
		CompressionBuffer: bytefmt.ByteSize(demux.DefaultCompressionBuffer),
		CompressionLevel:  1,
		ReportLevel:       report.LevelStats,
		ReportLimit:       report.DefaultLimit,
	}
}

// Load reads a TOML file over the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path) //nolint:gosec // config path given by the user
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return c, nil
}

// Save writes the settings as TOML.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // reports are world readable
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks ranges and parses the sizes.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	check(c.SampleSheet != "", "a sample sheet is required")
	check(c.InputDir != "" || c.Read1 != "" || c.Read2 != "", "input reads or an input directory are required")
	check(c.Mismatches >= 0 && c.Mismatches <= index.MaxMismatches,
		"mismatches %d outside 0-%d", c.Mismatches, index.MaxMismatches)
	check(c.CompressionLevel >= 0 && c.CompressionLevel <= 9, "compression level %d outside 0-9", c.CompressionLevel)
	check(c.ReportLevel >= report.LevelInfo && c.ReportLevel <= report.LevelBarcodes,
		"report level %d outside %d-%d", c.ReportLevel, report.LevelInfo, report.LevelBarcodes)
	check(c.ReportLimit >= 0, "report limit %d is negative", c.ReportLimit)
	check(c.CPUs >= 0, "cpus %d is negative", c.CPUs)
	check(c.BatchRecords >= 0, "batch records %d is negative", c.BatchRecords)
	check(c.UndeterminedLabel != "" && c.AmbiguousLabel != "", "labels must not be empty")
	check(c.UndeterminedLabel != c.AmbiguousLabel, "undetermined and ambiguous labels are both %q", c.AmbiguousLabel)
	for name, v := range map[string]string{
		"memory":             c.Memory,
		"writing-buffer":     c.WritingBuffer,
		"compression-buffer": c.CompressionBuffer,
	} {
		if v == "" {
			continue
		}
		_, err := bytefmt.ToBytes(v)
		check(err == nil, "%s %q: %v", name, v, err)
	}
	return errors.Join(errs...)
}

// DemuxOptions converts the settings for demux.Run. Call Validate first.
func (c *Config) DemuxOptions() (demux.Options, error) {
	memory, err := size(c.Memory)
	if err != nil {
		return demux.Options{}, err
	}
	writing, err := size(c.WritingBuffer)
	if err != nil {
		return demux.Options{}, err
	}
	compression, err := size(c.CompressionBuffer)
	if err != nil {
		return demux.Options{}, err
	}
	return demux.Options{
		SampleSheet: c.SampleSheet,
		Sheet: samplesheet.Options{
			Template:          c.Template,
			I7RC:              c.I7RC,
			I5RC:              c.I5RC,
			AllowedMismatches: c.Mismatches,
			UndeterminedLabel: c.UndeterminedLabel,
			AmbiguousLabel:    c.AmbiguousLabel,
		},
		Run: runinfo.Options{
			InputDir:       c.InputDir,
			Read1:          c.Read1,
			Read2:          c.Read2,
			R1Suffix:       c.R1Suffix,
			R2Suffix:       c.R2Suffix,
			InfoFile:       c.InfoFile,
			Lane:           c.Lane,
			Instrument:     c.Instrument,
			RunID:          c.RunID,
			OutputDir:      c.OutputDir,
			ReportDir:      c.ReportDir,
			Force:          c.Force,
			NonMGI:         c.NonMGI,
			IlluminaFormat: !c.DisableIllumina,
		},
		CPUs:               c.CPUs,
		Memory:             memory,
		WritingBuffer:      int(writing),     //nolint:gosec // bounded by the output package
		CompressionBuffer:  int(compression), //nolint:gosec // bounded by the output package
		CompressionLevel:   c.CompressionLevel,
		BatchRecords:       c.BatchRecords,
		KeepBarcode:        c.KeepBarcode,
		FullHeader:         c.FullHeader,
		Comprehensive:      c.Comprehensive,
		PerIndex:           c.PerIndex,
		CheckContent:       c.CheckContent,
		IgnoreUndetermined: c.IgnoreUndetermined,
		ReportLevel:        c.ReportLevel,
		ReportLimit:        c.ReportLimit,
	}, nil
}

func size(v string) (uint64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := bytefmt.ToBytes(v)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q: %w", ErrInvalid, v, err)
	}
	return n, nil
}
