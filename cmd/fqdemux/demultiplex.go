package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/vertti/fastqdemux/internal/config"
	"github.com/vertti/fastqdemux/internal/demux"
	"github.com/vertti/fastqdemux/internal/report"
)

// configFlags registers flags over config fields and remembers how to copy
// each one onto a loaded configuration.
type configFlags struct {
	cmd   *cobra.Command
	apply map[string]func(*config.Config)
}

func (f *configFlags) str(name, short, usage string, field func(*config.Config) *string) {
	v := new(string)
	f.cmd.Flags().StringVarP(v, name, short, *field(config.Default()), usage)
	f.apply[name] = func(c *config.Config) { *field(c) = *v }
}

func (f *configFlags) integer(name, usage string, field func(*config.Config) *int) {
	v := new(int)
	f.cmd.Flags().IntVar(v, name, *field(config.Default()), usage)
	f.apply[name] = func(c *config.Config) { *field(c) = *v }
}

func (f *configFlags) boolean(name, usage string, field func(*config.Config) *bool) {
	v := new(bool)
	f.cmd.Flags().BoolVar(v, name, *field(config.Default()), usage)
	f.apply[name] = func(c *config.Config) { *field(c) = *v }
}

// resolve loads the config file, if any, and applies the flags given on
// the command line.
func (f *configFlags) resolve(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	for name, apply := range f.apply {
		if f.cmd.Flags().Changed(name) {
			apply(cfg)
		}
	}
	return cfg, cfg.Validate()
}

func newDemultiplexCommand() *cobra.Command {
	var configPath string
	var noProgress bool
	cmd := &cobra.Command{
		Use:     "demultiplex",
		Aliases: []string{"demux"},
		Short:   "Split reads into per-sample files",
		Args:    cobra.NoArgs,
	}
	f := &configFlags{cmd: cmd, apply: make(map[string]func(*config.Config))}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML configuration file, flags override it")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "do not draw a progress bar")

	f.str("sample-sheet", "s", "sample sheet with sample_id, i7 and optional i5, template, i7_rc, i5_rc, job_number", func(c *config.Config) *string { return &c.SampleSheet })
	f.str("input", "i", "directory holding the read files", func(c *config.Config) *string { return &c.InputDir })
	f.str("read1", "f", "mate read file, or the only read file of single-end input", func(c *config.Config) *string { return &c.Read1 })
	f.str("read2", "r", "barcode read file of paired input", func(c *config.Config) *string { return &c.Read2 })
	f.str("r1-suffix", "", "suffix of the mate read file in --input", func(c *config.Config) *string { return &c.R1Suffix })
	f.str("r2-suffix", "", "suffix of the barcode read file in --input", func(c *config.Config) *string { return &c.R2Suffix })
	f.str("info-file", "", "run information file (default: BioInfo.csv next to the reads)", func(c *config.Config) *string { return &c.InfoFile })
	f.str("lane", "", "lane name such as L01 (default: from the file name or header)", func(c *config.Config) *string { return &c.Lane })
	f.str("instrument", "", "instrument id for Illumina headers", func(c *config.Config) *string { return &c.Instrument })
	f.str("run", "", "run id for Illumina headers", func(c *config.Config) *string { return &c.RunID })
	f.boolean("not-mgi", "headers do not follow the MGI layout", func(c *config.Config) *bool { return &c.NonMGI })

	f.str("template", "", "barcode template for every sample, such as i78:--2:um10", func(c *config.Config) *string { return &c.Template })
	f.boolean("i7-rc", "reverse complement i7 of the general template", func(c *config.Config) *bool { return &c.I7RC })
	f.boolean("i5-rc", "reverse complement i5 of the general template", func(c *config.Config) *bool { return &c.I5RC })
	f.integer("mismatches", "allowed mismatches", func(c *config.Config) *int { return &c.Mismatches })
	f.boolean("per-index", "allow the mismatches on i7 and i5 separately", func(c *config.Config) *bool { return &c.PerIndex })
	f.boolean("comprehensive-scan", "check every template even after a match", func(c *config.Config) *bool { return &c.Comprehensive })
	f.str("undetermined-label", "", "name of the unmatched reads sample", func(c *config.Config) *string { return &c.UndeterminedLabel })
	f.str("ambiguous-label", "", "name of the ambiguous reads sample", func(c *config.Config) *string { return &c.AmbiguousLabel })

	f.str("output", "o", "output directory (default: fqdemux_<time>)", func(c *config.Config) *string { return &c.OutputDir })
	f.str("reports", "", "report directory (default: the output directory)", func(c *config.Config) *string { return &c.ReportDir })
	f.boolean("disable-illumina", "keep MGI headers and file names", func(c *config.Config) *bool { return &c.DisableIllumina })
	f.boolean("keep-barcode", "keep the barcode bases in the reads", func(c *config.Config) *bool { return &c.KeepBarcode })
	f.boolean("full-header", "append barcode and UMI to MGI headers", func(c *config.Config) *bool { return &c.FullHeader })
	f.boolean("check-content", "validate bases, qualities and read pairing", func(c *config.Config) *bool { return &c.CheckContent })
	f.boolean("ignore-undetermined", "continue when most reads are undetermined", func(c *config.Config) *bool { return &c.IgnoreUndetermined })
	f.boolean("force", "replace existing output", func(c *config.Config) *bool { return &c.Force })

	f.integer("cpus", "CPUs to use (default: all)", func(c *config.Config) *int { return &c.CPUs })
	f.str("memory", "m", "memory to use, such as 16G (default: all free memory)", func(c *config.Config) *string { return &c.Memory })
	f.str("writing-buffer", "", "compressed bytes per sample before a file write", func(c *config.Config) *string { return &c.WritingBuffer })
	f.str("compression-buffer", "", "read bytes per sample before compression", func(c *config.Config) *string { return &c.CompressionBuffer })
	f.integer("compression-level", "gzip level 0-9", func(c *config.Config) *int { return &c.CompressionLevel })
	f.integer("batch-records", "records per input buffer (default: sized from memory)", func(c *config.Config) *int { return &c.BatchRecords })

	f.integer("report-level", "0: info, 1: plus stats, 2: plus barcode lists", func(c *config.Config) *int { return &c.ReportLevel })
	f.integer("report-limit", "barcodes in the short barcode reports", func(c *config.Config) *int { return &c.ReportLimit })

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := f.resolve(configPath)
		if err != nil {
			return err
		}
		opts, err := cfg.DemuxOptions()
		if err != nil {
			return err
		}

		var bar *mpb.Bar
		var progress *mpb.Progress
		if !noProgress && log.IsLevelEnabled(log.InfoLevel) {
			progress = mpb.NewWithContext(cmd.Context(), mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
			bar = progress.AddBar(0,
				mpb.PrependDecorators(decor.Name("reads: "), decor.CurrentNoUnit("%d")),
				mpb.AppendDecorators(decor.AverageSpeed(0, " %.0f/s"), decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace)),
			)
			opts.Progress = func(n int) { bar.IncrBy(n) }
		}

		res, err := demux.Run(cmd.Context(), opts)
		if bar != nil {
			if err != nil {
				bar.Abort(false)
			} else {
				bar.SetTotal(-1, true)
			}
			progress.Wait()
		}
		if err != nil {
			return err
		}

		saved := filepath.Join(res.Run.ReportDir, report.Prefix(res.Run.Flowcell(), res.Run.Lane)+"config.toml")
		if err := cfg.Save(saved); err != nil {
			return err
		}
		log.Infof("%s reads in %s, settings saved to %s",
			humanize.Comma(int64(res.Report.Total())), res.Elapsed.Round(time.Millisecond), saved) //nolint:gosec // read counts fit int64
		return nil
	}
	return cmd
}
