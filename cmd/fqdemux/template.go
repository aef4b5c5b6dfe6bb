package main

import (
	"github.com/spf13/cobra"

	"github.com/vertti/fastqdemux/internal/detect"
	"github.com/vertti/fastqdemux/internal/samplesheet"
)

func newTemplateCommand() *cobra.Command {
	var sheet, output string
	var opts detect.Options
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Detect the barcode template from the first reads",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			rows, err := samplesheet.Load(sheet)
			if err != nil {
				return err
			}
			if opts.BarcodeReads == "" {
				opts.BarcodeReads, opts.MateReads = opts.MateReads, ""
			}
			res, err := detect.Detect(rows, opts)
			if err != nil {
				return err
			}
			return res.Write(output)
		},
	}
	cmd.Flags().StringVarP(&sheet, "sample-sheet", "s", "", "sample sheet with sample_id, i7 and optional i5")
	cmd.Flags().StringVarP(&opts.MateReads, "read1", "f", "", "mate read file, or the only read file of single-end input")
	cmd.Flags().StringVarP(&opts.BarcodeReads, "read2", "r", "", "barcode read file of paired input")
	cmd.Flags().StringVarP(&output, "output", "o", "fqdemux", "prefix of the _template.tsv and _details.tsv files")
	cmd.Flags().IntVar(&opts.Reads, "reads", detect.DefaultReads, "reads to sample")
	cmd.Flags().IntVar(&opts.BarcodeLength, "barcode-length", 0, "barcode length (default: read length difference)")
	cmd.Flags().BoolVar(&opts.UMI, "umi", false, "report a gap in the barcode as UMI")
	cmd.Flags().IntVar(&opts.MaxUMILength, "max-umi-length", detect.DefaultMaxUMILength, "longest gap reported as UMI")
	cmd.Flags().BoolVar(&opts.Popular, "popular", false, "give every sample the most frequent template")
	_ = cmd.MarkFlagRequired("sample-sheet")
	_ = cmd.MarkFlagRequired("read1")
	return cmd
}
