package output

import (
	"fmt"

	"github.com/vertti/fastqdemux/internal/samplesheet"
)

// FileNames returns the mate and barcode-read file names for a sample.
// Illumina names carry the sample number except for Undetermined and
// Ambiguous.
func FileNames(s samplesheet.Sample, lane string, illumina, paired bool) (mate, barcode string) {
	barcodeRead := "R1"
	if paired {
		barcodeRead = "R2"
	}
	switch {
	case illumina && s.Synthetic():
		return fmt.Sprintf("%s_%s_R1_001.fastq.gz", s.Name, lane),
			fmt.Sprintf("%s_%s_%s_001.fastq.gz", s.Name, lane, barcodeRead)
	case illumina:
		return fmt.Sprintf("%s_S%d_%s_R1_001.fastq.gz", s.Name, s.Number, lane),
			fmt.Sprintf("%s_S%d_%s_%s_001.fastq.gz", s.Name, s.Number, lane, barcodeRead)
	default:
		return fmt.Sprintf("%s_%s_R1.fastq.gz", s.Name, lane),
			fmt.Sprintf("%s_%s_%s.fastq.gz", s.Name, lane, barcodeRead)
	}
}
