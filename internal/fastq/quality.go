package fastq

// Phred+33 quality range.
const (
	Phred33Offset = 33
	MaxQuality    = 126
)

// HighQualityByte is the smallest quality byte counted as Q30 or better.
const HighQualityByte = Phred33Offset + 30

// QualityStats returns the number of bytes at or above HighQualityByte and
// the sum of raw quality bytes. Callers subtract the Phred offset once per
// base when reporting.
func QualityStats(qual []byte) (high, sum uint64) {
	for _, q := range qual {
		if q >= HighQualityByte {
			high++
		}
		sum += uint64(q)
	}
	return high, sum
}

// ValidQuality reports whether every byte is a printable Phred+33 score.
func ValidQuality(qual []byte) bool {
	for _, q := range qual {
		if q < Phred33Offset || q > MaxQuality {
			return false
		}
	}
	return true
}
