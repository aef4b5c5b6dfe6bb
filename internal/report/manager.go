// Package report collects per-sample demultiplexing statistics and writes
// them as tab separated report files.
package report

import (
	"github.com/vertti/fastqdemux/internal/fastq"
)

// Read identifies which part of a record a quality line belongs to.
type Read int

// R1 is the mate read, R2 the barcode read without its barcode and R3 the
// barcode itself.
const (
	R1 Read = iota
	R2
	R3
)

// Columns of Stats, in sample_stats order.
const (
	R1HighQuality = iota
	R2HighQuality
	R3HighQuality
	R1Bases
	R2Bases
	R3Bases
	R1Quality
	R2Quality
	R3Quality
	Reads
	StatCount
)

// Stats are the raw counters of one sample. Quality sums are Phred scores.
type Stats [StatCount]uint64

func (s *Stats) add(o *Stats) {
	for i := range s {
		s[i] += o[i]
	}
}

// Manager accumulates statistics for every sample. Each worker owns one and
// the run merges them at the end.
type Manager struct {
	stats        []Stats
	mismatches   [][]uint64
	undetermined map[string]uint64
	ambiguous    map[string]uint64
	barcodes     bool
}

// NewManager sizes a manager for samples samples and a mismatch histogram
// able to hold the summed distance of two indexes. trackBarcodes enables the
// undetermined and ambiguous barcode counts.
func NewManager(samples, allowed int, trackBarcodes bool) *Manager {
	m := &Manager{
		stats:      make([]Stats, samples),
		mismatches: make([][]uint64, samples),
		barcodes:   trackBarcodes,
	}
	for i := range m.mismatches {
		m.mismatches[i] = make([]uint64, 2*allowed+1)
	}
	if trackBarcodes {
		m.undetermined = make(map[string]uint64)
		m.ambiguous = make(map[string]uint64)
	}
	return m
}

// AddRead counts one read for sample at the given distance.
func (m *Manager) AddRead(sample, mismatches int) {
	m.stats[sample][Reads]++
	m.mismatches[sample][mismatches]++
}

// AddQuality adds a quality line of read r to sample.
func (m *Manager) AddQuality(sample int, r Read, qual []byte) {
	high, sum := fastq.QualityStats(qual)
	n := uint64(len(qual))
	s := &m.stats[sample]
	s[R1HighQuality+int(r)] += high
	s[R1Bases+int(r)] += n
	s[R1Quality+int(r)] += sum - n*fastq.Phred33Offset
}

// AddUndetermined counts an unmatched barcode.
func (m *Manager) AddUndetermined(barcode []byte) {
	if m.barcodes {
		m.undetermined[string(barcode)]++
	}
}

// AddAmbiguous counts a barcode matching several samples equally well.
func (m *Manager) AddAmbiguous(barcode []byte) {
	if m.barcodes {
		m.ambiguous[string(barcode)]++
	}
}

// Merge adds o into m. Both must be sized for the same run.
func (m *Manager) Merge(o *Manager) {
	for i := range m.stats {
		m.stats[i].add(&o.stats[i])
		for j, v := range o.mismatches[i] {
			m.mismatches[i][j] += v
		}
	}
	for k, v := range o.undetermined {
		m.undetermined[k] += v
	}
	for k, v := range o.ambiguous {
		m.ambiguous[k] += v
	}
}

// Reads returns the reads assigned to sample.
func (m *Manager) Reads(sample int) uint64 {
	return m.stats[sample][Reads]
}

// Total returns the reads seen across all samples.
func (m *Manager) Total() uint64 {
	var total uint64
	for i := range m.stats {
		total += m.stats[i][Reads]
	}
	return total
}

// Stats returns the counters of sample.
func (m *Manager) Stats(sample int) Stats {
	return m.stats[sample]
}

// Mismatches returns the histogram of sample by mismatch count.
func (m *Manager) Mismatches(sample int) []uint64 {
	return m.mismatches[sample]
}

// Undetermined returns the unmatched barcode counts.
func (m *Manager) Undetermined() map[string]uint64 {
	return m.undetermined
}

// Ambiguous returns the ambiguous barcode counts.
func (m *Manager) Ambiguous() map[string]uint64 {
	return m.ambiguous
}
