// Package demux assigns FASTQ records to samples by their index sequences
// and writes every sample's reads to its own files.
package demux

import (
	"github.com/vertti/fastqdemux/internal/samplesheet"
)

// Outcome is the classification of one barcode read.
type Outcome struct {
	Sample     int
	Mismatches int
	Template   *samplesheet.Template // nil for Undetermined and Ambiguous
}

// Matcher classifies barcode reads against an index table. It is safe for
// concurrent use.
type Matcher struct {
	table         *samplesheet.Table
	undetermined  int
	ambiguous     int
	comprehensive bool
	perIndex      bool
}

// NewMatcher returns a matcher over table. comprehensive checks every
// template even after a match; perIndex applies the allowed distance to
// each index instead of their sum.
func NewMatcher(table *samplesheet.Table, samples *samplesheet.Samples, comprehensive, perIndex bool) *Matcher {
	return &Matcher{
		table:         table,
		undetermined:  samples.Undetermined,
		ambiguous:     samples.Ambiguous,
		comprehensive: comprehensive,
		perIndex:      perIndex,
	}
}

// MismatchColumns returns the number of distances a read can be assigned
// with.
func (m *Matcher) MismatchColumns() int {
	if m.perIndex {
		for _, t := range m.table.Templates {
			if t.HasI5 {
				return 2*m.table.Allowed + 1
			}
		}
	}
	return m.table.Allowed + 1
}

// candidates tracks the best sample seen so far. A strictly smaller
// distance replaces it; another sample at the same distance makes the read
// ambiguous until something strictly better appears.
type candidates struct {
	sample    int
	distance  int
	template  *samplesheet.Template
	ambiguous bool
}

func (c *candidates) consider(sample, distance int, t *samplesheet.Template) {
	switch {
	case c.distance < 0 || distance < c.distance:
		c.sample, c.distance, c.template, c.ambiguous = sample, distance, t, false
	case distance == c.distance && sample != c.sample:
		c.ambiguous = true
	}
}

func (c *candidates) resolved() bool {
	return c.distance >= 0 && !c.ambiguous
}

// Match classifies a barcode read sequence.
func (m *Matcher) Match(seq []byte) Outcome {
	c := candidates{sample: samplesheet.NoSample, distance: -1}
	for _, t := range m.table.Templates {
		m.matchTemplate(&c, t, seq)
		if c.resolved() && !m.comprehensive {
			break
		}
	}
	switch {
	case c.distance < 0:
		return Outcome{Sample: m.undetermined}
	case c.ambiguous:
		return Outcome{Sample: m.ambiguous}
	}
	return Outcome{Sample: c.sample, Mismatches: c.distance, Template: c.template}
}

func (m *Matcher) matchTemplate(c *candidates, t *samplesheet.Template, seq []byte) {
	if len(seq) < t.Layout.Total {
		return
	}
	m7, ok := t.I7Index.Lookup(t.Layout.I7.Slice(seq))
	if !ok || (c.distance >= 0 && m7.Distance > c.distance) {
		return
	}
	if !t.HasI5 {
		for _, i7 := range m7.Indices {
			c.consider(t.Entries[i7].Sample, m7.Distance, t)
		}
		return
	}

	m5, ok := t.I5Index.Lookup(t.Layout.I5.Slice(seq))
	if !ok {
		return
	}
	distance := m7.Distance + m5.Distance
	if !m.perIndex && distance > m.table.Allowed {
		return
	}
	if c.distance >= 0 && distance > c.distance {
		return
	}
	for _, i7 := range m7.Indices {
		for _, i5 := range m5.Indices {
			if id := t.Resolve(i7, i5); id != samplesheet.NoSample {
				c.consider(id, distance, t)
			}
		}
	}
}

// AppendBarcode appends the barcode reported for seq: i7, or "i7+i5" for
// dual indexes, read at t's offsets. Unmatched reads use the only template
// when there is one, or else the trailing barcode bases.
func (m *Matcher) AppendBarcode(dst, seq []byte, t *samplesheet.Template) []byte {
	if t == nil && len(m.table.Templates) == 1 {
		t = m.table.Templates[0]
	}
	if t == nil || len(seq) < t.Layout.Total {
		return append(dst, seq[max(len(seq)-m.table.BarcodeLength, 0):]...)
	}
	dst = append(dst, t.Layout.I7.Slice(seq)...)
	if t.HasI5 {
		dst = append(dst, '+')
		dst = append(dst, t.Layout.I5.Slice(seq)...)
	}
	return dst
}
