// Package fastq provides zero-copy FASTQ record scanning over byte buffers.
package fastq

import "bytes"

// LinesPerRecord is the number of lines in a FASTQ record.
const LinesPerRecord = 4

// Bounds holds the byte offsets of one record inside a buffer.
// Every line except the last ends at the byte before the next line's start.
type Bounds struct {
	Start     int // '@' of the header line
	SeqStart  int
	PlusStart int
	QualStart int
	End       int // newline terminating the quality line
}

// Header returns the header line without its newline.
func (b Bounds) Header(buf []byte) []byte { return buf[b.Start : b.SeqStart-1] }

// Sequence returns the sequence line without its newline.
func (b Bounds) Sequence(buf []byte) []byte { return buf[b.SeqStart : b.PlusStart-1] }

// Plus returns the separator line without its newline.
func (b Bounds) Plus(buf []byte) []byte { return buf[b.PlusStart : b.QualStart-1] }

// Quality returns the quality line without its newline.
func (b Bounds) Quality(buf []byte) []byte { return buf[b.QualStart:b.End] }

// Raw returns the whole record including the final newline.
func (b Bounds) Raw(buf []byte) []byte { return buf[b.Start : b.End+1] }

// AppendLineEnds appends the offsets of every newline in buf at or after
// from to dst.
func AppendLineEnds(dst []int, buf []byte, from int) []int {
	for from < len(buf) {
		i := bytes.IndexByte(buf[from:], '\n')
		if i < 0 {
			break
		}
		dst = append(dst, from+i)
		from += i + 1
	}
	return dst
}

// Scanner walks records using precomputed newline offsets. It never touches
// the buffer itself.
type Scanner struct {
	lines []int
	next  int
	start int
}

// NewScanner returns a scanner over the given newline offsets.
func NewScanner(lines []int) *Scanner {
	s := &Scanner{}
	s.Reset(lines)
	return s
}

// Reset rewinds the scanner onto a new set of offsets.
func (s *Scanner) Reset(lines []int) {
	s.lines = lines
	s.next = 0
	s.start = 0
}

// Next returns the bounds of the next record. It returns false once fewer
// than four offsets remain, which marks the end of the buffer.
func (s *Scanner) Next() (Bounds, bool) {
	if s.next+LinesPerRecord > len(s.lines) {
		return Bounds{}, false
	}
	l := s.lines[s.next : s.next+LinesPerRecord]
	b := Bounds{
		Start:     s.start,
		SeqStart:  l[0] + 1,
		PlusStart: l[1] + 1,
		QualStart: l[2] + 1,
		End:       l[3],
	}
	s.next += LinesPerRecord
	s.start = b.End + 1
	return b, true
}

// Remaining returns the number of unconsumed newline offsets.
func (s *Scanner) Remaining() int {
	return len(s.lines) - s.next
}
