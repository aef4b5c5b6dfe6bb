// Package detect finds the barcode layout of a run by looking for the
// sample sheet indexes in the first reads.
package detect

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/shenwei356/xopen"
	log "github.com/sirupsen/logrus"

	"github.com/vertti/fastqdemux/internal/index"
	"github.com/vertti/fastqdemux/internal/samplesheet"
	"github.com/vertti/fastqdemux/internal/template"
)

// Defaults for Options.
const (
	DefaultReads        = 5000
	DefaultMaxUMILength = 10
)

// ErrNoMatches is returned when no sampled read contains a sample index.
var ErrNoMatches = errors.New("no read matches any sample")

// Options configures Detect.
type Options struct {
	BarcodeReads  string
	MateReads     string // empty for single-end input
	Reads         int    // reads to sample; 0 = DefaultReads
	BarcodeLength int    // 0 = barcode read length minus mate read length
	UMI           bool   // report one gap of the barcode as a UMI
	MaxUMILength  int    // 0 = DefaultMaxUMILength
	Popular       bool   // give every sample the most frequent layout
}

// Placement is where the indexes of a sample were found within the barcode
// region, counted from its first base.
type Placement struct {
	I7   int
	I7RC bool
	I5   int // -1 without i5
	I5RC bool
}

// Sample is the detection outcome of one sheet row.
type Sample struct {
	Row      samplesheet.Row
	Counts   map[Placement]int
	Template string // empty when no read matched
	I7RC     bool
	I5RC     bool
}

// Result summarises a detection run.
type Result struct {
	BarcodeLength int
	Reads         int
	Popular       Placement
	PopularCount  int
	Samples       []Sample
}

type orientation struct {
	seq []byte
	rc  bool
}

// Detect samples the barcode reads and counts, per sample, where its
// indexes occur inside the trailing barcode region.
func Detect(rows []samplesheet.Row, opts Options) (*Result, error) {
	if len(rows) == 0 {
		return nil, samplesheet.ErrEmpty
	}
	if opts.Reads <= 0 {
		opts.Reads = DefaultReads
	}
	if opts.MaxUMILength <= 0 {
		opts.MaxUMILength = DefaultMaxUMILength
	}
	length, err := barcodeLength(rows, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{BarcodeLength: length, Samples: make([]Sample, len(rows))}
	i7s := make([][]orientation, len(rows))
	i5s := make([][]orientation, len(rows))
	for i, row := range rows {
		res.Samples[i] = Sample{Row: row, Counts: make(map[Placement]int)}
		if i7s[i], err = orientations(row.I7); err != nil {
			return nil, fmt.Errorf("sample %s: %w", row.SampleID, err)
		}
		if i5s[i], err = orientations(row.I5); err != nil {
			return nil, fmt.Errorf("sample %s: %w", row.SampleID, err)
		}
	}

	reader, err := fastx.NewDefaultReader(opts.BarcodeReads)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", opts.BarcodeReads, err)
	}
	defer reader.Close()

	for res.Reads < opts.Reads {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", opts.BarcodeReads, err)
		}
		seq := record.Seq.Seq
		if len(seq) < length {
			continue
		}
		region := seq[len(seq)-length:]
		for i := range rows {
			count(res.Samples[i].Counts, region, i7s[i], i5s[i])
		}
		res.Reads++
	}

	totals := make(map[Placement]int)
	for i := range res.Samples {
		for p, n := range res.Samples[i].Counts {
			totals[p] += n
		}
	}
	var ok bool
	if res.Popular, res.PopularCount, ok = best(totals); !ok {
		return nil, fmt.Errorf("%w in the first %d reads", ErrNoMatches, res.Reads)
	}

	for i := range res.Samples {
		s := &res.Samples[i]
		p := res.Popular
		if !opts.Popular {
			if p, _, ok = best(s.Counts); !ok {
				log.Warnf("sample %s: no read contains its indexes", s.Row.SampleID)
				continue
			}
		} else if own, _, found := best(s.Counts); found && own != p {
			log.Infof("sample %s: using the most frequent layout instead of its own", s.Row.SampleID)
		}
		s.Template = p.Template(length, len(s.Row.I7), len(s.Row.I5), opts.UMI, opts.MaxUMILength)
		s.I7RC, s.I5RC = p.I7RC, p.I5RC
	}
	log.WithFields(log.Fields{
		"reads":          res.Reads,
		"barcode_length": length,
		"template":       res.Popular.Template(length, len(rows[0].I7), len(rows[0].I5), opts.UMI, opts.MaxUMILength),
		"matches":        res.PopularCount,
	}).Info("most frequent layout")
	return res, nil
}

func barcodeLength(rows []samplesheet.Row, opts Options) (int, error) {
	if opts.BarcodeLength > 0 {
		return opts.BarcodeLength, nil
	}
	if opts.MateReads == "" {
		return 0, errors.New("single-end input needs an explicit barcode length")
	}
	barcodeLen, err := firstLength(opts.BarcodeReads)
	if err != nil {
		return 0, err
	}
	mateLen, err := firstLength(opts.MateReads)
	if err != nil {
		return 0, err
	}
	length := barcodeLen - mateLen
	longest := 0
	for _, r := range rows {
		longest = max(longest, len(r.I7)+len(r.I5))
	}
	if length < longest || length > longest+opts.MaxUMILength {
		return 0, fmt.Errorf("read length difference %d does not fit indexes of %d bases, set the barcode length",
			length, longest)
	}
	log.Infof("barcode length %d from the read length difference", length)
	return length, nil
}

func firstLength(path string) (int, error) {
	reader, err := fastx.NewDefaultReader(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer reader.Close()
	record, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("reading first record of %s: %w", path, err)
	}
	return len(record.Seq.Seq), nil
}

func orientations(seq string) ([]orientation, error) {
	if seq == "" {
		return nil, nil
	}
	rc, err := index.ReverseComplement(seq)
	if err != nil {
		return nil, err
	}
	out := []orientation{{seq: []byte(seq)}}
	if rc != seq {
		out = append(out, orientation{seq: []byte(rc), rc: true})
	}
	return out, nil
}

// positions returns every start of needle in region.
func positions(region, needle []byte) []int {
	var out []int
	for from := 0; from+len(needle) <= len(region); {
		i := bytes.Index(region[from:], needle)
		if i < 0 {
			break
		}
		out = append(out, from+i)
		from += i + 1
	}
	return out
}

func count(counts map[Placement]int, region []byte, i7s, i5s []orientation) {
	for _, o7 := range i7s {
		for _, p7 := range positions(region, o7.seq) {
			if len(i5s) == 0 {
				counts[Placement{I7: p7, I7RC: o7.rc, I5: -1}]++
				continue
			}
			for _, o5 := range i5s {
				for _, p5 := range positions(region, o5.seq) {
					if p5 < p7+len(o7.seq) && p7 < p5+len(o5.seq) {
						continue
					}
					counts[Placement{I7: p7, I7RC: o7.rc, I5: p5, I5RC: o5.rc}]++
				}
			}
		}
	}
}

// best returns the placement seen most often.
func best(counts map[Placement]int) (Placement, int, bool) {
	if len(counts) == 0 {
		return Placement{}, 0, false
	}
	top := sortedCounts(counts)[0]
	return top.p, top.n, true
}

// Template renders the placement as a template string for indexes of the
// given lengths. With umi set, the first gap no longer than maxUMI becomes
// the UMI field. Bases left of the leftmost field are not part of the
// template.
func (p Placement) Template(length, i7Len, i5Len int, umi bool, maxUMI int) string {
	type field struct {
		prefix     string
		start, len int
	}
	fields := []field{{template.PrefixI7, p.I7, i7Len}}
	if p.I5 >= 0 && i5Len > 0 {
		fields = append(fields, field{template.PrefixI5, p.I5, i5Len})
	}
	slices.SortFunc(fields, func(a, b field) int { return cmp.Compare(a.start, b.start) })

	var tokens []string
	gap := func(n int) {
		if n <= 0 {
			return
		}
		if umi && n <= maxUMI {
			tokens = append(tokens, template.PrefixUMI+strconv.Itoa(n))
			umi = false
			return
		}
		tokens = append(tokens, template.PrefixSkip+strconv.Itoa(n))
	}

	if umi && fields[0].start > 0 && fields[0].start <= maxUMI {
		gap(fields[0].start)
	}
	for i, f := range fields {
		tokens = append(tokens, f.prefix+strconv.Itoa(f.len))
		end := length
		if i+1 < len(fields) {
			end = fields[i+1].start
		}
		gap(end - f.start - f.len)
	}
	return strings.Join(tokens, ":")
}

// Write saves the per-sample templates as a sample sheet to
// prefix_template.tsv and every placement count to prefix_details.tsv.
func (r *Result) Write(prefix string) error {
	var sheet, details strings.Builder
	sheet.WriteString("sample_id\ti7\ti5\tjob_number\ttemplate\ti7_rc\ti5_rc\n")
	details.WriteString("sample_id\ti7\ti5\tmatches\n")
	for _, s := range r.Samples {
		i5 := cmp.Or(s.Row.I5, samplesheet.NoValue)
		project := cmp.Or(s.Row.Project, samplesheet.NoValue)
		if s.Template == "" {
			fmt.Fprintf(&sheet, "%s\t%s\t%s\t%s\t.\t.\t.\n", s.Row.SampleID, s.Row.I7, i5, project)
		} else {
			fmt.Fprintf(&sheet, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", s.Row.SampleID, s.Row.I7, i5, project,
				s.Template, flag(s.I7RC), flag(s.I5RC))
		}

		fmt.Fprintf(&details, "%s\t%s\t%s", s.Row.SampleID, s.Row.I7, i5)
		if len(s.Counts) == 0 {
			details.WriteString("\tno matches")
		}
		for _, pc := range sortedCounts(s.Counts) {
			t := pc.p.Template(r.BarcodeLength, len(s.Row.I7), len(s.Row.I5), false, 0)
			fmt.Fprintf(&details, "\t%s %s/%s (%d)", t, flag(pc.p.I7RC), flag(pc.p.I5RC), pc.n)
		}
		details.WriteByte('\n')
	}
	if err := writeText(prefix+"_template.tsv", sheet.String()); err != nil {
		return err
	}
	return writeText(prefix+"_details.tsv", details.String())
}

// placementCount orders placements by count, then position, so results do
// not depend on map order.
type placementCount struct {
	p Placement
	n int
}

func sortedCounts(counts map[Placement]int) []placementCount {
	out := make([]placementCount, 0, len(counts))
	for p, n := range counts {
		out = append(out, placementCount{p, n})
	}
	slices.SortFunc(out, func(a, b placementCount) int {
		return cmp.Or(cmp.Compare(b.n, a.n), cmp.Compare(a.p.I7, b.p.I7), cmp.Compare(a.p.I5, b.p.I5),
			compareBool(a.p.I7RC, b.p.I7RC), compareBool(a.p.I5RC, b.p.I5RC))
	})
	return out
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	}
	return -1
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func writeText(path, text string) error {
	w, err := xopen.Wopen(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.WriteString(w, text); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return w.Close()
}
