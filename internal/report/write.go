package report

import (
	"cmp"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shenwei356/xopen"
	log "github.com/sirupsen/logrus"

	"github.com/vertti/fastqdemux/internal/samplesheet"
)

// Reporting levels.
const (
	LevelInfo     = 0 // info report only
	LevelStats    = 1 // plus general and sample_stats
	LevelBarcodes = 2 // plus undetermined and ambiguous barcode lists
)

// DefaultLimit is the number of barcodes in the short barcode reports.
const DefaultLimit = 50

const (
	toolTag     = "fqdemux"
	runProject  = samplesheet.NoValue
	statsHeader = "job_number\tsample_id\tr1_qc_30\tr2_qc_30\tr3_qc_30\tr1_bases\tr2_bases\tr3_bases\tr1_qc\tr2_qc\tr3_qc\tall_reads"
)

// Options configures Write.
type Options struct {
	Dir      string
	Flowcell string
	Lane     string
	Level    int
	Limit    int // 0 = DefaultLimit
	// MismatchColumns is the number of histogram columns reported: the
	// allowed distance plus one, or twice that minus one when each index
	// is checked on its own.
	MismatchColumns int
}

// row is one sample as it appears in a report.
type row struct {
	id         int
	name       string
	project    string
	stats      Stats
	mismatches []uint64
	synthetic  bool
}

func (r *row) mismatch(i int) uint64 {
	if i < len(r.mismatches) {
		return r.mismatches[i]
	}
	return 0
}

// Prefix returns the common report file prefix for a flowcell and lane.
func Prefix(flowcell, lane string) string {
	return flowcell + "." + lane + "." + toolTag + "."
}

// Write writes every report of the run.
func (m *Manager) Write(samples *samplesheet.Samples, opts Options) error {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	rows := make([]row, 0, samples.Len())
	for _, s := range samples.List {
		if s.Synthetic() && m.Reads(s.ID) == 0 {
			continue
		}
		rows = append(rows, row{
			id:         s.ID,
			name:       s.Name,
			project:    s.Project,
			stats:      m.stats[s.ID],
			mismatches: m.mismatches[s.ID],
			synthetic:  s.Synthetic(),
		})
	}
	prefix := Prefix(opts.Flowcell, opts.Lane)
	sortRows(rows, uniqueNames(samples))

	projects := make([]string, 0, len(samples.Projects))
	for p := range samples.Projects {
		projects = append(projects, p)
	}
	slices.Sort(projects)
	for _, p := range projects {
		ids := samples.Projects[p]
		kept := make([]row, 0, len(ids))
		for _, r := range rows {
			if slices.Contains(ids, r.id) {
				kept = append(kept, r)
			}
		}
		if p != runProject {
			log.Infof("writing reports for job %s with %d samples", p, len(kept))
		}
		if err := writeProject(projectPrefix(p)+prefix, kept, opts); err != nil {
			return err
		}
	}

	if opts.Level >= LevelStats {
		path := filepath.Join(opts.Dir, prefix+"sample_stats")
		if err := writeFile(path, func(w io.Writer) error {
			return writeSampleStats(w, byID(rows), opts.MismatchColumns)
		}); err != nil {
			return err
		}
	}

	if opts.Level >= LevelBarcodes {
		if err := writeBarcodes(opts.Dir, prefix+"ambiguous_barcode", m.ambiguous, opts.Limit); err != nil {
			return err
		}
		if err := writeBarcodes(opts.Dir, prefix+"undetermined_barcode", m.undetermined, opts.Limit); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"dir":     opts.Dir,
		"samples": len(rows),
		"reads":   humanize.Comma(int64(m.Total())), //nolint:gosec // read counts fit int64
	}).Info("reports written")
	return nil
}

func projectPrefix(project string) string {
	if project == runProject {
		return ""
	}
	return project + "_"
}

// writeProject writes the info and general reports of one job.
func writeProject(prefix string, rows []row, opts Options) error {
	if err := writeFile(filepath.Join(opts.Dir, prefix+"info"), func(w io.Writer) error {
		return writeInfo(w, rows, opts.MismatchColumns)
	}); err != nil {
		return err
	}
	if opts.Level < LevelStats {
		return nil
	}
	return writeFile(filepath.Join(opts.Dir, prefix+"general"), func(w io.Writer) error {
		return writeGeneral(w, rows, opts.Flowcell, opts.Lane)
	})
}

func uniqueNames(samples *samplesheet.Samples) bool {
	seen := make(map[string]bool, samples.Len())
	for _, s := range samples.List {
		if seen[s.Name] {
			return false
		}
		seen[s.Name] = true
	}
	return true
}

// sortRows orders samples by read count when every name is unique, keeping
// sheet order otherwise.
func sortRows(rows []row, unique bool) {
	if !unique {
		return
	}
	slices.SortStableFunc(rows, func(a, b row) int {
		return cmp.Or(cmp.Compare(b.stats[Reads], a.stats[Reads]), cmp.Compare(a.id, b.id))
	})
}

func byID(rows []row) []row {
	out := slices.Clone(rows)
	slices.SortFunc(out, func(a, b row) int { return cmp.Compare(a.id, b.id) })
	return out
}

func writeFile(path string, fill func(io.Writer) error) error {
	w, err := xopen.Wopen(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := fill(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

func writeInfo(w io.Writer, rows []row, columns int) error {
	var sb strings.Builder
	sb.WriteString("sample")
	for i := range columns {
		fmt.Fprintf(&sb, "\t%d-mismatches", i)
	}
	sb.WriteByte('\n')
	for _, r := range rows {
		sb.WriteString(r.name)
		for i := range columns {
			sb.WriteByte('\t')
			sb.WriteString(strconv.FormatUint(r.mismatch(i), 10))
		}
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func millions(v float64) string {
	return strconv.FormatFloat(v/1e6, 'f', -1, 64)
}

func percent(part, whole float64) string {
	if whole == 0 {
		return "0.000"
	}
	return strconv.FormatFloat(part/whole*100, 'f', 3, 64)
}

func writeGeneral(w io.Writer, rows []row, run, lane string) error {
	var (
		bases, reads, high, quality float64
		perfect, syntheticReads     float64
		samples                     strings.Builder
	)
	samples.WriteString("#sample general info\n")
	samples.WriteString("Sample ID\tM Clusters\tMb Yield ≥ Q30\t% R1 Yield ≥ Q30\t% R2 Yield ≥ Q30\t% R3 Yield ≥ Q30\t% Perfect Index\n")
	for _, r := range rows {
		s := r.stats
		q30 := float64(s[R1HighQuality] + s[R2HighQuality])
		fmt.Fprintf(&samples, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.name,
			millions(float64(s[Reads])),
			millions(q30),
			percent(float64(s[R1HighQuality]), float64(s[R1Bases])),
			percent(float64(s[R2HighQuality]), float64(s[R2Bases])),
			percent(float64(s[R3HighQuality]), float64(s[R3Bases])),
			percent(float64(r.mismatch(0)), float64(s[Reads])),
		)
		bases += float64(s[R1Bases] + s[R2Bases])
		reads += float64(s[Reads])
		high += q30
		quality += float64(s[R1Quality] + s[R2Quality])
		if r.synthetic {
			syntheticReads += float64(s[Reads])
		} else {
			perfect += float64(r.mismatch(0))
		}
	}

	meanQuality := "0.000"
	if bases > 0 {
		meanQuality = strconv.FormatFloat(quality/bases, 'f', 3, 64)
	}
	var sb strings.Builder
	sb.WriteString("#Lane statistics\n")
	sb.WriteString("Run ID-Lane\tMb Total Yield\tM Total Clusters\t% bases ≥ Q30\tMean Quality\t% Perfect Index\n")
	fmt.Fprintf(&sb, "%s-%s\t%s\t%s\t%s\t%s\t%s\n",
		run, lane,
		millions(bases),
		millions(reads),
		percent(high, bases),
		meanQuality,
		percent(perfect, reads-syntheticReads),
	)
	sb.WriteString(samples.String())
	_, err := io.WriteString(w, sb.String())
	return err
}

func writeSampleStats(w io.Writer, rows []row, columns int) error {
	var sb strings.Builder
	sb.WriteString(statsHeader)
	for i := range columns {
		fmt.Fprintf(&sb, "\t%d-mismatches", i)
	}
	sb.WriteByte('\n')
	for _, r := range rows {
		sb.WriteString(r.project)
		sb.WriteByte('\t')
		sb.WriteString(r.name)
		for _, v := range r.stats {
			sb.WriteByte('\t')
			sb.WriteString(strconv.FormatUint(v, 10))
		}
		for i := range columns {
			sb.WriteByte('\t')
			sb.WriteString(strconv.FormatUint(r.mismatch(i), 10))
		}
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

type barcodeCount struct {
	barcode string
	count   uint64
}

// sortedBarcodes orders barcodes by count, then barcode, both descending.
func sortedBarcodes(counts map[string]uint64) []barcodeCount {
	out := make([]barcodeCount, 0, len(counts))
	for b, c := range counts {
		out = append(out, barcodeCount{b, c})
	}
	slices.SortFunc(out, func(a, b barcodeCount) int {
		return cmp.Or(cmp.Compare(b.count, a.count), strings.Compare(b.barcode, a.barcode))
	})
	return out
}

func writeBarcodes(dir, name string, counts map[string]uint64, limit int) error {
	if len(counts) == 0 {
		return nil
	}
	sorted := sortedBarcodes(counts)
	fill := func(list []barcodeCount) func(io.Writer) error {
		return func(w io.Writer) error {
			var sb strings.Builder
			for _, bc := range list {
				fmt.Fprintf(&sb, "%s\t%d\n", bc.barcode, bc.count)
			}
			_, err := io.WriteString(w, sb.String())
			return err
		}
	}
	if err := writeFile(filepath.Join(dir, name), fill(sorted[:min(limit, len(sorted))])); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, name+".complete"), fill(sorted))
}
