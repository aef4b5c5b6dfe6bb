package report

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/shenwei356/xopen"
	log "github.com/sirupsen/logrus"

	"github.com/vertti/fastqdemux/internal/samplesheet"
)

// MergedLane is the lane name used for reports merged across lanes.
const MergedLane = "all"

type statsFile struct {
	flowcell string
	rows     []row
}

// Merge combines sample_stats reports of several lanes into info and
// general reports per job and for the whole run, written to dir.
func Merge(paths []string, dir string) error {
	if len(paths) == 0 {
		return errors.New("no reports to merge")
	}

	var flowcell string
	byProject := map[string]map[string]*row{runProject: {}}
	columns := 0
	for _, path := range paths {
		f, err := readStatsFile(path)
		if err != nil {
			return err
		}
		flowcell = f.flowcell
		for _, r := range f.rows {
			columns = max(columns, len(r.mismatches))
			samples, ok := byProject[r.project]
			if !ok {
				samples = make(map[string]*row)
				byProject[r.project] = samples
			}
			acc, ok := samples[r.name]
			if !ok {
				samples[r.name] = &row{name: r.name, project: r.project, stats: r.stats,
					mismatches: slices.Clone(r.mismatches), synthetic: r.synthetic}
				continue
			}
			acc.stats.add(&r.stats)
			for len(acc.mismatches) < len(r.mismatches) {
				acc.mismatches = append(acc.mismatches, 0)
			}
			for i, v := range r.mismatches {
				acc.mismatches[i] += v
			}
		}
	}

	run := byProject[runProject]
	for project, samples := range byProject {
		if project == runProject {
			continue
		}
		for name, r := range samples {
			if _, ok := run[name]; ok {
				return fmt.Errorf("sample %s is assigned to job %s and to the whole run", name, project)
			}
			run[name] = r
		}
	}

	opts := Options{Dir: dir, Flowcell: flowcell, Lane: MergedLane, Level: LevelStats, MismatchColumns: columns}
	for _, project := range slices.Sorted(maps.Keys(byProject)) {
		rows := make([]row, 0, len(byProject[project]))
		for _, r := range byProject[project] {
			rows = append(rows, *r)
		}
		slices.SortFunc(rows, func(a, b row) int {
			return cmp.Or(cmp.Compare(b.stats[Reads], a.stats[Reads]), strings.Compare(a.name, b.name))
		})
		if err := writeProject(projectPrefix(project)+Prefix(flowcell, MergedLane), rows, opts); err != nil {
			return err
		}
	}
	log.Infof("merged %d reports into %s", len(paths), dir)
	return nil
}

func readStatsFile(path string) (*statsFile, error) {
	r, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("opening report: %w", err)
	}
	defer r.Close() //nolint:errcheck // read-only

	flowcell, _, _ := strings.Cut(filepath.Base(path), ".")
	f := &statsFile{flowcell: flowcell}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" || strings.HasPrefix(text, "job_number\tsample_id") {
			continue
		}
		rec, err := parseStatsLine(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		f.rows = append(f.rows, rec)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return f, nil
}

func parseStatsLine(text string) (row, error) {
	fields := strings.Split(text, "\t")
	if len(fields) < 2+StatCount {
		return row{}, fmt.Errorf("expected at least %d columns, found %d", 2+StatCount, len(fields))
	}
	r := row{project: fields[0], name: fields[1]}
	values := make([]uint64, len(fields)-2)
	for i, v := range fields[2:] {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return row{}, fmt.Errorf("column %d: %w", i+3, err)
		}
		values[i] = n
	}
	copy(r.stats[:], values[:StatCount])
	r.mismatches = values[StatCount:]
	lower := strings.ToLower(r.name)
	r.synthetic = lower == strings.ToLower(samplesheet.UndeterminedLabel) || lower == strings.ToLower(samplesheet.AmbiguousLabel)
	return r, nil
}
