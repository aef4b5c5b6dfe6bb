// Package samplesheet loads sample sheets and builds the per-template index
// tables used to classify reads.
package samplesheet

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shenwei356/xopen"

	"github.com/vertti/fastqdemux/internal/index"
)

// Column names recognised in the sheet header.
const (
	ColSample   = "sample_id"
	ColI7       = "i7"
	ColI5       = "i5"
	ColTemplate = "template"
	ColI7RC     = "i7_rc"
	ColI5RC     = "i5_rc"
	ColProject  = "job_number"
)

// NoValue marks an empty optional cell.
const NoValue = "."

// minLineLength is the shortest trimmed line treated as a data row.
const minLineLength = 5

// ErrEmpty is returned when a sheet has no data rows.
var ErrEmpty = errors.New("sample sheet has no samples")

// Row is one sample line of a sample sheet.
type Row struct {
	SampleID string
	I7       string
	I5       string // empty when the sample is single indexed
	Template string // empty when the general template applies
	I7RC     bool
	I5RC     bool
	Project  string
	Line     int
}

// Load reads a sample sheet from path. Compressed sheets are supported.
func Load(path string) ([]Row, error) {
	r, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("opening sample sheet: %w", err)
	}
	defer r.Close() //nolint:errcheck // read-only

	rows, err := Parse(r)
	if err != nil {
		return nil, fmt.Errorf("sample sheet %s: %w", path, err)
	}
	return rows, nil
}

// Parse reads tab or comma separated rows with a header line.
func Parse(r io.Reader) ([]Row, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		cols  map[string]int
		sep   string
		rows  []Row
		lineN int
	)
	for sc.Scan() {
		lineN++
		line := strings.TrimSpace(sc.Text())
		if len(line) < minLineLength {
			continue
		}

		if cols == nil {
			sep = ","
			if strings.Contains(line, "\t") {
				sep = "\t"
			}
			var err error
			if cols, err = parseHeader(line, sep); err != nil {
				return nil, err
			}
			continue
		}

		row, err := parseRow(strings.Split(line, sep), cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineN, err)
		}
		row.Line = lineN
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return rows, nil
}

func parseHeader(line, sep string) (map[string]int, error) {
	cols := make(map[string]int)
	for i, name := range strings.Split(line, sep) {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{ColSample, ColI7} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing mandatory column %q", required)
		}
	}
	return cols, nil
}

func parseRow(fields []string, cols map[string]int) (Row, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(fields) {
			return ""
		}
		v := strings.TrimSpace(fields[i])
		if v == NoValue {
			return ""
		}
		return v
	}

	row := Row{
		SampleID: get(ColSample),
		I7:       strings.ToUpper(get(ColI7)),
		I5:       strings.ToUpper(get(ColI5)),
		Template: get(ColTemplate),
		Project:  get(ColProject),
	}
	if row.SampleID == "" {
		return row, errors.New("sample_id is mandatory")
	}
	if err := index.ValidIndex(row.I7); err != nil {
		return row, fmt.Errorf("sample %s: i7: %w", row.SampleID, err)
	}
	if row.I5 != "" {
		if err := index.ValidIndex(row.I5); err != nil {
			return row, fmt.Errorf("sample %s: i5: %w", row.SampleID, err)
		}
	}
	if row.Project == "" {
		row.Project = NoValue
	}

	var err error
	if row.I7RC, err = parseFlag(get(ColI7RC)); err != nil {
		return row, fmt.Errorf("sample %s: i7_rc: %w", row.SampleID, err)
	}
	if row.I5RC, err = parseFlag(get(ColI5RC)); err != nil {
		return row, fmt.Errorf("sample %s: i5_rc: %w", row.SampleID, err)
	}
	return row, nil
}

func parseFlag(v string) (bool, error) {
	switch v {
	case "", "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("expected '.', '0' or '1', got %q", v)
	}
}
