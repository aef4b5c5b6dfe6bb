package samplesheet

import (
	"errors"
	"fmt"
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/vertti/fastqdemux/internal/index"
	"github.com/vertti/fastqdemux/internal/template"
)

// ErrDuplicateIndex is returned when two samples of one template share an
// i7 or an (i7, i5) pair.
var ErrDuplicateIndex = errors.New("duplicate index")

// NoSample marks an i7 entry that only resolves through its i5 map.
const NoSample = -1

// Default labels of the synthetic buckets.
const (
	UndeterminedLabel = "Undetermined"
	AmbiguousLabel    = "Ambiguous"
)

// Options configures Build.
type Options struct {
	Template          string // general template, overrides the sheet column
	I7RC, I5RC        bool   // reverse complement indices of the general template
	AllowedMismatches int
	UndeterminedLabel string // default: Undetermined
	AmbiguousLabel    string // default: Ambiguous
}

// I7Entry resolves an i7 sequence to a sample, directly or through i5.
type I7Entry struct {
	Sample int // NoSample when the template has i5
	ByI5   map[string]int
}

// Template groups the samples sharing one barcode layout.
type Template struct {
	Layout  template.Layout
	I7      []string
	I5      []string
	HasI5   bool
	I7RC    bool // UMIs are reverse complemented with i7
	Entries map[string]*I7Entry
	Samples int

	I7Index *index.MismatchIndex
	I5Index *index.MismatchIndex
}

// Table is the read-only index table shared by all workers.
type Table struct {
	Templates     []*Template // most populous first
	BarcodeLength int
	Allowed       int
}

// Build validates rows and produces the index table and the sample list.
func Build(rows []Row, opts Options) (*Table, *Samples, error) {
	if len(rows) == 0 {
		return nil, nil, ErrEmpty
	}
	if opts.AllowedMismatches > 2 {
		log.Warnf("allowed mismatches %d is large: index tables grow quickly and ambiguity rises", opts.AllowedMismatches)
	}

	samples := newSamples(rows, opts)
	byKey := make(map[string]*Template)
	var order []*Template

	for id, row := range rows {
		tmplStr, i7rc, i5rc := row.Template, row.I7RC, row.I5RC
		if opts.Template != "" {
			tmplStr, i7rc, i5rc = opts.Template, opts.I7RC, opts.I5RC
		}

		var layout template.Layout
		if tmplStr == "" {
			layout = template.Default(len(row.I7), len(row.I5))
		} else {
			var err error
			if layout, err = template.Parse(tmplStr); err != nil {
				return nil, nil, fmt.Errorf("sample %s: %w", row.SampleID, err)
			}
		}

		i7, i5, err := orient(row, layout, i7rc, i5rc)
		if err != nil {
			return nil, nil, err
		}
		samples.List[id].I7, samples.List[id].I5 = i7, i5

		// UMIs follow the i7 orientation, so rows that differ in it need
		// separate templates.
		key := layout.String()
		if layout.UMI.Present && i7rc {
			key += "/rc"
		}
		t, ok := byKey[key]
		if !ok {
			t = &Template{
				Layout:  layout,
				HasI5:   layout.I5.Present,
				I7RC:    i7rc,
				Entries: make(map[string]*I7Entry),
			}
			byKey[key] = t
			order = append(order, t)
		}
		if err := t.add(id, row.SampleID, i7, i5); err != nil {
			return nil, nil, err
		}
	}

	// stable so equal-sized templates keep sheet order
	slices.SortStableFunc(order, func(a, b *Template) int { return b.Samples - a.Samples })

	table := &Table{Templates: order, Allowed: opts.AllowedMismatches}
	for _, t := range order {
		if table.BarcodeLength == 0 {
			table.BarcodeLength = t.Layout.Total
		} else if t.Layout.Total != table.BarcodeLength {
			return nil, nil, fmt.Errorf("templates %s and %s cover different barcode lengths",
				order[0].Layout, t.Layout)
		}
		if err := t.buildIndexes(opts.AllowedMismatches); err != nil {
			return nil, nil, err
		}
	}
	return table, samples, nil
}

func orient(row Row, layout template.Layout, i7rc, i5rc bool) (string, string, error) {
	i7, i5 := row.I7, row.I5
	if len(i7) != layout.I7.Length {
		return "", "", fmt.Errorf("sample %s: i7 %s does not fit template %s", row.SampleID, i7, layout)
	}
	if !layout.I5.Present {
		if i5 != "" {
			log.Debugf("sample %s: template %s has no i5, ignoring %s", row.SampleID, layout, i5)
		}
		i5 = ""
	} else {
		if i5 == "" {
			return "", "", fmt.Errorf("sample %s: template %s requires an i5 index", row.SampleID, layout)
		}
		if len(i5) != layout.I5.Length {
			return "", "", fmt.Errorf("sample %s: i5 %s does not fit template %s", row.SampleID, i5, layout)
		}
	}

	var err error
	if i7rc {
		if i7, err = index.ReverseComplement(i7); err != nil {
			return "", "", err
		}
	}
	if i5rc && i5 != "" {
		if i5, err = index.ReverseComplement(i5); err != nil {
			return "", "", err
		}
	}
	return i7, i5, nil
}

func (t *Template) add(id int, name, i7, i5 string) error {
	e, ok := t.Entries[i7]
	if !ok {
		e = &I7Entry{Sample: NoSample}
		t.Entries[i7] = e
		t.I7 = append(t.I7, i7)
	}

	if !t.HasI5 {
		if e.Sample != NoSample {
			return fmt.Errorf("%w: sample %s shares i7 %s with another sample", ErrDuplicateIndex, name, i7)
		}
		e.Sample = id
	} else {
		if e.ByI5 == nil {
			e.ByI5 = make(map[string]int)
		}
		if _, dup := e.ByI5[i5]; dup {
			return fmt.Errorf("%w: sample %s shares i7 %s and i5 %s with another sample", ErrDuplicateIndex, name, i7, i5)
		}
		e.ByI5[i5] = id
		if !slices.Contains(t.I5, i5) {
			t.I5 = append(t.I5, i5)
		}
	}
	t.Samples++
	return nil
}

func (t *Template) buildIndexes(allowed int) error {
	var err error
	if t.I7Index, err = index.Build(t.I7, allowed); err != nil {
		return fmt.Errorf("template %s: i7: %w", t.Layout, err)
	}
	if t.I5Index, err = index.Build(t.I5, allowed); err != nil {
		return fmt.Errorf("template %s: i5: %w", t.Layout, err)
	}
	return nil
}

// Resolve returns the sample registered for an (i7, i5) pair, or NoSample.
func (t *Template) Resolve(i7, i5 string) int {
	e, ok := t.Entries[i7]
	if !ok {
		return NoSample
	}
	if !t.HasI5 {
		return e.Sample
	}
	if id, ok := e.ByI5[i5]; ok {
		return id
	}
	return NoSample
}
