// Package output buffers demultiplexed reads per sample and writes them as
// concatenated gzip members.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vertti/fastqdemux/internal/samplesheet"
)

// SampleData holds one worker's buffers for one output sample. Barcode is
// nil when the barcode read is not written; Mate is nil for single-end runs.
type SampleData struct {
	Barcode *SampleReads
	Mate    *SampleReads

	info BufferInfo
	lock *sync.Mutex
}

// CompressAndWrite cuts gzip members once either side reaches the
// compression threshold and appends them to the files once either side
// reaches the writing threshold. force does both unconditionally.
func (d *SampleData) CompressAndWrite(force bool) error {
	if force || d.pending() >= d.info.CompressionThreshold {
		for _, s := range d.sides() {
			if err := s.compress(); err != nil {
				return err
			}
		}
	}
	if force || d.compressed() >= d.info.WritingThreshold {
		d.lock.Lock()
		defer d.lock.Unlock()
		for _, s := range d.sides() {
			if err := s.write(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *SampleData) sides() []*SampleReads {
	sides := make([]*SampleReads, 0, 2)
	if d.Barcode != nil {
		sides = append(sides, d.Barcode)
	}
	if d.Mate != nil {
		sides = append(sides, d.Mate)
	}
	return sides
}

func (d *SampleData) pending() int {
	n := 0
	if d.Barcode != nil {
		n = d.Barcode.Pending()
	}
	if d.Mate != nil {
		n = max(n, d.Mate.Pending())
	}
	return n
}

func (d *SampleData) compressed() int {
	n := 0
	if d.Barcode != nil {
		n = d.Barcode.Compressed()
	}
	if d.Mate != nil {
		n = max(n, d.Mate.Compressed())
	}
	return n
}

// Options describes where and how a run's files are written.
type Options struct {
	Dir           string
	Lane          string
	Illumina      bool
	Paired        bool
	BarcodeOutput bool // write the barcode read for real samples
}

type files struct {
	mate, barcode string
	lock          *sync.Mutex
}

// Set knows every output file of a run and the lock guarding each one.
// It is shared by all workers.
type Set struct {
	samples *samplesheet.Samples
	opts    Options
	files   map[int]files // by writer id
}

// NewSet names the output files of every writer sample.
func NewSet(samples *samplesheet.Samples, opts Options) *Set {
	s := &Set{samples: samples, opts: opts, files: make(map[int]files)}
	for _, id := range samples.Writers() {
		smp := samples.List[id]
		mate, barcode := FileNames(smp, opts.Lane, opts.Illumina, opts.Paired)
		f := files{lock: &sync.Mutex{}}
		if opts.Paired {
			f.mate = filepath.Join(opts.Dir, mate)
		}
		if opts.BarcodeOutput || smp.Synthetic() {
			f.barcode = filepath.Join(opts.Dir, barcode)
		}
		s.files[id] = f
	}
	return s
}

// Paths returns the mate and barcode-read files of the sample owning id's
// output. Either may be empty.
func (s *Set) Paths(id int) (mate, barcode string) {
	f := s.files[s.samples.List[id].Writer]
	return f.mate, f.barcode
}

// Prepare removes files left by an earlier run into the same directory.
// Without force they are an error because output is appended.
func (s *Set) Prepare(force bool) error {
	for _, id := range s.samples.Writers() {
		f := s.files[id]
		for _, path := range []string{f.mate, f.barcode} {
			if path == "" {
				continue
			}
			_, err := os.Stat(path)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return fmt.Errorf("checking %s: %w", path, err)
			}
			if !force {
				return fmt.Errorf("output %s exists, use --force to replace it", path)
			}
			log.Debugf("removing old output %s", path)
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("removing old output: %w", err)
			}
		}
	}
	return nil
}

// NewWorkerData allocates one worker's buffers, indexed by sample id.
// Samples sharing a name share the same SampleData.
func (s *Set) NewWorkerData(info BufferInfo) ([]*SampleData, error) {
	data := make([]*SampleData, s.samples.Len())
	for _, smp := range s.samples.List {
		if smp.Writer != smp.ID {
			data[smp.ID] = data[smp.Writer]
			continue
		}
		f := s.files[smp.ID]
		d := &SampleData{info: info, lock: f.lock}
		var err error
		if f.barcode != "" {
			if d.Barcode, err = newSampleReads(f.barcode, info); err != nil {
				return nil, err
			}
		}
		if f.mate != "" {
			if d.Mate, err = newSampleReads(f.mate, info); err != nil {
				return nil, err
			}
		}
		data[smp.ID] = d
	}
	return data, nil
}

// Flush compresses and writes whatever a worker still holds.
func Flush(data []*SampleData) error {
	for _, d := range data {
		if d == nil {
			continue
		}
		if err := d.CompressAndWrite(true); err != nil {
			return err
		}
	}
	return nil
}
