package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/fastqdemux/internal/samplesheet"
)

func readNames(t *testing.T, path string) []string {
	t.Helper()
	reader, err := fastx.NewDefaultReader(path)
	require.NoError(t, err)
	defer reader.Close()

	var names []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		names = append(names, string(record.Name))
	}
	return names
}

func testSamples(t *testing.T) *samplesheet.Samples {
	t.Helper()
	rows := []samplesheet.Row{
		{SampleID: "A", I7: "ACGTACGT", Project: samplesheet.NoValue},
		{SampleID: "B", I7: "TTGGCCAA", Project: samplesheet.NoValue},
		{SampleID: "A", I7: "GGGGCCCC", Project: samplesheet.NoValue},
	}
	_, samples, err := samplesheet.Build(rows, samplesheet.Options{})
	require.NoError(t, err)
	return samples
}

func testInfo(t *testing.T) BufferInfo {
	t.Helper()
	info, err := NewBufferInfo(MinWritingBuffer, 8<<10, DefaultLevel, 512)
	require.NoError(t, err)
	return info
}

func TestFileNames(t *testing.T) {
	t.Parallel()

	named := samplesheet.Sample{Name: "S1", Number: 3}
	synthetic := samplesheet.Sample{Name: "Undetermined"}

	tests := []struct {
		name          string
		sample        samplesheet.Sample
		illumina      bool
		paired        bool
		mate, barcode string
	}{
		{"illumina paired", named, true, true, "S1_S3_L01_R1_001.fastq.gz", "S1_S3_L01_R2_001.fastq.gz"},
		{"illumina single", named, true, false, "S1_S3_L01_R1_001.fastq.gz", "S1_S3_L01_R1_001.fastq.gz"},
		{"illumina undetermined", synthetic, true, true, "Undetermined_L01_R1_001.fastq.gz", "Undetermined_L01_R2_001.fastq.gz"},
		{"mgi paired", named, false, true, "S1_L01_R1.fastq.gz", "S1_L01_R2.fastq.gz"},
		{"mgi single", synthetic, false, false, "Undetermined_L01_R1.fastq.gz", "Undetermined_L01_R1.fastq.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mate, barcode := FileNames(tt.sample, "L01", tt.illumina, tt.paired)
			assert.Equal(t, tt.mate, mate)
			assert.Equal(t, tt.barcode, barcode)
		})
	}
}

func TestNewBufferInfo(t *testing.T) {
	t.Parallel()

	info, err := NewBufferInfo(1, 4<<10, 6, 100)
	require.NoError(t, err)
	assert.Equal(t, MinWritingBuffer, info.WritingBuffer)
	assert.Equal(t, 4<<10-100, info.CompressionThreshold)
	assert.Equal(t, MinWritingBuffer+GzipBound(4<<10), info.OutputCapacity)

	info, err = NewBufferInfo(1<<30, 4<<10, 6, 100)
	require.NoError(t, err)
	assert.Equal(t, MaxWritingBuffer, info.WritingBuffer)

	require.NoError(t, info.Shrink(1<<20))
	assert.Equal(t, 1<<20, info.WritingThreshold)
	require.NoError(t, info.Shrink(1<<25))
	assert.Equal(t, 1<<20, info.WritingBuffer)
	require.Error(t, info.Shrink(2<<10))
	assert.Equal(t, 1<<20, info.WritingBuffer)
	assert.Equal(t, 1<<20+GzipBound(4<<10), info.OutputCapacity)
	require.NoError(t, info.Shrink(4<<10))
	assert.Equal(t, 4<<10, info.WritingBuffer)

	_, err = NewBufferInfo(MinWritingBuffer, MinWritingBuffer*2, 6, 100)
	require.Error(t, err)
	_, err = NewBufferInfo(MinWritingBuffer, 100, 6, 100)
	require.Error(t, err)
	_, err = NewBufferInfo(MinWritingBuffer, 4<<10, 12, 100)
	require.Error(t, err)
}

func TestSampleReads_Overflow(t *testing.T) {
	t.Parallel()

	info := testInfo(t)
	s, err := newSampleReads(filepath.Join(t.TempDir(), "x.fastq.gz"), info)
	require.NoError(t, err)

	require.NoError(t, s.Add(make([]byte, info.CompressionBuffer-1)))
	err = s.Add([]byte("ab"))
	require.ErrorIs(t, err, ErrBufferOverflow)
	assert.Equal(t, info.CompressionBuffer-1, s.Pending())

	_, err = s.Append(2)
	require.ErrorIs(t, err, ErrBufferOverflow)
	p, err := s.Append(1)
	require.NoError(t, err)
	assert.Len(t, p, 1)
}

func TestSet_WritesConcatenatedMembers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	samples := testSamples(t)
	set := NewSet(samples, Options{Dir: dir, Lane: "L01", Illumina: true, Paired: true, BarcodeOutput: true})
	require.NoError(t, set.Prepare(false))

	info := testInfo(t)
	data, err := set.NewWorkerData(info)
	require.NoError(t, err)
	assert.Same(t, data[0], data[2])

	const reads = 2000
	for i := range reads {
		d := data[i%3]
		require.NoError(t, d.Barcode.Add(fmt.Appendf(nil, "@r%d/2\nACGT\n+\nIIII\n", i)))
		require.NoError(t, d.Mate.Add(fmt.Appendf(nil, "@r%d/1\nTTTT\n+\nIIII\n", i)))
		require.NoError(t, d.CompressAndWrite(false))
	}
	require.NoError(t, Flush(data))

	mate, barcode := set.Paths(2)
	assert.Equal(t, filepath.Join(dir, "A_S1_L01_R1_001.fastq.gz"), mate)
	assert.Equal(t, filepath.Join(dir, "A_S1_L01_R2_001.fastq.gz"), barcode)

	aNames := readNames(t, barcode)
	bMate, _ := set.Paths(1)
	bNames := readNames(t, bMate)
	assert.Len(t, aNames, 1333)
	assert.Len(t, bNames, 667)
	assert.Equal(t, "r0/2", aNames[0])
	assert.Equal(t, "r1/1", bNames[0])

	require.Error(t, set.Prepare(false))
	require.NoError(t, set.Prepare(true))
	_, err = os.Stat(barcode)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSet_SingleEndWithoutBarcodeOutput(t *testing.T) {
	t.Parallel()

	samples := testSamples(t)
	set := NewSet(samples, Options{Dir: t.TempDir(), Lane: "L02"})
	data, err := set.NewWorkerData(testInfo(t))
	require.NoError(t, err)

	assert.Nil(t, data[0].Barcode)
	assert.Nil(t, data[0].Mate)
	und := data[samples.Undetermined]
	require.NotNil(t, und.Barcode)
	assert.Nil(t, und.Mate)
	assert.Equal(t, "Undetermined_L02_R1.fastq.gz", filepath.Base(und.Barcode.Path()))
	require.NoError(t, data[0].CompressAndWrite(true))
}

func TestSet_ConcurrentWorkersShareFiles(t *testing.T) {
	t.Parallel()

	samples := testSamples(t)
	set := NewSet(samples, Options{Dir: t.TempDir(), Lane: "L01", BarcodeOutput: true})
	info := testInfo(t)

	const workers, perWorker = 4, 500
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := range workers {
		data, err := set.NewWorkerData(info)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				if err := data[1].Barcode.Add(fmt.Appendf(nil, "@w%d_%d\nACGT\n+\nIIII\n", w, i)); err != nil {
					errs <- err
					return
				}
				if err := data[1].CompressAndWrite(false); err != nil {
					errs <- err
					return
				}
			}
			errs <- Flush(data)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	_, barcode := set.Paths(1)
	assert.Len(t, readNames(t, barcode), workers*perWorker)
}

func BenchmarkSampleData_CompressAndWrite(b *testing.B) {
	info, err := NewBufferInfo(1<<20, 256<<10, DefaultLevel, 1<<10)
	require.NoError(b, err)
	s, err := newSampleReads(filepath.Join(b.TempDir(), "bench.fastq.gz"), info)
	require.NoError(b, err)
	d := &SampleData{Barcode: s, info: info, lock: &sync.Mutex{}}
	record := []byte("@V350000001L1C001R0010000001/1\nACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT\n+\nIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIII\n")

	b.SetBytes(int64(len(record)))
	b.ReportAllocs()
	for b.Loop() {
		if err := s.Add(record); err != nil {
			b.Fatal(err)
		}
		if err := d.CompressAndWrite(false); err != nil {
			b.Fatal(err)
		}
	}
}
