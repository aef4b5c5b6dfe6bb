package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/fastqdemux/internal/config"
	"github.com/vertti/fastqdemux/internal/report"
)

const (
	indexA = "ACGTACGT"
	indexB = "TTGGCCAA"
	insert = "GATTACAGAT"
)

func writeInputs(t *testing.T) (sheet, reads string) {
	t.Helper()
	dir := t.TempDir()
	sheet = filepath.Join(dir, "samples.tsv")
	require.NoError(t, os.WriteFile(sheet, []byte("sample_id\ti7\nA\t"+indexA+"\nB\t"+indexB+"\n"), 0o600))

	var sb strings.Builder
	for i := range 60 {
		bc := indexA
		if i%3 == 0 {
			bc = indexB
		}
		seq := insert + bc
		fmt.Fprintf(&sb, "@V350000001L1C001R001%07d/1\n%s\n+\n%s\n", i+1, seq, strings.Repeat("I", len(seq)))
	}
	reads = filepath.Join(dir, "V350000001_L01_read_1.fq")
	require.NoError(t, os.WriteFile(reads, []byte(sb.String()), 0o600))
	return sheet, reads
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "fqdemux version "+version+"\n", out)
}

func TestRun_ExitCodes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, exitSuccess, run([]string{"version"}))
	assert.Equal(t, exitError, run([]string{"no-such-command"}))
	assert.Equal(t, exitError, run([]string{"version", "--verbose", "--quiet"}))
	assert.Equal(t, exitError, run([]string{"version", "--profile", "block"}))
}

func TestDemultiplex(t *testing.T) {
	t.Parallel()

	sheet, reads := writeInputs(t)
	out := filepath.Join(t.TempDir(), "out")
	_, err := execute(t, "demultiplex", "--no-progress", "-q", "--disable-illumina",
		"-s", sheet, "-f", reads, "-o", out,
		"--cpus", "2", "--batch-records", "16", "--writing-buffer", "64K", "--compression-buffer", "16K",
		"--report-level", "2")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(out, "A_L01_R1.fastq.gz"))
	assert.FileExists(t, filepath.Join(out, "B_L01_R1.fastq.gz"))

	prefix := report.Prefix("V350000001", "L01")
	saved, err := config.Load(filepath.Join(out, prefix+"config.toml"))
	require.NoError(t, err)
	assert.Equal(t, sheet, saved.SampleSheet)
	assert.Equal(t, 2, saved.CPUs)
	assert.Equal(t, "64K", saved.WritingBuffer)
	assert.Equal(t, 1, saved.Mismatches)
	assert.True(t, saved.DisableIllumina)

	_, err = execute(t, "reports", "-o", out, filepath.Join(out, prefix+"sample_stats"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, report.Prefix("V350000001", report.MergedLane)+"info"))
}

func TestDemultiplex_ConfigFileWithOverrides(t *testing.T) {
	t.Parallel()

	sheet, reads := writeInputs(t)
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SampleSheet = sheet
	cfg.Read1 = reads
	cfg.OutputDir = filepath.Join(dir, "from-config")
	cfg.Mismatches = 2
	cfg.CPUs = 1
	cfg.DisableIllumina = true
	cfg.WritingBuffer = "64K"
	cfg.CompressionBuffer = "16K"
	path := filepath.Join(dir, "run.toml")
	require.NoError(t, cfg.Save(path))

	out := filepath.Join(dir, "from-flag")
	_, err := execute(t, "demux", "--no-progress", "-q", "-c", path, "-o", out)
	require.NoError(t, err)
	assert.NoDirExists(t, cfg.OutputDir)

	saved, err := config.Load(filepath.Join(out, report.Prefix("V350000001", "L01")+"config.toml"))
	require.NoError(t, err)
	assert.Equal(t, out, saved.OutputDir)
	assert.Equal(t, 2, saved.Mismatches)
	assert.FileExists(t, filepath.Join(out, "A_L01_R1.fastq.gz"))
}

func TestDemultiplex_InvalidSettings(t *testing.T) {
	t.Parallel()

	sheet, reads := writeInputs(t)
	_, err := execute(t, "demultiplex", "--no-progress", "-s", sheet, "-f", reads, "--mismatches", "9")
	require.ErrorIs(t, err, config.ErrInvalid)

	_, err = execute(t, "demultiplex", "--no-progress", "-c", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestTemplate(t *testing.T) {
	t.Parallel()

	sheet, reads := writeInputs(t)
	prefix := filepath.Join(t.TempDir(), "detected")
	_, err := execute(t, "template", "-s", sheet, "-f", reads, "-o", prefix, "--barcode-length", "8")
	require.NoError(t, err)

	data, err := os.ReadFile(prefix + "_template.tsv")
	require.NoError(t, err)
	assert.Contains(t, string(data), "i78")
	assert.FileExists(t, prefix+"_details.tsv")

	_, err = execute(t, "template", "-f", reads)
	require.Error(t, err)
}
