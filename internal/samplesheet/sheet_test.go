package samplesheet

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TabSeparated(t *testing.T) {
	t.Parallel()

	sheet := "Sample_ID\ti7\ti5\ti7_rc\ti5_rc\tjob_number\n" +
		"S1\tACGTACGT\tTTGGCCAA\t0\t1\tJ1\n" +
		"\n" +
		"S2\tacgtacga\t.\t.\t.\t.\n"
	rows, err := Parse(strings.NewReader(sheet))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, Row{SampleID: "S1", I7: "ACGTACGT", I5: "TTGGCCAA", I5RC: true, Project: "J1", Line: 2}, rows[0])
	assert.Equal(t, Row{SampleID: "S2", I7: "ACGTACGA", Project: NoValue, Line: 4}, rows[1])
}

func TestParse_CommaSeparatedWithTemplate(t *testing.T) {
	t.Parallel()

	sheet := "sample_id,i7,template\nA,ACGTAC,i76:um4\n"
	rows, err := Parse(strings.NewReader(sheet))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "i76:um4", rows[0].Template)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing i7 column": "sample_id,i5\nA,ACGT\n",
		"short i7":          "sample_id,i7\nA,AC\n",
		"bad base":          "sample_id,i7\nA,ACGN\n",
		"bad i5":            "sample_id,i7,i5\nA,ACGT,ACXT\n",
		"bad flag":          "sample_id,i7,i7_rc\nA,ACGT,2\n",
		"missing sample":    "sample_id,i7\n.,ACGT\n",
	}
	for name, sheet := range tests {
		_, err := Parse(strings.NewReader(sheet))
		require.Error(t, err, name)
	}

	_, err := Parse(strings.NewReader("sample_id,i7\n"))
	require.ErrorIs(t, err, ErrEmpty)
}

func TestLoad_Gzip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sheet.tsv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("sample_id\ti7\nA\tACGTACGT\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	rows, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ACGTACGT", rows[0].I7)
}
