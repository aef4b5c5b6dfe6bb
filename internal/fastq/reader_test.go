package fastq

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderNext(t *testing.T) {
	t.Parallel()

	input := "@V350000001L1C001R0010000001/2\nACGTACGT\n+\nIIIIIIII\n@r2\nCCCC\r\n+r2\n####\n"
	r := NewReader(strings.NewReader(input))

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "@V350000001L1C001R0010000001/2", string(rec.Header))
	assert.Equal(t, "ACGTACGT", string(rec.Sequence))
	assert.Equal(t, "+", string(rec.Plus))
	assert.Equal(t, "IIIIIIII", string(rec.Quality))
	assert.Equal(t, len("@V350000001L1C001R0010000001/2\nACGTACGT\n+\nIIIIIIII\n"), rec.Size())

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "CCCC", string(rec.Sequence))
	assert.Equal(t, "+r2", string(rec.Plus))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderNext_Malformed(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"no at":           "SEQ\nACGT\n+\nIIII\n",
		"no plus":         "@SEQ\nACGT\nIIII\nIIII\n",
		"length mismatch": "@SEQ\nACGT\n+\nIII\n",
		"truncated":       "@SEQ\nACGT\n",
	}
	for name, input := range tests {
		_, err := NewReader(strings.NewReader(input)).Next()
		require.Error(t, err, name)
		assert.NotErrorIs(t, err, io.EOF, name)
	}
}

func TestQualityStats(t *testing.T) {
	t.Parallel()

	// '?' is 63 (Q30), '>' is 62 (Q29)
	high, sum := QualityStats([]byte("??>!"))
	assert.Equal(t, uint64(2), high)
	assert.Equal(t, uint64(63+63+62+33), sum)

	assert.True(t, ValidQuality([]byte("!I~")))
	assert.False(t, ValidQuality([]byte("II \x7f")))
}
