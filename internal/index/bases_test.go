package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverseComplement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"ACGTGCGC", "GCGCACGT"},
		{"GGGGGGGG", "CCCCCCCC"},
		{"ATATATNN", "NNATATAT"},
		{"agcagccc", "GGGCTGCT"},
		{"", ""},
	}

	for _, tt := range tests {
		got, err := ReverseComplement(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestReverseComplement_Involution(t *testing.T) {
	t.Parallel()

	for _, s := range allSequences(5) {
		once, err := ReverseComplement(s)
		require.NoError(t, err)
		twice, err := ReverseComplement(once)
		require.NoError(t, err)
		assert.Equal(t, s, twice)
	}

	lower, err := ReverseComplement("acgtn")
	require.NoError(t, err)
	back, err := ReverseComplement(lower)
	require.NoError(t, err)
	assert.Equal(t, "ACGTN", back)
}

func TestAppendReverseComplement(t *testing.T) {
	t.Parallel()

	dst := []byte("umi:")
	out, err := AppendReverseComplement(dst, []byte("AACCGGTTAC"))
	require.NoError(t, err)
	assert.Equal(t, "umi:GTAACCGGTT", string(out))

	out, err = AppendReverseComplement(out, []byte("AC"))
	require.NoError(t, err)
	assert.Equal(t, "umi:GTAACCGGTTGT", string(out))

	kept, err := AppendReverseComplement(out[:4], []byte("AXA"))
	require.ErrorIs(t, err, ErrInvalidBase)
	assert.Equal(t, "umi:", string(kept))
}

func TestReverseComplement_InvalidBase(t *testing.T) {
	t.Parallel()

	_, err := ReverseComplement("ACXT")
	require.ErrorIs(t, err, ErrInvalidBase)
}

func TestValidIndex(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidIndex("ACGTAC"))
	require.Error(t, ValidIndex("AC"))
	require.ErrorIs(t, ValidIndex("ACGN"), ErrInvalidBase)
	require.ErrorIs(t, ValidIndex("acgt"), ErrInvalidBase)
}

func TestIsReadBase(t *testing.T) {
	t.Parallel()

	for _, b := range []byte("ACGTNacgtn") {
		assert.True(t, IsReadBase(b), "%q", b)
	}
	for _, b := range []byte("XU.-\n") {
		assert.False(t, IsReadBase(b), "%q", b)
	}
}
