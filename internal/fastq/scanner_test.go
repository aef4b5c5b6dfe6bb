package fastq

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRecords(n int) []byte {
	var sb strings.Builder
	for i := range n {
		fmt.Fprintf(&sb, "@read_%d extra\nACGTNACGT\n+\nIIIII%04d\n", i, i)
	}
	return []byte(sb.String())
}

func TestScanner_ConsumesExactlyNRecords(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 2, 17, 250} {
		buf := makeRecords(n)
		lines := AppendLineEnds(nil, buf, 0)
		require.Len(t, lines, 4*n)

		s := NewScanner(lines)
		got := 0
		for {
			b, ok := s.Next()
			if !ok {
				break
			}
			assert.Equal(t, fmt.Sprintf("@read_%d extra", got), string(b.Header(buf)))
			assert.Equal(t, "ACGTNACGT", string(b.Sequence(buf)))
			assert.Equal(t, "+", string(b.Plus(buf)))
			assert.Equal(t, fmt.Sprintf("IIIII%04d", got), string(b.Quality(buf)))
			got++
		}
		assert.Equal(t, n, got)
		assert.Zero(t, s.Remaining())
	}
}

func TestScanner_RawConcatenatesToBuffer(t *testing.T) {
	t.Parallel()

	buf := makeRecords(5)
	s := NewScanner(AppendLineEnds(nil, buf, 0))

	var rebuilt []byte
	for {
		b, ok := s.Next()
		if !ok {
			break
		}
		rebuilt = append(rebuilt, b.Raw(buf)...)
	}
	assert.Equal(t, buf, rebuilt)
}

func TestScanner_PartialRecordIsEndOfBuffer(t *testing.T) {
	t.Parallel()

	buf := append(makeRecords(2), "@partial\nACGT\n"...)
	s := NewScanner(AppendLineEnds(nil, buf, 0))

	_, ok := s.Next()
	require.True(t, ok)
	_, ok = s.Next()
	require.True(t, ok)
	_, ok = s.Next()
	assert.False(t, ok)
	assert.Equal(t, 2, s.Remaining())
}

func TestAppendLineEnds_FromOffset(t *testing.T) {
	t.Parallel()

	buf := []byte("ab\ncd\nef")
	assert.Equal(t, []int{2, 5}, AppendLineEnds(nil, buf, 0))
	assert.Equal(t, []int{5}, AppendLineEnds(nil, buf, 3))
	assert.Empty(t, AppendLineEnds(nil, buf, 6))
}

func BenchmarkAppendLineEnds(b *testing.B) {
	buf := makeRecords(10000)
	lines := make([]int, 0, 40000)
	b.SetBytes(int64(len(buf)))
	b.ReportAllocs()
	for b.Loop() {
		lines = AppendLineEnds(lines[:0], buf, 0)
	}
}
