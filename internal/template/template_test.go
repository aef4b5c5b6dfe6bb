package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		i7    Field
		i5    Field
		umi   Field
		total int
	}{
		{
			in:    "i78",
			i7:    Field{Present: true, Length: 8, Offset: 8},
			total: 8,
		},
		{
			in:    "i58:i78",
			i7:    Field{Present: true, Length: 8, Offset: 8},
			i5:    Field{Present: true, Length: 8, Offset: 16},
			total: 16,
		},
		{
			in:    "i710:--2:um10",
			i7:    Field{Present: true, Length: 10, Offset: 22},
			umi:   Field{Present: true, Length: 10, Offset: 10},
			total: 22,
		},
		{
			in:    "um8:i56:i76",
			i7:    Field{Present: true, Length: 6, Offset: 6},
			i5:    Field{Present: true, Length: 6, Offset: 12},
			umi:   Field{Present: true, Length: 8, Offset: 20},
			total: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			l, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.i7, l.I7)
			assert.Equal(t, tt.i5, l.I5)
			assert.Equal(t, tt.umi, l.UMI)
			assert.Equal(t, tt.total, l.Total)
			assert.Equal(t, tt.in, l.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "i7", "i7x", "i70", "xx8", "i58", "i78:i76", "i7-3"} {
		_, err := Parse(in)
		require.ErrorIs(t, err, ErrInvalid, "template %q", in)
	}
}

func TestFieldSlice(t *testing.T) {
	t.Parallel()

	seq := []byte("TTTTTTTTGGGGAAAACCCCCC")
	l := MustParse("i54:i74:--2:um4")

	assert.Equal(t, "GGGG", string(l.I5.Slice(seq)))
	assert.Equal(t, "AAAA", string(l.I7.Slice(seq)))
	assert.Equal(t, "CCCC", string(l.UMI.Slice(seq)))
	assert.Equal(t, 8, l.IndexLength())
}

func TestDefault(t *testing.T) {
	t.Parallel()

	l := Default(8, 0)
	assert.Equal(t, "i78", l.String())
	assert.False(t, l.I5.Present)

	l = Default(8, 6)
	assert.Equal(t, "i56:i78", l.String())
	assert.Equal(t, 14, l.I5.Offset)
	assert.Equal(t, 14, l.IndexLength())
}
