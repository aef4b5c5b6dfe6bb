// Package template decodes barcode layout strings such as "i78:--2:um10"
// into fixed tail offsets within the barcode read.
package template

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is returned for malformed template strings.
var ErrInvalid = errors.New("invalid template")

// Field prefixes accepted in a template token.
const (
	PrefixI7   = "i7"
	PrefixI5   = "i5"
	PrefixUMI  = "um"
	PrefixSkip = "--"
)

// Field locates one index or UMI within the tail of the barcode read.
// Offset counts bytes from the end of the sequence to the first byte of the
// field.
type Field struct {
	Present bool
	Length  int
	Offset  int
}

// Slice returns the field bytes from a barcode read sequence.
// The sequence must be at least Offset bytes long.
func (f Field) Slice(seq []byte) []byte {
	start := len(seq) - f.Offset
	return seq[start : start+f.Length]
}

// Layout is the decoded form of a template string.
type Layout struct {
	I7    Field
	I5    Field
	UMI   Field
	Total int // bytes covered by the template at the read tail

	tokens []string
}

// Parse decodes a colon-separated template. Tokens are read from the right
// because every offset is measured from the end of the read.
func Parse(s string) (Layout, error) {
	var l Layout
	if strings.TrimSpace(s) == "" {
		return l, fmt.Errorf("%w: empty template", ErrInvalid)
	}

	tokens := strings.Split(s, ":")
	shift := 0
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := tokens[i]
		if len(tok) < 3 {
			return l, fmt.Errorf("%w %q: token %q is too short", ErrInvalid, s, tok)
		}
		n, err := strconv.Atoi(tok[2:])
		if err != nil || n <= 0 {
			return l, fmt.Errorf("%w %q: bad length in token %q", ErrInvalid, s, tok)
		}
		shift += n

		var f *Field
		switch tok[:2] {
		case PrefixI7:
			f = &l.I7
		case PrefixI5:
			f = &l.I5
		case PrefixUMI:
			f = &l.UMI
		case PrefixSkip:
			continue
		default:
			return l, fmt.Errorf("%w %q: unknown field %q", ErrInvalid, s, tok[:2])
		}
		if f.Present {
			return l, fmt.Errorf("%w %q: field %q repeated", ErrInvalid, s, tok[:2])
		}
		*f = Field{Present: true, Length: n, Offset: shift}
	}

	if !l.I7.Present {
		return l, fmt.Errorf("%w %q: i7 is required", ErrInvalid, s)
	}
	l.Total = shift
	l.tokens = tokens
	return l, nil
}

// MustParse is Parse for templates known to be valid.
func MustParse(s string) Layout {
	l, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return l
}

// Default returns the layout used when no template is configured: i7 at the
// very end of the read, preceded by i5 when i5Len is non-zero.
func Default(i7Len, i5Len int) Layout {
	if i5Len > 0 {
		return MustParse(fmt.Sprintf("%s%d:%s%d", PrefixI5, i5Len, PrefixI7, i7Len))
	}
	return MustParse(fmt.Sprintf("%s%d", PrefixI7, i7Len))
}

// IndexLength is the number of bytes used for matching.
func (l Layout) IndexLength() int {
	n := l.I7.Length
	if l.I5.Present {
		n += l.I5.Length
	}
	return n
}

// String reassembles the template string.
func (l Layout) String() string {
	return strings.Join(l.tokens, ":")
}
