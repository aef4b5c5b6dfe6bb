// Package index provides barcode index lookup tables that tolerate a bounded
// number of base substitutions.
package index

import (
	"errors"
	"fmt"
	"slices"
)

// MinIndexLength is the shortest index sequence accepted in a sample sheet.
const MinIndexLength = 3

// Alphabet lists the bases substituted when enumerating mismatches.
var Alphabet = [5]byte{'A', 'C', 'G', 'T', 'N'}

var (
	complementTable [256]byte
	readBaseTable   [256]bool
	indexBaseTable  [256]bool
)

func init() {
	// 0 marks bytes without a complement
	complementTable['A'] = 'T'
	complementTable['a'] = 'T'
	complementTable['C'] = 'G'
	complementTable['c'] = 'G'
	complementTable['G'] = 'C'
	complementTable['g'] = 'C'
	complementTable['T'] = 'A'
	complementTable['t'] = 'A'
	complementTable['N'] = 'N'
	complementTable['n'] = 'N'

	for _, b := range []byte("ACGTNacgtn") {
		readBaseTable[b] = true
	}
	for _, b := range []byte("ACGT") {
		indexBaseTable[b] = true
	}
}

// ErrInvalidBase is returned when a sequence contains a byte outside the
// accepted alphabet.
var ErrInvalidBase = errors.New("invalid base")

// ReverseComplement returns the reverse complement of seq in upper case.
// Input is case-insensitive; N maps to N.
func ReverseComplement(seq string) (string, error) {
	out, err := AppendReverseComplement(make([]byte, 0, len(seq)), []byte(seq))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// AppendReverseComplement appends the reverse complement of seq to dst and
// returns the extended slice. On error dst is returned unchanged.
func AppendReverseComplement(dst, seq []byte) ([]byte, error) {
	start := len(dst)
	dst = slices.Grow(dst, len(seq))[:start+len(seq)]
	for i, b := range seq {
		c := complementTable[b]
		if c == 0 {
			return dst[:start], fmt.Errorf("%w %q in %q", ErrInvalidBase, b, seq)
		}
		dst[len(dst)-1-i] = c
	}
	return dst, nil
}

// IsReadBase reports whether b may appear in a read sequence.
func IsReadBase(b byte) bool {
	return readBaseTable[b]
}

// ValidIndex checks that seq is an upper case ACGT sequence of at least
// MinIndexLength bases.
func ValidIndex(seq string) error {
	if len(seq) < MinIndexLength {
		return fmt.Errorf("index %q is shorter than %d bases", seq, MinIndexLength)
	}
	for i := 0; i < len(seq); i++ {
		if !indexBaseTable[seq[i]] {
			return fmt.Errorf("%w %q in index %q", ErrInvalidBase, seq[i], seq)
		}
	}
	return nil
}
