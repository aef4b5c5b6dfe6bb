package index

import (
	"fmt"
	"slices"
)

// MaxMismatches is the largest mismatch allowance accepted by Build.
// Table size grows as C(L, d) * 4^d per index.
const MaxMismatches = 3

// Match is the result of a lookup: the known indices at the smallest
// distance observed for the key, and that distance.
type Match struct {
	Indices  []string
	Distance int
}

// Unique reports whether exactly one index sits at the minimal distance.
func (m Match) Unique() bool {
	return len(m.Indices) == 1
}

// MismatchIndex maps every sequence within the allowed Hamming distance of a
// known index to its closest known indices. It is immutable once built and
// safe for concurrent lookups.
type MismatchIndex struct {
	table   map[string]Match
	length  int
	allowed int
}

// Build enumerates, for each index, every substitution of up to allowed
// positions drawn from Alphabet and records the closest originals per key.
// All indices must share one length.
func Build(indices []string, allowed int) (*MismatchIndex, error) {
	if allowed < 0 || allowed > MaxMismatches {
		return nil, fmt.Errorf("allowed mismatches must be within [0, %d], got %d", MaxMismatches, allowed)
	}

	idx := &MismatchIndex{
		table:   make(map[string]Match, estimateSize(indices, allowed)),
		allowed: allowed,
	}
	if len(indices) == 0 {
		return idx, nil
	}

	idx.length = len(indices[0])
	seen := make(map[string]struct{}, len(indices))
	scratch := make([]byte, idx.length)
	positions := make([]int, 0, allowed)

	for _, orig := range indices {
		if len(orig) != idx.length {
			return nil, fmt.Errorf("index %q has length %d, expected %d", orig, len(orig), idx.length)
		}
		if _, dup := seen[orig]; dup {
			continue
		}
		seen[orig] = struct{}{}

		for k := 0; k <= allowed && k <= idx.length; k++ {
			copy(scratch, orig)
			idx.combinations(orig, scratch, positions[:0], 0, k)
		}
	}
	return idx, nil
}

// combinations chooses k positions at or after start, then substitutes.
func (idx *MismatchIndex) combinations(orig string, scratch []byte, positions []int, start, k int) {
	if len(positions) == k {
		idx.substitute(orig, scratch, positions, 0)
		return
	}
	for p := start; p <= idx.length-(k-len(positions)); p++ {
		idx.combinations(orig, scratch, append(positions, p), p+1, k)
	}
}

// substitute replaces every chosen position with each base other than the
// original and records the resulting key.
func (idx *MismatchIndex) substitute(orig string, scratch []byte, positions []int, i int) {
	if i == len(positions) {
		idx.insert(string(scratch), orig, len(positions))
		return
	}
	p := positions[i]
	for _, b := range Alphabet {
		if b == orig[p] {
			continue
		}
		scratch[p] = b
		idx.substitute(orig, scratch, positions, i+1)
	}
	scratch[p] = orig[p]
}

func (idx *MismatchIndex) insert(key, orig string, distance int) {
	cur, ok := idx.table[key]
	switch {
	case !ok || distance < cur.Distance:
		idx.table[key] = Match{Indices: []string{orig}, Distance: distance}
	case distance == cur.Distance:
		if !slices.Contains(cur.Indices, orig) {
			cur.Indices = append(cur.Indices, orig)
			idx.table[key] = cur
		}
	}
}

// Lookup returns the closest known indices for an observed sequence.
func (idx *MismatchIndex) Lookup(key []byte) (Match, bool) {
	m, ok := idx.table[string(key)]
	return m, ok
}

// LookupString is Lookup for string keys.
func (idx *MismatchIndex) LookupString(key string) (Match, bool) {
	m, ok := idx.table[key]
	return m, ok
}

// Len returns the number of distinct keys.
func (idx *MismatchIndex) Len() int {
	return len(idx.table)
}

// IndexLength returns the length of every key.
func (idx *MismatchIndex) IndexLength() int {
	return idx.length
}

// Allowed returns the mismatch allowance the index was built with.
func (idx *MismatchIndex) Allowed() int {
	return idx.allowed
}

func estimateSize(indices []string, allowed int) int {
	if len(indices) == 0 {
		return 0
	}
	l := len(indices[0])
	per := 1
	choose := 1
	for k := 1; k <= allowed && k <= l; k++ {
		choose = choose * (l - k + 1) / k
		pow := 1
		for range k {
			pow *= len(Alphabet) - 1
		}
		per += choose * pow
	}
	return per * len(indices)
}
