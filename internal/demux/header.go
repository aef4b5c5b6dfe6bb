package demux

import (
	"bytes"
	"fmt"
)

// noDigit marks a header without a read-in-pair digit.
const noDigit = -1

// readDigit returns the position of the read-in-pair digit that follows the
// last '/' of an MGI header, or noDigit.
func readDigit(h []byte) int {
	sep := bytes.LastIndexByte(h, '/')
	if sep < 0 || sep+1 >= len(h) || h[sep+1] < '0' || h[sep+1] > '9' {
		return noDigit
	}
	return sep + 1
}

// appendMGIHeader appends the MGI header h with an optional " barcode" and
// ":umi" suffix. It returns the extended slice and the position of the
// read digit within the appended header.
func appendMGIHeader(dst, h, barcode, umi []byte) ([]byte, int) {
	dst = append(dst, h...)
	if len(barcode) > 0 {
		dst = append(dst, ' ')
		dst = append(dst, barcode...)
		if len(umi) > 0 {
			dst = append(dst, ':')
			dst = append(dst, umi...)
		}
	}
	return dst, readDigit(h)
}

// appendIlluminaHeader converts an MGI header such as
// "@V350000001L1C001R0010000001/2" into
// "<prefix>lane:tile:x:y[:umi] <digit>:N:0:<barcode>". lPos is the position
// of the lane marker 'L'.
func appendIlluminaHeader(dst, prefix, h []byte, lPos int, barcode, umi []byte) ([]byte, int, error) {
	sep := bytes.LastIndexByte(h, '/')
	if lPos < 1 || sep < lPos+10 || sep+1 >= len(h) {
		return dst, noDigit, fmt.Errorf("%w: header %q does not follow the MGI layout", ErrFormat, h)
	}
	start := len(dst)
	dst = append(dst, prefix...)
	dst = append(dst, h[lPos+1], ':')
	dst = appendNumber(dst, h[lPos+10:sep])
	dst = append(dst, ':')
	dst = appendNumber(dst, h[lPos+3:lPos+6])
	dst = append(dst, ':')
	dst = appendNumber(dst, h[lPos+7:lPos+10])
	if len(umi) > 0 {
		dst = append(dst, ':')
		dst = append(dst, umi...)
	}
	dst = append(dst, ' ')
	digit := len(dst) - start
	dst = append(dst, h[sep+1])
	dst = append(dst, ":N:0:"...)
	dst = append(dst, barcode...)
	return dst, digit, nil
}

// appendNumber appends digits without leading zeros, keeping at least one.
func appendNumber(dst, digits []byte) []byte {
	i := 0
	for i < len(digits)-1 && digits[i] == '0' {
		i++
	}
	return append(dst, digits[i:]...)
}

// appendMateHeader copies the rewritten barcode-side header and puts the
// mate's own read digit at digit.
func appendMateHeader(dst, rewritten []byte, digit int, mate []byte) []byte {
	start := len(dst)
	dst = append(dst, rewritten...)
	if digit == noDigit {
		return dst
	}
	d := byte('1')
	if md := readDigit(mate); md != noDigit {
		d = mate[md]
	}
	dst[start+digit] = d
	return dst
}

// headerPrefix returns the header up to its first space or '/'.
func headerPrefix(h []byte) []byte {
	if i := bytes.IndexAny(h, " /"); i >= 0 {
		return h[:i]
	}
	return h
}
