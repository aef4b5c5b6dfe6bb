package pipeline

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// readAheadBlockSize is the pgzip block size used with read-ahead.
const readAheadBlockSize = 1 << 20

// OpenInput opens a plain, gzip or zstd FASTQ file for sequential reading.
func OpenInput(path string) (io.Reader, func(), error) {
	return OpenInputN(path, 0)
}

// OpenInputN is OpenInput with readAhead concurrent gzip block decoders.
// Zero decodes gzip on the calling goroutine.
func OpenInputN(path string, readAhead int) (io.Reader, func(), error) {
	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open input: %w", err)
	}
	closeFile := func() { _ = f.Close() }

	r, cleanup, err := wrapInput(path, f, readAhead)
	if err != nil {
		closeFile()
		return nil, nil, err
	}
	return r, func() {
		cleanup()
		closeFile()
	}, nil
}

func wrapInput(path string, in io.Reader, readAhead int) (io.Reader, func(), error) {
	br := bufio.NewReaderSize(in, 1<<20)
	magic, err := peekMagic(br)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot inspect input: %w", err)
	}

	switch {
	case bytes.HasPrefix(magic, zstdMagic) || strings.HasSuffix(strings.ToLower(path), ".zst"):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open zstd input: %w", err)
		}
		return dec, dec.Close, nil

	case bytes.HasPrefix(magic, gzipMagic) || strings.HasSuffix(strings.ToLower(path), ".gz"):
		if readAhead > 0 {
			gz, err := pgzip.NewReaderN(br, readAheadBlockSize, readAhead)
			if err != nil {
				return nil, nil, fmt.Errorf("cannot open gzip input: %w", err)
			}
			return gz, func() { _ = gz.Close() }, nil
		}
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open gzip input: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	}

	return br, func() {}, nil
}

func peekMagic(br *bufio.Reader) ([]byte, error) {
	header, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return header, nil
}
