package output

import (
	"errors"
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
)

// Writing buffer bounds.
const (
	MinWritingBuffer = 64 << 10
	MaxWritingBuffer = 512 << 20
)

// DefaultLevel is the gzip level used when none is configured.
const DefaultLevel = 1

// BufferInfo sizes the per-sample buffers every worker keeps.
type BufferInfo struct {
	WritingBuffer     int // compressed bytes collected before a file append
	CompressionBuffer int // raw bytes collected before a gzip member is cut
	Level             int

	// CompressionThreshold leaves room for one more record in the
	// compression buffer.
	CompressionThreshold int
	WritingThreshold     int
	OutputCapacity       int
}

// NewBufferInfo validates the sizes. reserve is the largest record the
// caller may add after the threshold check.
func NewBufferInfo(writing, compression, level, reserve int) (BufferInfo, error) {
	if level < gzip.NoCompression || level > gzip.BestCompression {
		return BufferInfo{}, fmt.Errorf("compression level %d outside %d-%d", level, gzip.NoCompression, gzip.BestCompression)
	}
	switch {
	case writing < MinWritingBuffer:
		log.Warnf("writing buffer raised to the minimum of %s", bytefmt.ByteSize(MinWritingBuffer))
		writing = MinWritingBuffer
	case writing > MaxWritingBuffer:
		log.Warnf("writing buffer reduced to the maximum of %s", bytefmt.ByteSize(MaxWritingBuffer))
		writing = MaxWritingBuffer
	}
	if compression > writing {
		return BufferInfo{}, fmt.Errorf("compression buffer %s must not exceed writing buffer %s",
			bytefmt.ByteSize(uint64(compression)), bytefmt.ByteSize(uint64(writing))) //nolint:gosec // validated positive below
	}
	if compression <= reserve {
		return BufferInfo{}, errors.New("compression buffer is too small for the longest record")
	}

	info := BufferInfo{
		WritingBuffer:        writing,
		CompressionBuffer:    compression,
		Level:                level,
		CompressionThreshold: compression - reserve,
		WritingThreshold:     writing,
		OutputCapacity:       writing + GzipBound(compression),
	}
	log.WithFields(log.Fields{
		"writing":     bytefmt.ByteSize(uint64(writing)),     //nolint:gosec // positive
		"compression": bytefmt.ByteSize(uint64(compression)), //nolint:gosec // positive
		"level":       level,
	}).Debug("output buffers")
	return info, nil
}

// Shrink lowers the writing buffer to limit when memory is short. A limit
// below the compression buffer is an error and leaves b unchanged.
func (b *BufferInfo) Shrink(limit int) error {
	if limit <= 0 || b.WritingBuffer <= limit {
		return nil
	}
	if limit < b.CompressionBuffer {
		return fmt.Errorf("writing buffer of %s would be smaller than the %s compression buffer",
			bytefmt.ByteSize(uint64(limit)), bytefmt.ByteSize(uint64(b.CompressionBuffer))) //nolint:gosec // positive
	}
	log.Warnf("writing buffer reduced to %s for lack of memory", bytefmt.ByteSize(uint64(limit))) //nolint:gosec // positive
	b.WritingBuffer = limit
	b.WritingThreshold = limit
	b.OutputCapacity = limit + GzipBound(b.CompressionBuffer)
	return nil
}

// GzipBound is the worst case size of n bytes stored as one gzip member:
// the deflate bound plus the gzip header and trailer.
func GzipBound(n int) int {
	return n + n>>12 + n>>14 + n>>25 + 13 + 18
}
