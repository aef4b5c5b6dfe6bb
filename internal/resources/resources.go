// Package resources splits CPUs between readers and workers and sizes
// buffers to the memory that is available.
package resources

import (
	"errors"
	"fmt"
	"math"

	"code.cloudfoundry.org/bytefmt"
	log "github.com/sirupsen/logrus"
)

// Memory amounts are decimal, matching instrument vendor tooling.
const (
	GB = 1_000_000_000

	// MinMemory is the least free memory a run will start with.
	MinMemory = GB / 2
	// ReservedMemory is kept back for everything except output buffers.
	ReservedMemory = GB / 2
)

// Batch size bounds for reader buffers.
const (
	MinBatchRecords = 256
	MaxBatchRecords = 1 << 16
)

// ErrInsufficientMemory is returned when the machine or the request cannot
// cover a run.
var ErrInsufficientMemory = errors.New("insufficient memory")

// SplitCPUs divides total CPUs into reader and worker goroutines. A single
// CPU gets no dedicated reader.
func SplitCPUs(total int, paired bool) (readers, workers int) {
	if total < 1 {
		total = 1
	}
	switch {
	case total == 1:
		readers = 0
	case paired && total < 5:
		readers = 1
	case paired && total < 9:
		readers = 2
	case paired:
		readers = 4
	case total > 4:
		readers = 2
	default:
		readers = 1
	}
	workers = max(total-readers, 1)
	log.Debugf("CPUs %d: readers %d, workers %d", total, readers, workers)
	return readers, workers
}

// AvailableMemory returns the memory the run may use for output buffers.
// requested is in bytes; zero means everything the system reports free.
func AvailableMemory(requested uint64) (uint64, error) {
	system, err := systemMemory()
	if err != nil {
		if requested == 0 {
			return 0, fmt.Errorf("cannot determine free memory, set it explicitly: %w", err)
		}
		log.Warnf("cannot determine free memory (%v), trusting the requested %s", err, bytefmt.ByteSize(requested))
		system = requested
	}
	log.Infof("available memory: %s", bytefmt.ByteSize(system))
	if system <= MinMemory {
		return 0, fmt.Errorf("%w: %s free, need more than %s",
			ErrInsufficientMemory, bytefmt.ByteSize(system), bytefmt.ByteSize(MinMemory))
	}
	usable := system
	if requested > 0 {
		if requested > system {
			return 0, fmt.Errorf("%w: requested %s, available %s",
				ErrInsufficientMemory, bytefmt.ByteSize(requested), bytefmt.ByteSize(system))
		}
		if requested <= ReservedMemory {
			return 0, fmt.Errorf("%w: requested %s, need more than %s",
				ErrInsufficientMemory, bytefmt.ByteSize(requested), bytefmt.ByteSize(ReservedMemory))
		}
		usable = requested
	}
	return usable - ReservedMemory, nil
}

// RequiredMemory is the output buffer memory for samples writers, each
// holding a writing buffer and two compression buffers per read side.
func RequiredMemory(samples int, writing, compression uint64, paired bool) uint64 {
	m := uint64(samples) * (writing + 2*compression) //nolint:gosec // sample counts are small
	if paired {
		m *= 2
	}
	return m
}

// LargestBufferSize returns the largest power of two writing buffer that
// fits in available memory when every worker keeps its own buffers.
// Single-end runs are sized as if paired so both layouts share one limit.
func LargestBufferSize(available uint64, samples int, compression uint64, singleEnd bool, workers int) uint64 {
	if singleEnd {
		samples *= 2
	}
	if samples < 1 || workers < 1 {
		return 0
	}
	per := float64(available)/float64(samples*workers) - 2*float64(compression)
	if per < 1 {
		return 0
	}
	return 1 << uint(math.Floor(math.Log2(per)))
}

// BatchRecords returns how many records of recordLen bytes each of buffers
// reader buffers may hold within memory.
func BatchRecords(memory uint64, buffers, recordLen int) int {
	if buffers < 1 || recordLen < 1 {
		return MinBatchRecords
	}
	per := memory / uint64(buffers) / uint64(recordLen+recordLen/4) //nolint:gosec // positive
	switch {
	case per < MinBatchRecords:
		return MinBatchRecords
	case per > MaxBatchRecords:
		return MaxBatchRecords
	}
	return int(per) //nolint:gosec // bounded above
}
