package virtio

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrQueueSizeInvalid is returned when a queue size is invalid.
var ErrQueueSizeInvalid = errors.New("queue size is invalid")

// CheckQueueSize checks if the given value would be a valid size for a
// virtqueue and returns an [ErrQueueSizeInvalid], if not.
func CheckQueueSize(queueSize int) error {
	if queueSize <= 0 {
		return fmt.Errorf("%w: %d is too small", ErrQueueSizeInvalid, queueSize)
	}

	// Ring indexes only wrap correctly for powers of 2.
	if queueSize&(queueSize-1) != 0 {
		return fmt.Errorf("%w: %d is not a power of 2", ErrQueueSizeInvalid, queueSize)
	}

	if queueSize > 32768 {
		return fmt.Errorf("%w: %d is larger than the maximum possible queue size 32768",
			ErrQueueSizeInvalid, queueSize)
	}

	return nil
}

// LogQueueSize returns log2 of a valid queue size, the form hardware work
// queues are sized in.
func LogQueueSize(queueSize int) (uint8, error) {
	if err := CheckQueueSize(queueSize); err != nil {
		return 0, err
	}
	return uint8(bits.TrailingZeros(uint(queueSize))), nil
}
