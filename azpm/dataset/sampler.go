package dataset

import (
	"fmt"

	"github.com/samber/lo"
)

// SlidingWindowBatchSampler yields batches of consecutive window indices [s, s+batch),
// advancing s by step while the batch still fits.
type SlidingWindowBatchSampler struct {
	length    int
	batchSize int
	stepSize  int
}

func NewSampler(length, batchSize, stepSize int) (*SlidingWindowBatchSampler, error) {
	if batchSize < 1 || stepSize < 1 {
		return nil, fmt.Errorf("batch size %d and step size %d must be positive", batchSize, stepSize)
	}
	if batchSize > length {
		return nil, fmt.Errorf("batch of %d over %d windows: %w", batchSize, length, ErrBatchTooLarge)
	}
	return &SlidingWindowBatchSampler{length: length, batchSize: batchSize, stepSize: stepSize}, nil
}

func (s *SlidingWindowBatchSampler) BatchSize() int { return s.batchSize }

// Len is the number of batches per pass.
func (s *SlidingWindowBatchSampler) Len() int {
	return (s.length-s.batchSize)/s.stepSize + 1
}

// Batches lists every batch of one pass, in order.
func (s *SlidingWindowBatchSampler) Batches() [][]int {
	return lo.Map(lo.Range(s.Len()), func(i int, _ int) []int {
		return lo.RangeFrom(i*s.stepSize, s.batchSize)
	})
}
