package dataset

import (
	"context"

	"gorgonia.org/tensor"
)

const defaultPrefetch = 2

// Batch is one aligned unit of the pipeline: the windows starting at PrevIndex and the
// windows one period later.
type Batch struct {
	X         *tensor.Dense
	XNext     *tensor.Dense
	PrevIndex []int
}

// Loader materialises batches in sampler order on a background goroutine.
type Loader struct {
	dataset  *Dataset
	sampler  *SlidingWindowBatchSampler
	prefetch int
}

type LoaderOption func(*Loader)

// WithPrefetch sets how many fully built batches may wait for the consumer.
func WithPrefetch(n int) LoaderOption {
	return func(l *Loader) {
		l.prefetch = n
	}
}

func NewLoader(dataset *Dataset, sampler *SlidingWindowBatchSampler, options ...LoaderOption) *Loader {
	l := &Loader{dataset: dataset, sampler: sampler, prefetch: defaultPrefetch}
	for _, option := range options {
		option(l)
	}
	if l.prefetch < 0 {
		l.prefetch = 0
	}
	return l
}

func (l *Loader) Len() int       { return l.sampler.Len() }
func (l *Loader) BatchSize() int { return l.sampler.BatchSize() }

// Load builds the batch starting at the given window indices.
func (l *Loader) Load(starts []int) (Batch, error) {
	x, err := l.dataset.Windows(starts)
	if err != nil {
		return Batch{}, err
	}

	next := make([]int, len(starts))
	for i, s := range starts {
		next[i] = s + 1
	}
	xNext, err := l.dataset.Windows(next)
	if err != nil {
		return Batch{}, err
	}

	return Batch{X: x, XNext: xNext, PrevIndex: append([]int(nil), starts...)}, nil
}

// Stream delivers one pass of batches. A single producer keeps delivery in order; the batch
// channel is closed when the pass ends, ctx is cancelled or a batch fails to build, in which
// case the error is sent on the error channel.
func (l *Loader) Stream(ctx context.Context) (<-chan Batch, <-chan error) {
	batches := make(chan Batch, l.prefetch)
	errc := make(chan error, 1)

	go func() {
		defer close(batches)
		defer close(errc)

		for _, starts := range l.sampler.Batches() {
			if err := ctx.Err(); err != nil {
				errc <- err
				return
			}

			batch, err := l.Load(starts)
			if err != nil {
				errc <- err
				return
			}

			select {
			case batches <- batch:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return batches, errc
}
