package memory

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ezquant/azpm/azpm/model"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// DefaultCapacity is the number of transitions kept before the oldest are evicted.
const DefaultCapacity = 1_000_000

// Transition is a single stored experience. The next state is (NextWindow, Action).
type Transition struct {
	Index      int
	Window     *tensor.Dense
	Prior      []float64
	Action     []float64
	Reward     float64
	NextWindow *tensor.Dense
}

// Batch groups transitions field by field. Windows are (batch, features, assets, periods),
// Priors and Actions are batch x assets.
type Batch struct {
	Indices     []int
	Windows     *tensor.Dense
	Priors      *mat.Dense
	Actions     *mat.Dense
	Rewards     []float64
	NextWindows *tensor.Dense
}

// Len is the batch size.
func (b *Batch) Len() int {
	return len(b.Indices)
}

// ReplayMemory is a bounded FIFO of transitions sampled uniformly without replacement.
type ReplayMemory struct {
	buffer   []Transition
	head     int
	size     int
	capacity int
	rng      *rand.Rand
}

type ReplayOption func(*ReplayMemory)

// WithCapacity bounds the number of stored transitions.
func WithCapacity(capacity int) ReplayOption {
	return func(r *ReplayMemory) {
		r.capacity = capacity
	}
}

// WithRand sets the random source used by Sample; seed it for reproducible sampling.
func WithRand(rng *rand.Rand) ReplayOption {
	return func(r *ReplayMemory) {
		r.rng = rng
	}
}

func NewReplayMemory(options ...ReplayOption) *ReplayMemory {
	r := &ReplayMemory{capacity: DefaultCapacity}
	for _, option := range options {
		option(r)
	}
	if r.capacity < 1 {
		r.capacity = DefaultCapacity
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r
}

func (r *ReplayMemory) Len() int      { return r.size }
func (r *ReplayMemory) Capacity() int { return r.capacity }

// At returns the i-th oldest stored transition.
func (r *ReplayMemory) At(i int) (Transition, error) {
	if i < 0 || i >= r.size {
		return Transition{}, fmt.Errorf("replay position %d of %d: %w", i, r.size, ErrIndexOutOfRange)
	}
	return r.buffer[r.position(i)], nil
}

func (r *ReplayMemory) position(i int) int {
	return (r.head + i) % len(r.buffer)
}

// Push stores one transition, evicting the oldest when full.
func (r *ReplayMemory) Push(t Transition) {
	if len(r.buffer) < r.capacity {
		r.buffer = append(r.buffer, t)
		r.size++
		return
	}
	r.buffer[r.head] = t
	r.head = (r.head + 1) % r.capacity
}

// Add expands a batch along its first dimension and stores every sample as its own transition.
// All fields are copied.
func (r *ReplayMemory) Add(batch *Batch) error {
	n := batch.Len()
	if err := batch.validate(); err != nil {
		return err
	}

	windows, err := model.SplitWindows(batch.Windows)
	if err != nil {
		return err
	}
	nextWindows, err := model.SplitWindows(batch.NextWindows)
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		r.Push(Transition{
			Index:      batch.Indices[i],
			Window:     windows[i],
			Prior:      mat.Row(nil, i, batch.Priors),
			Action:     mat.Row(nil, i, batch.Actions),
			Reward:     batch.Rewards[i],
			NextWindow: nextWindows[i],
		})
	}
	return nil
}

// Sample draws n distinct transitions uniformly at random and restacks them field by field.
func (r *ReplayMemory) Sample(n int) (*Batch, error) {
	if n < 1 || n > r.size {
		return nil, fmt.Errorf("sample %d of %d transitions: %w", n, r.size, ErrInsufficientSamples)
	}

	picked := r.choose(n)
	transitions := make([]Transition, n)
	for i, p := range picked {
		transitions[i] = r.buffer[r.position(p)]
	}
	return NewBatch(transitions)
}

// choose picks n distinct positions in [0, size) with Floyd's algorithm, then shuffles them.
func (r *ReplayMemory) choose(n int) []int {
	chosen := make(map[int]struct{}, n)
	picked := make([]int, 0, n)
	for j := r.size - n; j < r.size; j++ {
		t := r.rng.Intn(j + 1)
		if _, ok := chosen[t]; ok {
			t = j
		}
		chosen[t] = struct{}{}
		picked = append(picked, t)
	}
	r.rng.Shuffle(len(picked), func(i, j int) {
		picked[i], picked[j] = picked[j], picked[i]
	})
	return picked
}

// NewBatch stacks transitions into a Batch.
func NewBatch(transitions []Transition) (*Batch, error) {
	if len(transitions) == 0 {
		return nil, fmt.Errorf("empty transition list: %w", ErrShapeMismatch)
	}

	n, m := len(transitions), len(transitions[0].Action)
	batch := &Batch{
		Indices: make([]int, n),
		Priors:  mat.NewDense(n, m, nil),
		Actions: mat.NewDense(n, m, nil),
		Rewards: make([]float64, n),
	}
	windows := make([]*tensor.Dense, n)
	nextWindows := make([]*tensor.Dense, n)

	for i, t := range transitions {
		if len(t.Action) != m || len(t.Prior) != m {
			return nil, fmt.Errorf("transition %d has %d/%d weights, expected %d: %w",
				i, len(t.Prior), len(t.Action), m, ErrShapeMismatch)
		}
		batch.Indices[i] = t.Index
		batch.Priors.SetRow(i, t.Prior)
		batch.Actions.SetRow(i, t.Action)
		batch.Rewards[i] = t.Reward
		windows[i] = t.Window
		nextWindows[i] = t.NextWindow
	}

	var err error
	if batch.Windows, err = model.StackWindows(windows); err != nil {
		return nil, err
	}
	if batch.NextWindows, err = model.StackWindows(nextWindows); err != nil {
		return nil, err
	}
	return batch, nil
}

func (b *Batch) validate() error {
	n := b.Len()
	if n == 0 {
		return fmt.Errorf("empty batch: %w", ErrShapeMismatch)
	}
	if b.Windows == nil || b.NextWindows == nil || b.Priors == nil || b.Actions == nil {
		return fmt.Errorf("incomplete batch: %w", ErrShapeMismatch)
	}

	pr, pc := b.Priors.Dims()
	ar, ac := b.Actions.Dims()
	switch {
	case len(b.Rewards) != n, pr != n, ar != n, pc != ac,
		b.Windows.Shape()[0] != n, b.NextWindows.Shape()[0] != n:
		return fmt.Errorf("batch of %d with %d rewards, %dx%d priors, %dx%d actions, windows %v/%v: %w",
			n, len(b.Rewards), pr, pc, ar, ac, b.Windows.Shape(), b.NextWindows.Shape(), ErrShapeMismatch)
	}
	return nil
}
