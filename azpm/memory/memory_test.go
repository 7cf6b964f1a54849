package memory

import (
	"math/rand"
	"testing"

	"github.com/ezquant/azpm/azpm/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

func TestPortfolioVectorMemory(t *testing.T) {
	pvm, err := NewPortfolioVectorMemory(10, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, pvm.Len())
	assert.Equal(t, 2, pvm.Assets())

	t.Run("initial uniform", func(t *testing.T) {
		got, err := pvm.Get([]int{0, 5, 9})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			for j := 0; j < 2; j++ {
				assert.Equal(t, 1.0/3, got.At(i, j))
			}
		}
	})

	t.Run("update then get", func(t *testing.T) {
		weights := mat.NewDense(2, 2, []float64{0.1, 0.7, 0.4, 0.4})
		require.NoError(t, pvm.Update(weights, []int{3, 4}))

		got, err := pvm.Get([]int{4, 3})
		require.NoError(t, err)
		assert.Equal(t, []float64{0.4, 0.4}, got.RawRowView(0))
		assert.Equal(t, []float64{0.1, 0.7}, got.RawRowView(1))
	})

	t.Run("get returns a copy", func(t *testing.T) {
		got, err := pvm.Get([]int{3})
		require.NoError(t, err)
		got.Set(0, 0, 42)

		again, err := pvm.Get([]int{3})
		require.NoError(t, err)
		assert.Equal(t, 0.1, again.At(0, 0))
	})

	t.Run("last write wins", func(t *testing.T) {
		weights := mat.NewDense(2, 2, []float64{0.2, 0.2, 0.3, 0.3})
		require.NoError(t, pvm.Update(weights, []int{7, 7}))
		got, err := pvm.Get([]int{7})
		require.NoError(t, err)
		assert.Equal(t, []float64{0.3, 0.3}, got.RawRowView(0))
	})

	t.Run("bounds", func(t *testing.T) {
		_, err := pvm.Get([]int{10})
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		_, err = pvm.Get([]int{-1})
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		err = pvm.Update(mat.NewDense(1, 2, nil), []int{10})
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		err = pvm.Update(mat.NewDense(1, 3, nil), []int{1})
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("reset", func(t *testing.T) {
		pvm.Reset()
		got, err := pvm.Get([]int{3})
		require.NoError(t, err)
		assert.Equal(t, []float64{1.0 / 3, 1.0 / 3}, got.RawRowView(0))
	})
}

func TestPortfolioVectorMemoryInitial(t *testing.T) {
	pvm, err := NewPortfolioVectorMemory(4, 3, []float64{0.5, 0.25, 0})
	require.NoError(t, err)
	got, err := pvm.Get([]int{2})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25, 0}, got.RawRowView(0))

	_, err = NewPortfolioVectorMemory(4, 3, []float64{0.5, 0.5})
	assert.ErrorIs(t, err, ErrInvalidInitialWeight)
	_, err = NewPortfolioVectorMemory(4, 2, []float64{0.9, 0.9})
	assert.ErrorIs(t, err, ErrInvalidInitialWeight)
	_, err = NewPortfolioVectorMemory(4, 2, []float64{-0.1, 0.5})
	assert.ErrorIs(t, err, ErrInvalidInitialWeight)
	_, err = NewPortfolioVectorMemory(0, 2, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

// batchOf builds a batch whose windows, weights and rewards all encode the period index.
func batchOf(indices ...int) *Batch {
	const assets, periods = 2, 3
	size := model.NumFeatures * assets * periods
	n := len(indices)

	windows := make([]float64, 0, n*size)
	next := make([]float64, 0, n*size)
	batch := &Batch{
		Indices: indices,
		Priors:  mat.NewDense(n, assets, nil),
		Actions: mat.NewDense(n, assets, nil),
		Rewards: make([]float64, n),
	}
	for i, idx := range indices {
		for k := 0; k < size; k++ {
			windows = append(windows, float64(idx))
			next = append(next, float64(idx+1))
		}
		batch.Priors.SetRow(i, []float64{float64(idx), 0})
		batch.Actions.SetRow(i, []float64{0, float64(idx)})
		batch.Rewards[i] = float64(idx) / 10
	}
	batch.Windows = tensor.New(tensor.WithShape(n, model.NumFeatures, assets, periods), tensor.WithBacking(windows))
	batch.NextWindows = tensor.New(tensor.WithShape(n, model.NumFeatures, assets, periods), tensor.WithBacking(next))
	return batch
}

func TestReplayMemoryAdd(t *testing.T) {
	replay := NewReplayMemory(WithCapacity(5))

	require.NoError(t, replay.Add(batchOf(0, 1)))
	assert.Equal(t, 2, replay.Len())

	first, err := replay.At(0)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, []int{model.NumFeatures, 2, 3}, []int(first.Window.Shape()))

	second, err := replay.At(1)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, []float64{1, 0}, second.Prior)
	assert.Equal(t, []float64{0, 1}, second.Action)
	assert.Equal(t, 0.1, second.Reward)
	assert.Equal(t, 2.0, second.NextWindow.Data().([]float64)[0])

	// 2 stored + 4 added with capacity 5 evicts exactly the oldest one
	require.NoError(t, replay.Add(batchOf(2, 3, 4, 5)))
	assert.Equal(t, 5, replay.Len())
	for i := 0; i < 5; i++ {
		tr, err := replay.At(i)
		require.NoError(t, err)
		assert.Equal(t, i+1, tr.Index)
	}

	require.NoError(t, replay.Add(batchOf(6, 7, 8)))
	assert.Equal(t, 5, replay.Len())
	var order []int
	for i := 0; i < replay.Len(); i++ {
		tr, err := replay.At(i)
		require.NoError(t, err)
		order = append(order, tr.Index)
	}
	assert.Equal(t, []int{4, 5, 6, 7, 8}, order)

	_, err = replay.At(5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestReplayMemoryAddCopies(t *testing.T) {
	replay := NewReplayMemory()
	batch := batchOf(3)
	require.NoError(t, replay.Add(batch))

	batch.Actions.Set(0, 1, 99)
	batch.Windows.Data().([]float64)[0] = 99

	tr, err := replay.At(0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, tr.Action[1])
	assert.Equal(t, 3.0, tr.Window.Data().([]float64)[0])
}

func TestReplayMemoryAddInvalid(t *testing.T) {
	replay := NewReplayMemory()

	batch := batchOf(1, 2)
	batch.Rewards = batch.Rewards[:1]
	assert.ErrorIs(t, replay.Add(batch), ErrShapeMismatch)

	assert.ErrorIs(t, replay.Add(&Batch{}), ErrShapeMismatch)
	assert.Zero(t, replay.Len())
}

func TestReplayMemorySample(t *testing.T) {
	replay := NewReplayMemory(WithCapacity(100), WithRand(rand.New(rand.NewSource(7))))
	require.NoError(t, replay.Add(batchOf(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)))

	_, err := replay.Sample(11)
	assert.ErrorIs(t, err, ErrInsufficientSamples)
	_, err = replay.Sample(0)
	assert.ErrorIs(t, err, ErrInsufficientSamples)

	for trial := 0; trial < 50; trial++ {
		batch, err := replay.Sample(6)
		require.NoError(t, err)
		require.Equal(t, 6, batch.Len())

		seen := make(map[int]bool)
		for i, idx := range batch.Indices {
			assert.False(t, seen[idx], "duplicate index %d", idx)
			seen[idx] = true

			// fields stay aligned per transition
			assert.Equal(t, float64(idx), batch.Priors.At(i, 0))
			assert.Equal(t, float64(idx), batch.Actions.At(i, 1))
			assert.Equal(t, float64(idx)/10, batch.Rewards[i])
			assert.Equal(t, float64(idx), batch.Windows.Data().([]float64)[i*18])
			assert.Equal(t, float64(idx+1), batch.NextWindows.Data().([]float64)[i*18])
		}
		assert.Equal(t, []int{6, model.NumFeatures, 2, 3}, []int(batch.Windows.Shape()))
	}

	all, err := replay.Sample(10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, all.Indices)
}

func TestReplayMemorySeeded(t *testing.T) {
	sample := func() []int {
		replay := NewReplayMemory(WithRand(rand.New(rand.NewSource(1))))
		require.NoError(t, replay.Add(batchOf(0, 1, 2, 3, 4, 5, 6, 7)))
		batch, err := replay.Sample(4)
		require.NoError(t, err)
		return batch.Indices
	}
	assert.Equal(t, sample(), sample())
}
