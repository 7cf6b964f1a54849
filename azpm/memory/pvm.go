package memory

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PortfolioVectorMemory stores, for each period, the non-cash allocation in effect at the start
// of that period. The agent reads it to build the previous-weights part of the state and writes
// every action it takes back into it.
//
// Indices within one Update must not be written concurrently by another caller; if they are,
// the last write wins.
type PortfolioVectorMemory struct {
	memory  *mat.Dense
	initial []float64
}

// NewPortfolioVectorMemory allocates n periods of m non-cash weights. A nil initial allocation
// means uniform weights 1/(m+1), cash included.
func NewPortfolioVectorMemory(nSamples, mNonCash int, initial []float64) (*PortfolioVectorMemory, error) {
	if nSamples < 1 || mNonCash < 1 {
		return nil, fmt.Errorf("portfolio vector memory %dx%d: %w", nSamples, mNonCash, ErrShapeMismatch)
	}

	if initial == nil {
		initial = make([]float64, mNonCash)
		for i := range initial {
			initial[i] = 1 / float64(mNonCash+1)
		}
	} else {
		if len(initial) != mNonCash {
			return nil, fmt.Errorf("initial allocation has %d assets, expected %d: %w",
				len(initial), mNonCash, ErrInvalidInitialWeight)
		}
		if floats.Min(initial) < 0 || floats.Sum(initial) > 1+1e-9 {
			return nil, fmt.Errorf("initial allocation %v is not on the simplex: %w", initial, ErrInvalidInitialWeight)
		}
		initial = append([]float64(nil), initial...)
	}

	pvm := &PortfolioVectorMemory{
		memory:  mat.NewDense(nSamples, mNonCash, nil),
		initial: initial,
	}
	pvm.Reset()
	return pvm, nil
}

// Reset fills every period with the initial allocation. Called at the start of a training pass.
func (p *PortfolioVectorMemory) Reset() {
	n, _ := p.memory.Dims()
	for i := 0; i < n; i++ {
		p.memory.SetRow(i, p.initial)
	}
}

// Len is the number of periods held.
func (p *PortfolioVectorMemory) Len() int {
	n, _ := p.memory.Dims()
	return n
}

// Assets is the number of non-cash weights per period.
func (p *PortfolioVectorMemory) Assets() int {
	_, m := p.memory.Dims()
	return m
}

// Get copies the allocations stored at the given periods into a new batch, one row per index.
func (p *PortfolioVectorMemory) Get(indices []int) (*mat.Dense, error) {
	if err := p.check(indices); err != nil {
		return nil, err
	}

	out := mat.NewDense(len(indices), p.Assets(), nil)
	for row, idx := range indices {
		out.SetRow(row, p.memory.RawRowView(idx))
	}
	return out, nil
}

// Update overwrites the allocation at indices[i] with row i of weights.
func (p *PortfolioVectorMemory) Update(weights mat.Matrix, indices []int) error {
	if err := p.check(indices); err != nil {
		return err
	}

	rows, cols := weights.Dims()
	if rows != len(indices) || cols != p.Assets() {
		return fmt.Errorf("update with %dx%d weights for %d indices of %d assets: %w",
			rows, cols, len(indices), p.Assets(), ErrShapeMismatch)
	}

	for row, idx := range indices {
		mat.Row(p.memory.RawRowView(idx), row, weights)
	}
	return nil
}

func (p *PortfolioVectorMemory) check(indices []int) error {
	if len(indices) == 0 {
		return fmt.Errorf("empty index batch: %w", ErrShapeMismatch)
	}
	n := p.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return fmt.Errorf("index %d of %d periods: %w", idx, n, ErrIndexOutOfRange)
		}
	}
	return nil
}
