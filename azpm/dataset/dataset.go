// Package dataset turns a portfolio price history into normalised price windows and delivers
// them in aligned (current, next, period index) batches.
package dataset

import (
	"errors"
	"fmt"

	"github.com/ezquant/azpm/azpm/model"
	"github.com/ezquant/azpm/azpm/portfolio"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

var (
	ErrWindowTooLarge = errors.New("window does not fit the price history")
	ErrBatchTooLarge  = errors.New("batch does not fit the dataset")
	ErrOutOfRange     = errors.New("window index out of range")
)

// Dataset exposes the windows of a portfolio. Window i covers periods [i, i+size) and every
// window has a successor, so Len is NSamples - size.
type Dataset struct {
	portfolio *portfolio.Portfolio
	size      int
}

func New(p *portfolio.Portfolio, windowSize int) (*Dataset, error) {
	if windowSize < 2 || windowSize >= p.NSamples() {
		return nil, fmt.Errorf("window of %d periods over %d samples: %w", windowSize, p.NSamples(), ErrWindowTooLarge)
	}
	return &Dataset{portfolio: p, size: windowSize}, nil
}

func (d *Dataset) Len() int        { return d.portfolio.NSamples() - d.size }
func (d *Dataset) WindowSize() int { return d.size }
func (d *Dataset) Assets() int     { return d.portfolio.MNonCashAssets() }

// Window returns the close, high and low prices of window i, each divided by the close of the
// window's last period. Shape is (features, assets, periods).
func (d *Dataset) Window(i int) (*tensor.Dense, error) {
	if i < 0 || i > d.Len() {
		return nil, fmt.Errorf("window %d of %d: %w", i, d.Len(), ErrOutOfRange)
	}

	m := d.Assets()
	features := []mat.Matrix{d.portfolio.ClosePrices(), d.portfolio.HighPrices(), d.portfolio.LowPrices()}
	closes := d.portfolio.ClosePrices()
	last := i + d.size - 1

	data := make([]float64, model.NumFeatures*m*d.size)
	for f, prices := range features {
		for a := 0; a < m; a++ {
			base := closes.At(last, a)
			offset := (f*m + a) * d.size
			for p := 0; p < d.size; p++ {
				data[offset+p] = prices.At(i+p, a) / base
			}
		}
	}
	return model.NewWindow(m, d.size, data), nil
}

// Windows stacks the windows starting at each index into one batch.
func (d *Dataset) Windows(starts []int) (*tensor.Dense, error) {
	windows := make([]*tensor.Dense, len(starts))
	for i, s := range starts {
		w, err := d.Window(s)
		if err != nil {
			return nil, err
		}
		windows[i] = w
	}
	return model.StackWindows(windows)
}

// RelativePrices recovers close[t] / close[t-1] for the last period of each window in a batch
// from the normalised close feature: 1 / x[:, 0, :, periods-2].
func RelativePrices(x *tensor.Dense) (*mat.Dense, error) {
	shape := x.Shape()
	if shape.Dims() != 4 || shape[1] != model.NumFeatures || shape[3] < 2 {
		return nil, fmt.Errorf("relative prices of batch shaped %v: %w", shape, ErrWindowTooLarge)
	}

	batch, m, periods := shape[0], shape[2], shape[3]
	data := x.Data().([]float64)
	sampleSize := model.NumFeatures * m * periods

	y := mat.NewDense(batch, m, nil)
	for b := 0; b < batch; b++ {
		for a := 0; a < m; a++ {
			y.Set(b, a, 1/data[b*sampleSize+a*periods+periods-2])
		}
	}
	return y, nil
}
