package model

import (
	"fmt"

	"gorgonia.org/tensor"
)

// NumFeatures is the number of price features per asset in a window: close, high, low.
const NumFeatures = 3

// NewWindow wraps data as a single window of shape (features, assets, periods).
func NewWindow(assets, periods int, data []float64) *tensor.Dense {
	return tensor.New(tensor.WithShape(NumFeatures, assets, periods), tensor.WithBacking(data))
}

// StackWindows copies single windows into one batch tensor of shape (batch, features, assets, periods).
func StackWindows(windows []*tensor.Dense) (*tensor.Dense, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("stack windows: empty batch")
	}

	shape := windows[0].Shape().Clone()
	size := shape.TotalSize()
	data := make([]float64, 0, size*len(windows))

	for i, w := range windows {
		if !w.Shape().Eq(shape) {
			return nil, fmt.Errorf("stack windows: window %d has shape %v, expected %v", i, w.Shape(), shape)
		}
		data = append(data, w.Data().([]float64)...)
	}

	return tensor.New(tensor.WithShape(append(tensor.Shape{len(windows)}, shape...)...), tensor.WithBacking(data)), nil
}

// SplitWindows copies every sample of a batch tensor into its own window.
func SplitWindows(batch *tensor.Dense) ([]*tensor.Dense, error) {
	shape := batch.Shape()
	if shape.Dims() < 2 {
		return nil, fmt.Errorf("split windows: shape %v has no batch dimension", shape)
	}

	inner := shape[1:].Clone()
	size := inner.TotalSize()
	data := batch.Data().([]float64)

	windows := make([]*tensor.Dense, shape[0])
	for i := range windows {
		backing := make([]float64, size)
		copy(backing, data[i*size:(i+1)*size])
		windows[i] = tensor.New(tensor.WithShape(inner...), tensor.WithBacking(backing))
	}
	return windows, nil
}
