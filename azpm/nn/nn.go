// Package nn holds the actor and critic networks and the parameter plumbing around them.
//
// Networks own their parameters as plain tensors. Every computation builds a fresh gorgonia
// graph that binds those tensors, so the same network can appear in any number of graphs and
// target copies never share memory with their source.
package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var (
	ErrUnsupportedDevice = errors.New("unsupported device")
	ErrShapeMismatch     = errors.New("parameter shape mismatch")
	ErrNonFinite         = errors.New("non-finite value")
)

// Device selects where graphs are executed.
type Device string

const CPU Device = "cpu"

// Config describes the inputs shared by actor and critic.
type Config struct {
	Assets     int // non-cash assets
	WindowSize int
	Hidden     int
	Dropout    float64
	Device     Device
	Seed       int64
}

// Features is the flattened size of one price window.
func (c Config) Features() int {
	return 3 * c.Assets * c.WindowSize
}

func (c Config) validate() error {
	if c.Device != CPU {
		return fmt.Errorf("device %q: %w", c.Device, ErrUnsupportedDevice)
	}
	if c.Assets < 1 || c.WindowSize < 2 || c.Hidden < 1 {
		return fmt.Errorf("network with %d assets, window %d, hidden %d: %w", c.Assets, c.WindowSize, c.Hidden, ErrShapeMismatch)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout %v outside [0, 1)", c.Dropout)
	}
	return nil
}

// Parameter is a named trainable tensor.
type Parameter struct {
	Name  string
	Value *tensor.Dense
}

// Module is anything with an ordered parameter set.
type Module interface {
	Parameters() []Parameter
	// CopyFrom overwrites every parameter with the value of the matching parameter of src.
	CopyFrom(src Module) error
}

// Actor maps (window, prior allocation) to a new non-cash allocation.
type Actor interface {
	Module
	// Forward adds the policy to g. window is (batch, features) and prior (batch, assets).
	// It returns the (batch, assets) allocation and the parameter nodes in Parameters order.
	// Training-only regularisation is applied only when train is set.
	Forward(g *gorgonia.ExprGraph, window, prior *gorgonia.Node, train bool) (*gorgonia.Node, gorgonia.Nodes, error)
	// Clone builds a structurally identical actor with its own copy of the parameters.
	Clone() Actor
}

// Critic estimates the value of taking action in state (window, prior).
type Critic interface {
	Module
	// Forward adds the value function to g and returns a (batch, 1) estimate.
	Forward(g *gorgonia.ExprGraph, window, prior, action *gorgonia.Node) (*gorgonia.Node, gorgonia.Nodes, error)
	Clone() Critic
}

// SoftUpdate blends target toward main: target = tau*main + (1-tau)*target.
func SoftUpdate(target, main Module, tau float64) error {
	return zipParameters(target, main, func(dst, src []float64) {
		for i := range dst {
			dst[i] = tau*src[i] + (1-tau)*dst[i]
		}
	})
}

// Copy overwrites the parameters of dst with those of src.
func Copy(dst, src Module) error {
	return zipParameters(dst, src, func(d, s []float64) {
		copy(d, s)
	})
}

func zipParameters(dst, src Module, fn func(dst, src []float64)) error {
	dp, sp := dst.Parameters(), src.Parameters()
	if len(dp) != len(sp) {
		return fmt.Errorf("%d parameters, source has %d: %w", len(dp), len(sp), ErrShapeMismatch)
	}
	for i := range dp {
		if !dp[i].Value.Shape().Eq(sp[i].Value.Shape()) {
			return fmt.Errorf("%s %v, source %s %v: %w",
				dp[i].Name, dp[i].Value.Shape(), sp[i].Name, sp[i].Value.Shape(), ErrShapeMismatch)
		}
	}
	for i := range dp {
		fn(dp[i].Value.Data().([]float64), sp[i].Value.Data().([]float64))
	}
	return nil
}

// Snapshot copies every parameter into a map keyed by name.
func Snapshot(m Module) map[string][]float64 {
	out := make(map[string][]float64)
	for _, p := range m.Parameters() {
		out[p.Name] = append([]float64(nil), p.Value.Data().([]float64)...)
	}
	return out
}

// Restore loads a snapshot taken from a module of the same structure.
func Restore(m Module, snapshot map[string][]float64) error {
	params := m.Parameters()
	for _, p := range params {
		values, ok := snapshot[p.Name]
		if !ok {
			return fmt.Errorf("snapshot has no %s: %w", p.Name, ErrShapeMismatch)
		}
		if len(values) != p.Value.Shape().TotalSize() {
			return fmt.Errorf("snapshot %s has %d values, expected %d: %w",
				p.Name, len(values), p.Value.Shape().TotalSize(), ErrShapeMismatch)
		}
	}
	for _, p := range params {
		copy(p.Value.Data().([]float64), snapshot[p.Name])
	}
	return nil
}

// glorot draws a (in, out) matrix from U(-l, l), l = sqrt(6 / (in + out)).
func glorot(rng *rand.Rand, in, out int) *tensor.Dense {
	limit := math.Sqrt(6 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return tensor.New(tensor.WithShape(in, out), tensor.WithBacking(data))
}

func zeros(rows, cols int) *tensor.Dense {
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(make([]float64, rows*cols)))
}

func cloneTensor(t *tensor.Dense) *tensor.Dense {
	data := append([]float64(nil), t.Data().([]float64)...)
	return tensor.New(tensor.WithShape(t.Shape().Clone()...), tensor.WithBacking(data))
}
