package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// WindowInput binds a (batch, features, assets, periods) batch as a (batch, features*assets*periods) matrix.
func WindowInput(g *gorgonia.ExprGraph, name string, x *tensor.Dense) *gorgonia.Node {
	shape := x.Shape()
	batch := shape[0]
	flat := tensor.New(
		tensor.WithShape(batch, shape.TotalSize()/batch),
		tensor.WithBacking(append([]float64(nil), x.Data().([]float64)...)),
	)
	return gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(flat.Shape()...), gorgonia.WithName(name), gorgonia.WithValue(flat))
}

// MatrixInput binds a copy of m.
func MatrixInput(g *gorgonia.ExprGraph, name string, m mat.Matrix) *gorgonia.Node {
	rows, cols := m.Dims()
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, mat.Row(nil, i, m)...)
	}
	value := tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
	return gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(rows, cols), gorgonia.WithName(name), gorgonia.WithValue(value))
}

// ColumnInput binds values as a (len, 1) matrix.
func ColumnInput(g *gorgonia.ExprGraph, name string, values []float64) *gorgonia.Node {
	return MatrixInput(g, name, mat.NewDense(len(values), 1, append([]float64(nil), values...)))
}

// ToMatrix copies a (rows, cols) value into a gonum matrix.
func ToMatrix(v gorgonia.Value) (*mat.Dense, error) {
	shape := v.Shape()
	data, ok := v.Data().([]float64)
	if !ok || shape.Dims() != 2 {
		return nil, fmt.Errorf("value shaped %v is not a float64 matrix: %w", shape, ErrShapeMismatch)
	}
	return mat.NewDense(shape[0], shape[1], append([]float64(nil), data...)), nil
}

// Scalar extracts a single float64 from v.
func Scalar(v gorgonia.Value) (float64, error) {
	switch data := v.Data().(type) {
	case float64:
		return data, nil
	case []float64:
		if len(data) == 1 {
			return data[0], nil
		}
	}
	return 0, fmt.Errorf("value shaped %v is not a scalar: %w", v.Shape(), ErrShapeMismatch)
}

// Run executes g without gradients and returns the values of outputs.
func Run(g *gorgonia.ExprGraph, outputs ...*gorgonia.Node) ([]gorgonia.Value, error) {
	values := make([]gorgonia.Value, len(outputs))
	for i, out := range outputs {
		gorgonia.Read(out, &values[i])
	}

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, err
	}
	return detach(values), nil
}

// detach copies tensor values out of the machine before it is closed.
func detach(values []gorgonia.Value) []gorgonia.Value {
	for i, v := range values {
		if t, ok := v.(*tensor.Dense); ok {
			values[i] = t.Clone().(*tensor.Dense)
		}
	}
	return values
}

// Trainer applies Adam steps to a single module.
type Trainer struct {
	solver *gorgonia.AdamSolver
}

func NewTrainer(learnRate, beta1, beta2 float64) *Trainer {
	return &Trainer{
		solver: gorgonia.NewAdamSolver(
			gorgonia.WithLearnRate(learnRate),
			gorgonia.WithBeta1(beta1),
			gorgonia.WithBeta2(beta2),
		),
	}
}

// Minimize runs g, differentiates cost with respect to learnables, which must be the nodes
// module.Forward returned, and takes one solver step. The updated values are written back to
// the module parameters. Values of extra outputs are returned as computed before the step.
func (t *Trainer) Minimize(g *gorgonia.ExprGraph, cost *gorgonia.Node, module Module, learnables gorgonia.Nodes,
	outputs ...*gorgonia.Node) (float64, []gorgonia.Value, error) {

	params := module.Parameters()
	if len(params) != len(learnables) {
		return 0, nil, fmt.Errorf("%d learnables for %d parameters: %w", len(learnables), len(params), ErrShapeMismatch)
	}

	var costValue gorgonia.Value
	gorgonia.Read(cost, &costValue)
	values := make([]gorgonia.Value, len(outputs))
	for i, out := range outputs {
		gorgonia.Read(out, &values[i])
	}

	if _, err := gorgonia.Grad(cost, learnables...); err != nil {
		return 0, nil, fmt.Errorf("gradient: %w", err)
	}

	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return 0, nil, err
	}

	loss, err := Scalar(costValue)
	if err != nil {
		return 0, nil, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, nil, fmt.Errorf("loss %v: %w", loss, ErrNonFinite)
	}

	if err := t.solver.Step(gorgonia.NodesToValueGrads(learnables)); err != nil {
		return 0, nil, fmt.Errorf("solver step: %w", err)
	}

	for i, n := range learnables {
		updated, ok := n.Value().(*tensor.Dense)
		if !ok {
			return 0, nil, fmt.Errorf("%s holds %T: %w", params[i].Name, n.Value(), ErrShapeMismatch)
		}
		if updated != params[i].Value {
			copy(params[i].Value.Data().([]float64), updated.Data().([]float64))
		}
	}

	return loss, detach(values), nil
}
