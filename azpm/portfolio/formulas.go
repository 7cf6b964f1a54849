package portfolio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TransactionCostIterations is the fixed number of fixed-point steps used to solve the
// transaction remainder factor. Reward values are only reproducible with this exact count.
const TransactionCostIterations = 3

// RelativePriceVector returns price[t] / price[t-1] per column. There is no ratio for t = 0.
func RelativePriceVector(prices mat.Matrix, t int) ([]float64, error) {
	n, m := prices.Dims()
	if t < 1 || t >= n {
		return nil, fmt.Errorf("relative price at %d of %d periods: %w", t, n, ErrPeriodOutOfRange)
	}

	y := make([]float64, m)
	for j := range y {
		y[j] = prices.At(t, j) / prices.At(t-1, j)
	}
	return y, nil
}

// EndOfPeriodWeights drifts wPrev with the market move y: (y * wPrev) / sum(y * wPrev), row-wise.
func EndOfPeriodWeights(y, wPrev mat.Matrix) (*mat.Dense, error) {
	batch, m, err := sameDims(y, wPrev)
	if err != nil {
		return nil, err
	}

	drift := mat.NewDense(batch, m, nil)
	drift.MulElem(y, wPrev)

	for i := 0; i < batch; i++ {
		row := drift.RawRowView(i)
		total := floats.Sum(row)
		if !(total > 0) {
			return nil, fmt.Errorf("end of period weights, sample %d: drifted sum %v: %w", i, total, ErrNonPositiveReturn)
		}
		floats.Scale(1/total, row)
	}

	return drift, nil
}

// TransactionRemainderFactor estimates, per sample, the fraction of value left after paying
// commission to move from the drifted weights to w. The estimate is refined a fixed number of
// times instead of iterating to a tolerance.
func TransactionRemainderFactor(w, y, wPrev mat.Matrix, commissionRate float64, iterations int) ([]float64, error) {
	batch, m, err := sameDims(w, y, wPrev)
	if err != nil {
		return nil, err
	}

	wPrime, err := EndOfPeriodWeights(y, wPrev)
	if err != nil {
		return nil, err
	}

	c := commissionRate
	mu := make([]float64, batch)
	target := make([]float64, m)
	diff := make([]float64, m)

	for i := 0; i < batch; i++ {
		mat.Row(target, i, w)
		drifted := wPrime.RawRowView(i)

		cashPrime := 1 - floats.Sum(drifted)
		cash := 1 - floats.Sum(target)

		denominator := 1 - c*cash
		if !(denominator > 0) {
			return nil, fmt.Errorf("transaction remainder factor, sample %d: cash weight %v: %w", i, cash, ErrDegenerateAllocation)
		}

		floats.SubTo(diff, target, drifted)
		u := c * floats.Norm(diff, 1)

		for k := 0; k < iterations; k++ {
			update := 0.0
			for j := range drifted {
				update += math.Max(drifted[j]-u*target[j], 0)
			}
			u = (1 - c*cashPrime - c*(2-c)*update) / denominator
		}

		if math.IsNaN(u) || math.IsInf(u, 0) {
			return nil, fmt.Errorf("transaction remainder factor, sample %d: %v: %w", i, u, ErrDegenerateAllocation)
		}
		mu[i] = u
	}

	return mu, nil
}

// Reward is the per-sample log return net of transaction cost, divided by the batch size:
// log(mu * sum(y * wPrev)) / batch.
func Reward(w, y, wPrev mat.Matrix, commissionRate float64) ([]float64, error) {
	batch, m, err := sameDims(w, y, wPrev)
	if err != nil {
		return nil, err
	}

	mu, err := TransactionRemainderFactor(w, y, wPrev, commissionRate, TransactionCostIterations)
	if err != nil {
		return nil, err
	}

	yRow := make([]float64, m)
	wRow := make([]float64, m)
	rewards := make([]float64, batch)
	for i := 0; i < batch; i++ {
		mat.Row(yRow, i, y)
		mat.Row(wRow, i, wPrev)

		value := mu[i] * floats.Dot(yRow, wRow)
		if !(value > 0) {
			return nil, fmt.Errorf("reward, sample %d: log of %v: %w", i, value, ErrNonPositiveReturn)
		}
		rewards[i] = math.Log(value) / float64(batch)
	}

	return rewards, nil
}

func sameDims(matrices ...mat.Matrix) (rows, cols int, err error) {
	rows, cols = matrices[0].Dims()
	if rows == 0 || cols == 0 {
		return 0, 0, fmt.Errorf("empty batch %dx%d: %w", rows, cols, ErrDimensionMismatch)
	}
	for _, m := range matrices[1:] {
		r, c := m.Dims()
		if r != rows || c != cols {
			return 0, 0, fmt.Errorf("got %dx%d, expected %dx%d: %w", r, c, rows, cols, ErrDimensionMismatch)
		}
	}
	return rows, cols, nil
}
