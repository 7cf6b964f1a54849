package portfolio

import (
	"fmt"
	"strings"

	"github.com/ezquant/azpm/azpm/model"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
)

// DefaultCommissionRate is the maximum taker fee charged on both sides of a trade.
const DefaultCommissionRate = 0.0026

// Portfolio is a fixed universe of assets with one designated cash asset.
// The price matrices are period x non-cash asset, in universe order.
type Portfolio struct {
	assets   map[string]model.Asset
	order    []string
	noncash  []string
	cash     string
	nSamples int

	commissionRate float64

	open     *mat.Dense
	high     *mat.Dense
	low      *mat.Dense
	close    *mat.Dense
	relative *mat.Dense
}

type Option func(*Portfolio)

// WithCash designates the cash asset, "CASH" by default.
func WithCash(name string) Option {
	return func(p *Portfolio) {
		p.cash = model.NormalizeName(name)
	}
}

// WithCommissionRate sets the rate used by Reward.
func WithCommissionRate(rate float64) Option {
	return func(p *Portfolio) {
		p.commissionRate = rate
	}
}

// New builds a portfolio over names, reading non-cash series from the store.
// The cash asset must be part of names and needs no series.
func New(store *PriceStore, names []string, options ...Option) (*Portfolio, error) {
	p := &Portfolio{
		assets:         make(map[string]model.Asset, len(names)),
		cash:           model.DefaultCash,
		commissionRate: DefaultCommissionRate,
		nSamples:       store.NSamples(),
	}
	for _, option := range options {
		option(p)
	}

	p.order = lo.Map(names, func(name string, _ int) string {
		return model.NormalizeName(name)
	})
	if len(lo.Uniq(p.order)) != len(p.order) {
		return nil, fmt.Errorf("portfolio %v: %w", p.order, ErrDuplicate)
	}
	if !lo.Contains(p.order, p.cash) {
		return nil, fmt.Errorf("portfolio: cash asset %s not in universe: %w", p.cash, ErrUnknownAsset)
	}
	if len(p.order) < 2 {
		return nil, fmt.Errorf("portfolio: need at least one non-cash asset: %w", ErrMissingSeries)
	}
	if p.commissionRate < 0 || p.commissionRate >= 1 {
		return nil, fmt.Errorf("portfolio: commission rate %v outside [0, 1)", p.commissionRate)
	}

	for _, name := range p.order {
		if name == p.cash {
			p.assets[name] = cashAsset(name, p.nSamples)
			continue
		}

		asset, ok := store.Get(name)
		if !ok {
			return nil, fmt.Errorf("portfolio: %s: %w", name, ErrMissingSeries)
		}
		p.assets[name] = asset
		p.noncash = append(p.noncash, name)
	}

	p.open = p.matrix(model.FieldOpen)
	p.high = p.matrix(model.FieldHigh)
	p.low = p.matrix(model.FieldLow)
	p.close = p.matrix(model.FieldClose)
	p.relative = relativePrices(p.close)

	return p, nil
}

func cashAsset(name string, n int) model.Asset {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	return model.Asset{Name: name, Open: ones, Close: ones, High: ones, Low: ones, Cash: true}
}

func (p *Portfolio) matrix(field model.PriceField) *mat.Dense {
	m := mat.NewDense(p.nSamples, len(p.noncash), nil)
	for j, name := range p.noncash {
		m.SetCol(j, p.assets[name].Series(field))
	}
	return m
}

// relativePrices divides each close by the previous one. Row 0 has no predecessor and is ones.
func relativePrices(close *mat.Dense) *mat.Dense {
	n, m := close.Dims()
	rel := mat.NewDense(n, m, nil)
	for j := 0; j < m; j++ {
		rel.Set(0, j, 1)
	}
	for t := 1; t < n; t++ {
		for j := 0; j < m; j++ {
			rel.Set(t, j, close.At(t, j)/close.At(t-1, j))
		}
	}
	return rel
}

func (p *Portfolio) String() string {
	return fmt.Sprintf("Portfolio size: %d, assets: [%s]", p.MAssets(), strings.Join(p.order, ", "))
}

// Asset returns the asset with the given name, case-insensitive.
func (p *Portfolio) Asset(name string) (model.Asset, bool) {
	a, ok := p.assets[model.NormalizeName(name)]
	return a, ok
}

// Assets returns every asset in universe order, cash included.
func (p *Portfolio) Assets() []model.Asset {
	return lo.Map(p.order, func(name string, _ int) model.Asset {
		return p.assets[name]
	})
}

// NonCash returns the names of the non-cash assets, in the column order of the price matrices.
func (p *Portfolio) NonCash() []string {
	return append([]string(nil), p.noncash...)
}

func (p *Portfolio) Cash() string            { return p.cash }
func (p *Portfolio) MAssets() int            { return len(p.order) }
func (p *Portfolio) MNonCashAssets() int     { return len(p.noncash) }
func (p *Portfolio) NSamples() int           { return p.nSamples }
func (p *Portfolio) CommissionRate() float64 { return p.commissionRate }

func (p *Portfolio) OpenPrices() mat.Matrix     { return p.open }
func (p *Portfolio) HighPrices() mat.Matrix     { return p.high }
func (p *Portfolio) LowPrices() mat.Matrix      { return p.low }
func (p *Portfolio) ClosePrices() mat.Matrix    { return p.close }
func (p *Portfolio) RelativePrices() mat.Matrix { return p.relative }

// RelativePriceVector returns close[t] / close[t-1] for every non-cash asset.
func (p *Portfolio) RelativePriceVector(t int) ([]float64, error) {
	return RelativePriceVector(p.close, t)
}

// Reward computes the per-sample reward with the portfolio commission rate.
func (p *Portfolio) Reward(w, y, wPrev mat.Matrix) ([]float64, error) {
	return Reward(w, y, wPrev, p.commissionRate)
}
