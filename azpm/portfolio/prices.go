package portfolio

import (
	"fmt"

	"github.com/ezquant/azpm/azpm/model"
	"github.com/samber/lo"
)

// PriceStore holds the raw price history of every non-cash asset keyed by name.
// All series share the same length.
type PriceStore struct {
	assets   []string
	series   map[string]model.Asset
	nSamples int
}

// NewPriceStore validates the series alignment and indexes them by asset name.
func NewPriceStore(series ...model.Asset) (*PriceStore, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("price store: %w", ErrMissingSeries)
	}

	store := &PriceStore{
		series:   make(map[string]model.Asset, len(series)),
		nSamples: series[0].Len(),
	}

	for _, s := range series {
		name := model.NormalizeName(s.Name)
		if _, ok := store.series[name]; ok {
			return nil, fmt.Errorf("price store: %s: %w", name, ErrDuplicate)
		}

		for _, field := range model.PriceFields {
			if n := len(s.Series(field)); n != store.nSamples {
				return nil, fmt.Errorf("price store: %s %s has %d periods, expected %d: %w",
					name, field, n, store.nSamples, ErrLengthMismatch)
			}
		}

		s.Name = name
		store.series[name] = s
		store.assets = append(store.assets, name)
	}

	if store.nSamples < 2 {
		return nil, fmt.Errorf("price store: need at least 2 periods, got %d: %w", store.nSamples, ErrMissingSeries)
	}

	return store, nil
}

// Assets returns the asset names in insertion order.
func (s *PriceStore) Assets() []string {
	return append([]string(nil), s.assets...)
}

// NSamples is the shared length of every series.
func (s *PriceStore) NSamples() int {
	return s.nSamples
}

// Get returns the series of the asset with the given name.
func (s *PriceStore) Get(name string) (model.Asset, bool) {
	a, ok := s.series[model.NormalizeName(name)]
	return a, ok
}

// Series returns every stored series, in insertion order, for persistence.
func (s *PriceStore) Series() []model.Asset {
	return lo.Map(s.assets, func(name string, _ int) model.Asset {
		return s.series[name]
	})
}
