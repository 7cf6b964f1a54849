package portfolio

import (
	"fmt"

	"github.com/ezquant/azpm/azpm/model"
)

// PriceCacheKey is where a price store is kept in an ObjectStore.
const PriceCacheKey = "prices"

type ObjectStore interface {
	SetObject(key string, value interface{}) error
	GetObject(key string, value interface{}) error
}

// Save writes every series of the store under PriceCacheKey.
func (s *PriceStore) Save(store ObjectStore) error {
	if err := store.SetObject(PriceCacheKey, s.Series()); err != nil {
		return fmt.Errorf("cache prices: %w", err)
	}
	return nil
}

// LoadPriceStore rebuilds a store saved with PriceStore.Save.
func LoadPriceStore(store ObjectStore) (*PriceStore, error) {
	var series []model.Asset
	if err := store.GetObject(PriceCacheKey, &series); err != nil {
		return nil, fmt.Errorf("load cached prices: %w", err)
	}
	return NewPriceStore(series...)
}
