package model

import "strings"

// DefaultCash is the name of the asset used as the cash position when none is configured.
const DefaultCash = "CASH"

// PriceField identifies one of the four price series of an asset.
type PriceField string

const (
	FieldOpen  PriceField = "open"
	FieldHigh  PriceField = "high"
	FieldLow   PriceField = "low"
	FieldClose PriceField = "close"
)

// PriceFields lists the fields in the order they are persisted.
var PriceFields = []PriceField{FieldOpen, FieldHigh, FieldLow, FieldClose}

// Asset holds the aligned price history of a single instrument.
type Asset struct {
	Name  string    `msgpack:"name"`
	Open  []float64 `msgpack:"open"`
	Close []float64 `msgpack:"close"`
	High  []float64 `msgpack:"high"`
	Low   []float64 `msgpack:"low"`
	Cash  bool      `msgpack:"cash"`
}

// Len returns the number of periods in the asset history.
func (a Asset) Len() int {
	return len(a.Close)
}

// Series returns the series for the given field.
func (a Asset) Series(field PriceField) []float64 {
	switch field {
	case FieldOpen:
		return a.Open
	case FieldHigh:
		return a.High
	case FieldLow:
		return a.Low
	default:
		return a.Close
	}
}

// NormalizeName is the canonical form of an asset key.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
