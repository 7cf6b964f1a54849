package portfolio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ezquant/azpm/azpm/model"
)

// AssetFeed points to the candle file of a single asset.
// Rows follow the azbot download layout: time,open,close,low,high[,volume].
type AssetFeed struct {
	Asset string
	File  string
}

// FromCSV loads one candle file per asset into a PriceStore.
func FromCSV(feeds ...AssetFeed) (*PriceStore, error) {
	series := make([]model.Asset, 0, len(feeds))
	for _, feed := range feeds {
		asset, err := readFeed(feed)
		if err != nil {
			return nil, err
		}
		series = append(series, asset)
	}

	return NewPriceStore(series...)
}

func readFeed(feed AssetFeed) (model.Asset, error) {
	file, err := os.Open(feed.File)
	if err != nil {
		return model.Asset{}, fmt.Errorf("open %s: %w", feed.File, err)
	}
	defer file.Close()

	asset, err := ReadCandles(feed.Asset, file)
	if err != nil {
		return model.Asset{}, fmt.Errorf("read %s: %w", feed.File, err)
	}
	return asset, nil
}

// ReadCandles parses candle rows from r. A non numeric first row is treated as a header.
func ReadCandles(name string, r io.Reader) (model.Asset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return model.Asset{}, err
	}

	asset := model.Asset{Name: model.NormalizeName(name)}
	for i, row := range rows {
		if len(row) < 5 {
			return model.Asset{}, fmt.Errorf("line %d: expected at least 5 columns, got %d", i+1, len(row))
		}

		values := make([]float64, 4)
		for j := range values {
			values[j], err = strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				break
			}
		}
		if err != nil {
			if i == 0 {
				continue
			}
			return model.Asset{}, fmt.Errorf("line %d: %w", i+1, err)
		}

		asset.Open = append(asset.Open, values[0])
		asset.Close = append(asset.Close, values[1])
		asset.Low = append(asset.Low, values[2])
		asset.High = append(asset.High, values[3])
	}

	if asset.Len() == 0 {
		return model.Asset{}, fmt.Errorf("%s: %w", asset.Name, ErrMissingSeries)
	}

	return asset, nil
}
