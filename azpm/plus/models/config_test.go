package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
assets: [CASH, BTC, ETH]
data:
  - {asset: BTC, file: btc.csv}
  - {asset: ETH, file: eth.csv}
training:
  batch_size: 8
  window_size: 10
  epochs: 3
  dropout: 0.1
  seed: 0
`), 0644))

	config, err := ReadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"CASH", "BTC", "ETH"}, config.Assets)
	assert.Equal(t, "CASH", config.Cash)
	assert.Equal(t, AssetFile{Asset: "ETH", File: "eth.csv"}, config.Data[1])
	assert.Equal(t, 8, config.Training.BatchSize)
	assert.Equal(t, 8, config.Training.SampleSize)
	assert.Equal(t, 10, config.Training.WindowSize)
	assert.Equal(t, 3, config.Training.Epochs)
	assert.Equal(t, 1, config.Training.StepSize)
	assert.Equal(t, 3e-5, config.Training.LearningRate)
	assert.Equal(t, 0.0, config.Training.Beta1)
	assert.Equal(t, 0.9, config.Training.Beta2)
	assert.Equal(t, 0.99, config.Training.Gamma)
	assert.Equal(t, 0.005, config.Training.Tau)
	assert.Equal(t, 0.0026, config.Training.CommissionRate)
	assert.Equal(t, 1_000_000, config.Training.ReplayCapacity)
	assert.Equal(t, "cpu", config.Training.Device)
	assert.Equal(t, 0.1, config.Training.Dropout)
	require.NotNil(t, config.Training.Seed)
	assert.Equal(t, int64(0), *config.Training.Seed)
	assert.Equal(t, "./user_data/db", config.Storage.Path)

	saved := filepath.Join(t.TempDir(), "saved.yml")
	require.NoError(t, config.Save(saved))
	again, err := ReadConfig(saved)
	require.NoError(t, err)
	assert.Equal(t, config, again)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{Assets: []string{"CASH", "BTC"}, Data: []AssetFile{{Asset: "BTC", File: "btc.csv"}}}
		c.Defaults()
		return c
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "no assets", modify: func(c *Config) { c.Assets = []string{"CASH"} }},
		{name: "no data", modify: func(c *Config) { c.Data = nil }},
		{name: "negative batch", modify: func(c *Config) { c.Training.BatchSize = -1 }},
		{name: "negative sample", modify: func(c *Config) { c.Training.SampleSize = -2 }},
		{name: "small window", modify: func(c *Config) { c.Training.WindowSize = 1 }},
		{name: "tau above one", modify: func(c *Config) { c.Training.Tau = 1.5 }},
		{name: "gamma", modify: func(c *Config) { c.Training.Gamma = 2 }},
		{name: "beta", modify: func(c *Config) { c.Training.Beta1 = 1 }},
		{name: "commission", modify: func(c *Config) { c.Training.CommissionRate = 1 }},
		{name: "replay smaller than sample", modify: func(c *Config) { c.Training.ReplayCapacity = 10 }},
		{name: "dropout", modify: func(c *Config) { c.Training.Dropout = 1 }},
	}

	require.NoError(t, valid().Validate())
	assert.Nil(t, valid().Training.Seed)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}

	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
