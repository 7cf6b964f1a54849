package models

import (
	"errors"
	"fmt"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type AssetFile struct {
	Asset string `yaml:"asset"`
	File  string `yaml:"file"`
}

type Training struct {
	BatchSize      int     `yaml:"batch_size"`
	SampleSize     int     `yaml:"sample_size"`
	WindowSize     int     `yaml:"window_size"`
	StepSize       int     `yaml:"step_size"`
	Epochs         int     `yaml:"epochs"`
	LearningRate   float64 `yaml:"learning_rate"`
	Beta1          float64 `yaml:"beta1"`
	Beta2          float64 `yaml:"beta2"`
	Gamma          float64 `yaml:"gamma"`
	Tau            float64 `yaml:"tau"`
	CommissionRate float64 `yaml:"commission_rate"`
	ReplayCapacity int     `yaml:"replay_capacity"`
	Seed           *int64  `yaml:"seed"` // unset draws a fresh seed per run
	Device         string  `yaml:"device"`
	HiddenSize     int     `yaml:"hidden_size"`
	Dropout        float64 `yaml:"dropout"`
}

type Config struct {
	Assets   []string    `yaml:"assets"`
	Cash     string      `yaml:"cash"`
	Data     []AssetFile `yaml:"data"`
	Training Training    `yaml:"training"`
	Storage  struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	LogLevel string `yaml:"log_level"`
}

// ReadConfig loads a YAML config, fills defaults and validates it.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	config.Defaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Defaults fills every unset field. A zero commission rate or gamma reads as unset.
func (c *Config) Defaults() {
	if c.Cash == "" {
		c.Cash = "CASH"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./user_data/db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	t := &c.Training
	t.BatchSize = lo.Ternary(t.BatchSize == 0, 50, t.BatchSize)
	t.WindowSize = lo.Ternary(t.WindowSize == 0, 50, t.WindowSize)
	t.SampleSize = lo.Ternary(t.SampleSize == 0, t.BatchSize, t.SampleSize)
	t.StepSize = lo.Ternary(t.StepSize == 0, 1, t.StepSize)
	t.Epochs = lo.Ternary(t.Epochs == 0, 1, t.Epochs)
	t.LearningRate = lo.Ternary(t.LearningRate == 0, 3e-5, t.LearningRate)
	t.Beta2 = lo.Ternary(t.Beta2 == 0, 0.9, t.Beta2)
	t.Gamma = lo.Ternary(t.Gamma == 0, 0.99, t.Gamma)
	t.Tau = lo.Ternary(t.Tau == 0, 0.005, t.Tau)
	t.CommissionRate = lo.Ternary(t.CommissionRate == 0, 0.0026, t.CommissionRate)
	t.ReplayCapacity = lo.Ternary(t.ReplayCapacity == 0, 1_000_000, t.ReplayCapacity)
	t.Device = lo.Ternary(t.Device == "", "cpu", t.Device)
	t.HiddenSize = lo.Ternary(t.HiddenSize == 0, 32, t.HiddenSize)
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	t := c.Training
	switch {
	case len(c.Assets) < 2:
		return fmt.Errorf("assets: need cash and at least one asset: %w", ErrInvalidConfig)
	case len(c.Data) == 0:
		return fmt.Errorf("data: no price files: %w", ErrInvalidConfig)
	case t.BatchSize < 1:
		return fmt.Errorf("training.batch_size %d: %w", t.BatchSize, ErrInvalidConfig)
	case t.SampleSize < 1:
		return fmt.Errorf("training.sample_size %d: %w", t.SampleSize, ErrInvalidConfig)
	case t.WindowSize < 2:
		return fmt.Errorf("training.window_size %d: %w", t.WindowSize, ErrInvalidConfig)
	case t.StepSize < 1:
		return fmt.Errorf("training.step_size %d: %w", t.StepSize, ErrInvalidConfig)
	case t.Epochs < 1:
		return fmt.Errorf("training.epochs %d: %w", t.Epochs, ErrInvalidConfig)
	case t.LearningRate <= 0:
		return fmt.Errorf("training.learning_rate %v: %w", t.LearningRate, ErrInvalidConfig)
	case t.Beta1 < 0 || t.Beta1 >= 1 || t.Beta2 <= 0 || t.Beta2 >= 1:
		return fmt.Errorf("training.beta1/beta2 %v/%v: %w", t.Beta1, t.Beta2, ErrInvalidConfig)
	case t.Gamma < 0 || t.Gamma > 1:
		return fmt.Errorf("training.gamma %v: %w", t.Gamma, ErrInvalidConfig)
	case t.Tau <= 0 || t.Tau > 1:
		return fmt.Errorf("training.tau %v: %w", t.Tau, ErrInvalidConfig)
	case t.CommissionRate < 0 || t.CommissionRate >= 1:
		return fmt.Errorf("training.commission_rate %v: %w", t.CommissionRate, ErrInvalidConfig)
	case t.ReplayCapacity < t.SampleSize:
		return fmt.Errorf("training.replay_capacity %d below sample size %d: %w", t.ReplayCapacity, t.SampleSize, ErrInvalidConfig)
	case t.Dropout < 0 || t.Dropout >= 1:
		return fmt.Errorf("training.dropout %v: %w", t.Dropout, ErrInvalidConfig)
	}
	return nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
