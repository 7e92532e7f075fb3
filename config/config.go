// Package config loads and validates the YAML run configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OptConfig holds optimizer and schedule hyperparameters.
type OptConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
	WeightDecay  float64 `yaml:"weight_decay"`
	WarmupSteps  int     `yaml:"warmup_steps"`
	Steps        []int   `yaml:"steps"` // two ascending decay-stage boundaries
	DecayFactor  float64 `yaml:"decay_factor"`
}

// DatasetConfig points at the labeled data on disk.
type DatasetConfig struct {
	TrainAnnotations string `yaml:"train_annotations"`
	ValAnnotations   string `yaml:"val_annotations"`
	BatchSize        int    `yaml:"batch_size"`
}

// Config is the full run configuration.
type Config struct {
	NumEpochs  int           `yaml:"num_epochs"` // exclusive upper bound; epochs run 1..num_epochs-1
	NumDevices int           `yaml:"num_devices"`
	OutDir     string        `yaml:"out_dir"`
	Opt        OptConfig     `yaml:"opt"`
	Dataset    DatasetConfig `yaml:"dataset"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the run cannot proceed with.
func (c *Config) Validate() error {
	if c.NumEpochs < 2 {
		return fmt.Errorf("num_epochs must be at least 2 (epochs run 1..num_epochs-1), got %d", c.NumEpochs)
	}
	if c.NumDevices < 1 {
		return fmt.Errorf("num_devices must be at least 1, got %d", c.NumDevices)
	}
	if c.OutDir == "" {
		return fmt.Errorf("out_dir must be set")
	}
	if c.Opt.LearningRate <= 0 {
		return fmt.Errorf("opt.learning_rate must be positive, got %f", c.Opt.LearningRate)
	}
	if c.Opt.WeightDecay < 0 {
		return fmt.Errorf("opt.weight_decay must be non-negative, got %f", c.Opt.WeightDecay)
	}
	if c.Opt.WarmupSteps <= 0 {
		return fmt.Errorf("opt.warmup_steps must be positive, got %d", c.Opt.WarmupSteps)
	}
	if len(c.Opt.Steps) != 2 {
		return fmt.Errorf("opt.steps must list exactly two decay boundaries, got %d", len(c.Opt.Steps))
	}
	if c.Opt.Steps[0] >= c.Opt.Steps[1] {
		return fmt.Errorf("opt.steps must be ascending, got %v", c.Opt.Steps)
	}
	if c.Opt.DecayFactor == 0 {
		return fmt.Errorf("opt.decay_factor must be non-zero")
	}
	if c.Dataset.BatchSize < 1 {
		return fmt.Errorf("dataset.batch_size must be at least 1, got %d", c.Dataset.BatchSize)
	}
	return nil
}
