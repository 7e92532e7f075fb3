package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	return Config{
		NumEpochs:  20,
		NumDevices: 1,
		OutDir:     "out",
		Opt: OptConfig{
			LearningRate: 8e-4,
			WeightDecay:  1e-4,
			WarmupSteps:  250,
			Steps:        []int{60000, 86666},
			DecayFactor:  10,
		},
		Dataset: DatasetConfig{
			TrainAnnotations: "train.json",
			ValAnnotations:   "val.json",
			BatchSize:        1,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"one epoch", func(c *Config) { c.NumEpochs = 1 }, true},
		{"zero devices", func(c *Config) { c.NumDevices = 0 }, true},
		{"empty out dir", func(c *Config) { c.OutDir = "" }, true},
		{"zero learning rate", func(c *Config) { c.Opt.LearningRate = 0 }, true},
		{"negative weight decay", func(c *Config) { c.Opt.WeightDecay = -1 }, true},
		{"zero warmup", func(c *Config) { c.Opt.WarmupSteps = 0 }, true},
		{"one step boundary", func(c *Config) { c.Opt.Steps = []int{100} }, true},
		{"descending steps", func(c *Config) { c.Opt.Steps = []int{200, 100} }, true},
		{"zero decay factor", func(c *Config) { c.Opt.DecayFactor = 0 }, true},
		{"zero batch size", func(c *Config) { c.Dataset.BatchSize = 0 }, true},
	}

	for _, tt := range tests {
		cfg := validConfig()
		tt.mutate(&cfg)
		err := cfg.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %t", tt.name, err, tt.wantErr)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `num_epochs: 20
num_devices: 2
out_dir: out
opt:
  learning_rate: 8.0e-4
  weight_decay: 1.0e-4
  warmup_steps: 250
  steps: [60000, 86666]
  decay_factor: 10
dataset:
  train_annotations: train.json
  val_annotations: val.json
  batch_size: 4
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.NumEpochs != 20 || cfg.NumDevices != 2 {
		t.Errorf("Unexpected run settings: %+v", cfg)
	}
	if cfg.Opt.LearningRate != 8e-4 || cfg.Opt.Steps[1] != 86666 {
		t.Errorf("Unexpected optimizer settings: %+v", cfg.Opt)
	}
	if cfg.Dataset.BatchSize != 4 {
		t.Errorf("Unexpected dataset settings: %+v", cfg.Dataset)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("num_epochs: {"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}
