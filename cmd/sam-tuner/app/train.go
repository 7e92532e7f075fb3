package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsawler/sam-tuner/config"
	"github.com/tsawler/sam-tuner/model"
	"github.com/tsawler/sam-tuner/training"
)

// TrainOptions holds options for the train command
type TrainOptions struct {
	// ConfigPath is the YAML run configuration file
	ConfigPath string

	// NumDevices overrides the configured worker count when positive
	NumDevices int

	// OutDir overrides the configured checkpoint directory when set
	OutDir string
}

// NewTrainCommand creates the train command.
func NewTrainCommand() *cobra.Command {
	opts := &TrainOptions{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run a fine-tuning job",
		Long: `Run a complete fine-tuning job from a YAML configuration.

The configuration names the train and validation annotation files, the
optimizer hyperparameters, the warmup/step learning-rate schedule, the number
of epochs, and the output directory for checkpoints.

Examples:
  # Train with the settings in config.yaml
  sam-tuner train --config config.yaml

  # Same run on four data-parallel workers
  sam-tuner train --config config.yaml --devices 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml",
		"path to the run configuration file")
	cmd.Flags().IntVar(&opts.NumDevices, "devices", 0,
		"number of data-parallel workers (overrides config when positive)")
	cmd.Flags().StringVar(&opts.OutDir, "out-dir", "",
		"checkpoint output directory (overrides config when set)")

	return cmd
}

// runTrain executes the train command logic
func runTrain(opts *TrainOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.NumDevices > 0 {
		cfg.NumDevices = opts.NumDevices
	}
	if opts.OutDir != "" {
		cfg.OutDir = opts.OutDir
	}

	fmt.Printf("Training for %d epochs on %d device(s), checkpoints in %s\n",
		cfg.NumEpochs-1, cfg.NumDevices, cfg.OutDir)

	return training.Run(cfg, func() (model.Model, error) {
		return model.NewPromptDecoder(model.DefaultImageSize)
	})
}
