package training

import (
	"fmt"
	"os"

	"github.com/tsawler/sam-tuner/config"
	"github.com/tsawler/sam-tuner/dataset"
	"github.com/tsawler/sam-tuner/fabric"
	"github.com/tsawler/sam-tuner/model"
)

// seedBase offsets each worker's seed by rank so data shuffling decorrelates
// across replicas while staying reproducible.
const seedBase = 42

// Run executes a complete fine-tuning job: it launches the configured number
// of workers, builds a model replica per worker, trains for the configured
// epochs, and finishes with one more validation pass labeled epoch 0.
func Run(cfg *config.Config, build model.Builder) error {
	if build == nil {
		return fmt.Errorf("model builder cannot be nil")
	}

	return fabric.Launch(cfg.NumDevices, func(fb fabric.Fabric) error {
		fb.SeedEverything(seedBase + int64(fb.GlobalRank()))

		if fb.IsCoordinator() {
			if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %v", err)
			}
		}

		m, err := build()
		if err != nil {
			return fmt.Errorf("failed to build model: %v", err)
		}
		fb.RegisterParameters(m.Parameters())

		trainSet, valSet, err := dataset.LoadDatasets(&cfg.Dataset, m.ImageSize())
		if err != nil {
			return err
		}

		trainData, err := NewDataLoader(trainSet, cfg.Dataset.BatchSize, true, fb.GlobalRank(), fb.WorldSize(), fb.Rand())
		if err != nil {
			return fmt.Errorf("failed to create training loader: %v", err)
		}
		valData, err := NewDataLoader(valSet, cfg.Dataset.BatchSize, false, fb.GlobalRank(), fb.WorldSize(), fb.Rand())
		if err != nil {
			return fmt.Errorf("failed to create validation loader: %v", err)
		}

		opt, scheduler, err := ConfigureOpt(cfg, m)
		if err != nil {
			return err
		}

		trainer := NewTrainer(cfg, fb, m, opt, scheduler)
		if err := trainer.Train(trainData, valData); err != nil {
			return err
		}

		// Final evaluation of the trained weights.
		_, err = trainer.Validate(valData, 0)
		return err
	})
}
