package training

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/tsawler/sam-tuner/checkpoints"
	"github.com/tsawler/sam-tuner/config"
	"github.com/tsawler/sam-tuner/fabric"
	"github.com/tsawler/sam-tuner/losses"
	"github.com/tsawler/sam-tuner/metrics"
	"github.com/tsawler/sam-tuner/model"
	"github.com/tsawler/sam-tuner/optimizer"
	"github.com/tsawler/sam-tuner/tensor"
)

// Trainer runs the box-prompted segmentation fine-tuning loop: composite
// focal/dice/IoU-regression loss, per-epoch validation with best-checkpoint
// selection, and a learning-rate schedule advanced once per epoch.
type Trainer struct {
	cfg       *config.Config
	fabric    fabric.Fabric
	model     model.Model
	optimizer optimizer.Optimizer
	scheduler LRScheduler
	saver     *checkpoints.Saver

	focal *losses.FocalLoss
	dice  *losses.DiceLoss

	scheduleStep int
}

// NewTrainer assembles a trainer over an already-built model and optimizer.
func NewTrainer(cfg *config.Config, fb fabric.Fabric, m model.Model, opt optimizer.Optimizer, scheduler LRScheduler) *Trainer {
	return &Trainer{
		cfg:       cfg,
		fabric:    fb,
		model:     m,
		optimizer: opt,
		scheduler: scheduler,
		saver:     checkpoints.NewSaver(checkpoints.FormatWire),
		focal:     losses.NewFocalLoss(),
		dice:      losses.NewDiceLoss(),
	}
}

// ConfigureOpt builds the Adam optimizer and warmup schedule from the run
// configuration. The optimizer starts at the schedule's step-0 rate, which is
// zero whenever warmup is enabled; the first real rate arrives after the
// first epoch advances the schedule.
func ConfigureOpt(cfg *config.Config, m model.Model) (*optimizer.Adam, *WarmupStepLR, error) {
	scheduler := NewWarmupStepLR(cfg.Opt.WarmupSteps, [2]int{cfg.Opt.Steps[0], cfg.Opt.Steps[1]}, cfg.Opt.DecayFactor)

	adam, err := optimizer.NewAdam(m.Parameters(), optimizer.DefaultAdamConfig(cfg.Opt.LearningRate, cfg.Opt.WeightDecay))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create optimizer: %v", err)
	}
	adam.SetLearningRate(scheduler.GetLR(0, 0, cfg.Opt.LearningRate))

	return adam, scheduler, nil
}

// Train runs epochs 1 through num_epochs-1, validating after each and saving
// a best checkpoint whenever the mean F1 strictly improves.
func (t *Trainer) Train(trainData, valData *DataLoader) error {
	bestScore := 0.0

	for epoch := 1; epoch < t.cfg.NumEpochs; epoch++ {
		if err := t.trainEpoch(trainData, epoch); err != nil {
			return err
		}

		score, err := t.Validate(valData, epoch)
		if err != nil {
			return err
		}

		if score > bestScore {
			bestScore = score
			if t.fabric.IsCoordinator() {
				path := filepath.Join(t.cfg.OutDir, checkpoints.BestName(epoch, score))
				if err := t.saver.Save(t.model.StateDict(), path); err != nil {
					return fmt.Errorf("failed to save best checkpoint: %v", err)
				}
			}
		}

		// One schedule step per epoch, after validation.
		t.scheduleStep++
		t.optimizer.SetLearningRate(t.scheduler.GetLR(epoch, t.scheduleStep, t.cfg.Opt.LearningRate))
	}

	return nil
}

// trainEpoch runs one pass over the training shard.
func (t *Trainer) trainEpoch(trainData *DataLoader, epoch int) error {
	batchTime := NewAverageMeter()
	dataTime := NewAverageMeter()
	focalLosses := NewAverageMeter()
	diceLosses := NewAverageMeter()
	iouLosses := NewAverageMeter()
	totalLosses := NewAverageMeter()

	t.model.Train()
	trainData.Reset()
	totalBatches := trainData.Len()

	var bar *ProgressBar
	if t.fabric.IsCoordinator() {
		bar = NewProgressBar(fmt.Sprintf("Training: [%d]", epoch), totalBatches)
	}

	end := time.Now()
	iteration := 0
	for {
		batch, err := trainData.Next()
		if err != nil {
			return fmt.Errorf("failed to fetch training batch: %v", err)
		}
		if batch == nil {
			break
		}
		iteration++
		dataTime.Update(time.Since(end).Seconds(), 1)

		preds, iouPreds, err := t.model.Forward(batch.Images, batch.Boxes)
		if err != nil {
			return fmt.Errorf("forward pass failed: %v", err)
		}

		lossFocal, lossDice, lossIou, lossTotal, err := t.batchLosses(batch, preds, iouPreds)
		if err != nil {
			return err
		}

		t.optimizer.ZeroGrad()
		if err := t.fabric.Backward(lossTotal); err != nil {
			return fmt.Errorf("backward pass failed: %v", err)
		}
		if err := t.optimizer.Step(); err != nil {
			return fmt.Errorf("optimizer step failed: %v", err)
		}

		batchTime.Update(time.Since(end).Seconds(), 1)
		end = time.Now()

		numImages := batch.Size()
		focalLosses.Update(float64(lossFocal.Item()), numImages)
		diceLosses.Update(float64(lossDice.Item()), numImages)
		iouLosses.Update(float64(lossIou.Item()), numImages)
		totalLosses.Update(float64(lossTotal.Item()), numImages)

		if bar != nil {
			bar.SetDescription(fmt.Sprintf("Training: [%d][%d/%d] -- Focal: %.4f (%.4f) | Dice: %.4f (%.4f) | IoU: %.4f (%.4f) | Total: %.4f (%.4f)",
				epoch, iteration, totalBatches,
				focalLosses.Val, focalLosses.Avg(),
				diceLosses.Val, diceLosses.Avg(),
				iouLosses.Val, iouLosses.Avg(),
				totalLosses.Val, totalLosses.Avg()))
			bar.Update(iteration)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	t.fabric.Print("Training: [%d] -- Losses: Focal: %.4f | Dice: %.4f | IoU: %.4f | Total: %.4f (batch %.3fs, data %.3fs)\n",
		epoch, focalLosses.Avg(), diceLosses.Avg(), iouLosses.Avg(), totalLosses.Avg(), batchTime.Avg(), dataTime.Avg())

	return nil
}

// batchLosses accumulates the per-image criteria into the batch losses. All
// terms share the batch-wide prompt count as the normalizer, so an image's
// contribution scales with how many prompts it carries; the iou regression
// term is the per-image summed squared error over that same count.
func (t *Trainer) batchLosses(batch *Batch, preds, iouPreds []*tensor.Tensor) (lossFocal, lossDice, lossIou, lossTotal *tensor.Tensor, err error) {
	numMasks := 0
	for _, p := range preds {
		numMasks += p.Shape[0]
	}
	if numMasks == 0 {
		return nil, nil, nil, nil, fmt.Errorf("training batch produced no masks")
	}

	lossFocal = tensor.FromScalar(0)
	lossDice = tensor.FromScalar(0)
	lossIou = tensor.FromScalar(0)
	for i := range preds {
		f, err := t.focal.Forward(preds[i], batch.Masks[i], numMasks)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("focal loss failed: %v", err)
		}
		if lossFocal, err = tensor.Add(lossFocal, f); err != nil {
			return nil, nil, nil, nil, err
		}

		d, err := t.dice.Forward(preds[i], batch.Masks[i], numMasks)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("dice loss failed: %v", err)
		}
		if lossDice, err = tensor.Add(lossDice, d); err != nil {
			return nil, nil, nil, nil, err
		}

		actualIoU, err := losses.CalcIoU(preds[i], batch.Masks[i])
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("iou computation failed: %v", err)
		}
		mse, err := tensor.MSESum(iouPreds[i], actualIoU)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("iou regression loss failed: %v", err)
		}
		if lossIou, err = tensor.Add(lossIou, tensor.Scale(mse, 1/float32(numMasks))); err != nil {
			return nil, nil, nil, nil, err
		}
	}

	if lossTotal, err = tensor.Add(lossFocal, lossDice); err != nil {
		return nil, nil, nil, nil, err
	}
	if lossTotal, err = tensor.Add(lossTotal, lossIou); err != nil {
		return nil, nil, nil, nil, err
	}

	return lossFocal, lossDice, lossIou, lossTotal, nil
}

// Validate runs one evaluation pass and returns the mean F1 score. Metrics
// are micro-imagewise: element counts aggregate within each image, the
// image's scores average across the epoch weighted by batch image count. The
// coordinator writes a periodic checkpoint named after the epoch and score;
// every worker still runs the loop so collective steps stay aligned. The
// model is returned to training mode before the call returns.
func (t *Trainer) Validate(valData *DataLoader, epoch int) (float64, error) {
	// No worker may train while any worker has gradient recording
	// disabled, so the validation region is fenced on both sides.
	if err := t.fabric.Barrier(); err != nil {
		return 0, err
	}

	t.model.Eval()
	defer t.model.Train()

	ious := NewAverageMeter()
	f1s := NewAverageMeter()

	valData.Reset()
	totalBatches := valData.Len()

	var bar *ProgressBar
	if t.fabric.IsCoordinator() {
		bar = NewProgressBar(fmt.Sprintf("Validation: [%d]", epoch), totalBatches)
	}

	var loopErr error
	tensor.NoGrad(func() {
		iteration := 0
		for {
			batch, err := valData.Next()
			if err != nil {
				loopErr = fmt.Errorf("failed to fetch validation batch: %v", err)
				return
			}
			if batch == nil {
				return
			}
			iteration++

			preds, _, err := t.model.Forward(batch.Images, batch.Boxes)
			if err != nil {
				loopErr = fmt.Errorf("forward pass failed: %v", err)
				return
			}

			numImages := batch.Size()
			for i := range preds {
				probs := tensor.Sigmoid(preds[i])
				stats, err := metrics.GetStats(probs, batch.Masks[i], 0.5)
				if err != nil {
					loopErr = fmt.Errorf("metric computation failed: %v", err)
					return
				}
				ious.Update(stats.IoU(), numImages)
				f1s.Update(stats.F1(), numImages)
			}

			if bar != nil {
				bar.SetDescription(fmt.Sprintf("Validation: [%d][%d/%d] -- Mean IoU: [%.4f] -- Mean F1: [%.4f]",
					epoch, iteration, totalBatches, ious.Avg(), f1s.Avg()))
				bar.Update(iteration)
			}
		}
	})
	if loopErr != nil {
		return 0, loopErr
	}
	if bar != nil {
		bar.Finish()
	}

	t.fabric.Print("Validation: [%d]: Mean IoU: [%.4f] -- Mean F1: [%.4f]\n", epoch, ious.Avg(), f1s.Avg())

	if t.fabric.IsCoordinator() {
		t.fabric.Print("Saving checkpoint to %s\n", t.cfg.OutDir)
		path := filepath.Join(t.cfg.OutDir, checkpoints.PeriodicName(epoch, f1s.Avg()))
		if err := t.saver.Save(t.model.StateDict(), path); err != nil {
			return 0, fmt.Errorf("failed to save checkpoint: %v", err)
		}
	}

	if err := t.fabric.Barrier(); err != nil {
		return 0, err
	}

	return f1s.Avg(), nil
}
