package training

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tsawler/sam-tuner/config"
	"github.com/tsawler/sam-tuner/fabric"
	"github.com/tsawler/sam-tuner/losses"
	"github.com/tsawler/sam-tuner/model"
	"github.com/tsawler/sam-tuner/tensor"
)

// scriptedModel returns one 2x2 mask per prompt box whose overlap with an
// all-ones ground truth is controlled per evaluation pass, so validation
// scores follow a script. Predictions route through a trainable scalar with
// zero coefficient, which keeps the autograd graph alive without influencing
// the outputs.
type scriptedModel struct {
	param     *tensor.Tensor
	training  bool
	evalCalls int

	// positives[i] is the number of the 4 mask pixels predicted positive
	// during the i-th evaluation pass.
	positives []int
}

func newScriptedModel(positives []int) *scriptedModel {
	p := tensor.FromScalar(0.1)
	p.SetRequiresGrad(true)
	return &scriptedModel{param: p, training: true, positives: positives}
}

func (m *scriptedModel) Forward(images []*tensor.Tensor, boxes [][]model.Box) ([]*tensor.Tensor, []*tensor.Tensor, error) {
	positive := 4
	if !m.training {
		positive = m.positives[m.evalCalls]
		m.evalCalls++
	}

	// one := param*0 + 1, a tracked scalar equal to 1.
	one := tensor.AddConst(tensor.Scale(m.param, 0), 1)

	masks := make([]*tensor.Tensor, len(images))
	iouPreds := make([]*tensor.Tensor, len(images))
	for i := range images {
		n := len(boxes[i])
		logits := make([]float32, 4*n)
		for j := range logits {
			if j%4 < positive {
				logits[j] = 4
			} else {
				logits[j] = -4
			}
		}
		plane, err := tensor.New([]int{n, 2, 2}, logits)
		if err != nil {
			return nil, nil, err
		}
		if masks[i], err = tensor.Mul(plane, one); err != nil {
			return nil, nil, err
		}

		qualityData := make([]float32, n)
		for j := range qualityData {
			qualityData[j] = 0.5
		}
		quality, err := tensor.New([]int{n}, qualityData)
		if err != nil {
			return nil, nil, err
		}
		if iouPreds[i], err = tensor.Mul(quality, one); err != nil {
			return nil, nil, err
		}
	}
	return masks, iouPreds, nil
}

func (m *scriptedModel) Parameters() []*tensor.Tensor { return []*tensor.Tensor{m.param} }

func (m *scriptedModel) StateDict() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{"scripted.param": m.param}
}

func (m *scriptedModel) ImageSize() int { return 2 }

func (m *scriptedModel) Train() { m.training = true }

func (m *scriptedModel) Eval() { m.training = false }

func trainerTestConfig(outDir string, numEpochs int) *config.Config {
	return &config.Config{
		NumEpochs:  numEpochs,
		NumDevices: 1,
		OutDir:     outDir,
		Opt: config.OptConfig{
			LearningRate: 1e-3,
			WeightDecay:  1e-4,
			WarmupSteps:  2,
			Steps:        []int{4, 8},
			DecayFactor:  10,
		},
		Dataset: config.DatasetConfig{BatchSize: 2},
	}
}

// TestTrainerBestCheckpointGating scripts validation F1 scores of 0.40, 0.86,
// 0.67, then 1.00 and checks a best checkpoint is written only on strict
// improvement: the dip at epoch 3 leaves no best file. With an all-ones 2x2
// ground truth, k positive predictions score F1 = 2k/(k+4).
func TestTrainerBestCheckpointGating(t *testing.T) {
	outDir := t.TempDir()
	cfg := trainerTestConfig(outDir, 5)

	// Four training epochs plus the final evaluation pass.
	m := newScriptedModel([]int{1, 3, 2, 4, 4})

	err := fabric.Launch(1, func(fb fabric.Fabric) error {
		ds := &stubDataset{size: 2, imageSize: 2}
		trainData, err := NewDataLoader(ds, cfg.Dataset.BatchSize, true, 0, 1, fb.Rand())
		if err != nil {
			return err
		}
		valData, err := NewDataLoader(ds, cfg.Dataset.BatchSize, false, 0, 1, fb.Rand())
		if err != nil {
			return err
		}

		opt, scheduler, err := ConfigureOpt(cfg, m)
		if err != nil {
			return err
		}

		trainer := NewTrainer(cfg, fb, m, opt, scheduler)
		if err := trainer.Train(trainData, valData); err != nil {
			return err
		}
		_, err = trainer.Validate(valData, 0)
		return err
	})
	if err != nil {
		t.Fatalf("Training run failed: %v", err)
	}

	wantPresent := []string{
		"best-epoch-1-f10.40.pth",
		"best-epoch-2-f10.86.pth",
		"best-epoch-4-f11.00.pth",
		"epoch-000001-f10.40-ckpt.pth",
		"epoch-000002-f10.86-ckpt.pth",
		"epoch-000003-f10.67-ckpt.pth",
		"epoch-000004-f11.00-ckpt.pth",
		"epoch-000000-f11.00-ckpt.pth", // final evaluation pass
	}
	for _, name := range wantPresent {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("Expected checkpoint %s: %v", name, err)
		}
	}

	// Epoch 3 scored below the best; no best checkpoint may exist for it.
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("Failed to read output directory: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "best-epoch-3") {
			t.Errorf("Unexpected best checkpoint for non-improving epoch: %s", entry.Name())
		}
	}
}

// TestTrainerMixedPromptLossComposition feeds the loss path one batch of two
// images carrying one and two prompt masks, so all three masks share the
// batch mask count of 3, and checks each accumulated loss against
// hand-computed values. In particular the iou regression term must equal the
// summed per-mask squared error divided by the batch mask count. Logits sit
// at +/-4 against all-ones 2x2 ground truth, so a mask with k positive
// pixels has an actual IoU of k/4.
func TestTrainerMixedPromptLossComposition(t *testing.T) {
	tr := &Trainer{focal: losses.NewFocalLoss(), dice: losses.NewDiceLoss()}

	logits := func(ks ...int) *tensor.Tensor {
		data := make([]float32, 0, 4*len(ks))
		for _, k := range ks {
			for j := 0; j < 4; j++ {
				if j < k {
					data = append(data, 4)
				} else {
					data = append(data, -4)
				}
			}
		}
		out, err := tensor.New([]int{len(ks), 2, 2}, data)
		if err != nil {
			t.Fatalf("tensor.New failed: %v", err)
		}
		return out
	}
	ones := func(n int) *tensor.Tensor {
		data := make([]float32, 4*n)
		for i := range data {
			data[i] = 1
		}
		out, err := tensor.New([]int{n, 2, 2}, data)
		if err != nil {
			t.Fatalf("tensor.New failed: %v", err)
		}
		return out
	}
	quality := func(vs ...float32) *tensor.Tensor {
		out, err := tensor.New([]int{len(vs)}, vs)
		if err != nil {
			t.Fatalf("tensor.New failed: %v", err)
		}
		return out
	}

	// Image 0: one fully-positive mask (IoU 1.0). Image 1: a half-positive
	// and a fully-positive mask (IoU 0.5 and 1.0). Quality predictions of
	// 0.5 give per-mask squared errors 0.25, 0 and 0.25.
	batch := &Batch{Masks: []*tensor.Tensor{ones(1), ones(2)}}
	preds := []*tensor.Tensor{logits(4), logits(2, 4)}
	iouPreds := []*tensor.Tensor{quality(0.5), quality(0.5, 0.5)}

	lossFocal, lossDice, lossIou, lossTotal, err := tr.batchLosses(batch, preds, iouPreds)
	if err != nil {
		t.Fatalf("batchLosses failed: %v", err)
	}

	wantIou := (0.25 + 0.0 + 0.25) / 3.0
	if math.Abs(float64(lossIou.Item())-wantIou) > 1e-6 {
		t.Errorf("IoU loss %f, expected sum of squared errors over mask count %f", lossIou.Item(), wantIou)
	}

	// Per-image expectations over hi pixels at sigmoid(4) and lo pixels at
	// sigmoid(-4), each divided by the batch mask count of 3.
	pHi := 1 / (1 + math.Exp(-4))
	pLo := 1 / (1 + math.Exp(4))
	focalTerm := func(hi, lo int) float64 {
		bce := -(float64(hi)*math.Log(pHi) + float64(lo)*math.Log(pLo)) / float64(hi+lo)
		return 0.8 * math.Pow(1-math.Exp(-bce), 2) * bce / 3
	}
	diceTerm := func(hi, lo int) float64 {
		inter := float64(hi)*pHi + float64(lo)*pLo
		return (1 - (2*inter+1)/(inter+float64(hi+lo)+1)) / 3
	}

	wantFocal := focalTerm(4, 0) + focalTerm(6, 2)
	if math.Abs(float64(lossFocal.Item())-wantFocal) > 1e-5 {
		t.Errorf("Focal loss %f, expected %f", lossFocal.Item(), wantFocal)
	}
	wantDice := diceTerm(4, 0) + diceTerm(6, 2)
	if math.Abs(float64(lossDice.Item())-wantDice) > 1e-5 {
		t.Errorf("Dice loss %f, expected %f", lossDice.Item(), wantDice)
	}

	sum := lossFocal.Item() + lossDice.Item() + lossIou.Item()
	if math.Abs(float64(lossTotal.Item()-sum)) > 1e-6 {
		t.Errorf("Total loss %f, expected focal+dice+iou %f", lossTotal.Item(), sum)
	}
}

// TestTrainerMixedPromptEpoch runs a full train/validate cycle over samples
// carrying different prompt counts per image.
func TestTrainerMixedPromptEpoch(t *testing.T) {
	cfg := trainerTestConfig(t.TempDir(), 2)

	// One training epoch plus the final evaluation pass.
	m := newScriptedModel([]int{4, 4})

	err := fabric.Launch(1, func(fb fabric.Fabric) error {
		ds := &stubDataset{size: 2, imageSize: 2, prompts: []int{1, 2}}
		trainData, err := NewDataLoader(ds, cfg.Dataset.BatchSize, true, 0, 1, fb.Rand())
		if err != nil {
			return err
		}
		valData, err := NewDataLoader(ds, cfg.Dataset.BatchSize, false, 0, 1, fb.Rand())
		if err != nil {
			return err
		}

		opt, scheduler, err := ConfigureOpt(cfg, m)
		if err != nil {
			return err
		}

		trainer := NewTrainer(cfg, fb, m, opt, scheduler)
		if err := trainer.Train(trainData, valData); err != nil {
			return err
		}

		// All-positive predictions against all-ones masks score a perfect
		// F1 regardless of prompt count.
		score, err := trainer.Validate(valData, 0)
		if err != nil {
			return err
		}
		if score != 1.0 {
			t.Errorf("Expected perfect F1 on the mixed-prompt dataset, got %f", score)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Training run failed: %v", err)
	}
}

// TestTrainerScheduleAdvancesPerEpoch checks the optimizer rate follows the
// schedule one step per epoch, starting from the zero warmup rate.
func TestTrainerScheduleAdvancesPerEpoch(t *testing.T) {
	cfg := trainerTestConfig(t.TempDir(), 4)
	m := newScriptedModel([]int{4, 4, 4})

	err := fabric.Launch(1, func(fb fabric.Fabric) error {
		ds := &stubDataset{size: 2, imageSize: 2}
		trainData, err := NewDataLoader(ds, cfg.Dataset.BatchSize, false, 0, 1, fb.Rand())
		if err != nil {
			return err
		}
		valData, err := NewDataLoader(ds, cfg.Dataset.BatchSize, false, 0, 1, fb.Rand())
		if err != nil {
			return err
		}

		opt, scheduler, err := ConfigureOpt(cfg, m)
		if err != nil {
			return err
		}
		if opt.LearningRate() != 0 {
			t.Errorf("Expected zero initial rate under warmup, got %g", opt.LearningRate())
		}

		trainer := NewTrainer(cfg, fb, m, opt, scheduler)
		if err := trainer.Train(trainData, valData); err != nil {
			return err
		}

		// Three epochs advance the schedule to step 3, past the 2-step
		// warmup, so the rate is back at base.
		if opt.LearningRate() != cfg.Opt.LearningRate {
			t.Errorf("Expected rate %g after warmup, got %g", cfg.Opt.LearningRate, opt.LearningRate())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Training run failed: %v", err)
	}
}
