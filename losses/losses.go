// Package losses provides the training criteria for box-prompted mask
// fine-tuning: focal loss, dice loss, and the IoU targets used to regress the
// model's mask-quality predictions. All kernels take the predicted mask
// logits for one image, the matching ground-truth binary masks, and the total
// mask count of the batch, which acts as a shared normalization denominator.
package losses

import (
	"fmt"

	"github.com/tsawler/sam-tuner/tensor"
)

const (
	defaultAlpha  = 0.8
	defaultGamma  = 2.0
	defaultSmooth = 1.0

	iouEpsilon = 1e-7
)

func validatePair(pred, gt *tensor.Tensor, numMasks int) error {
	if len(pred.Shape) != len(gt.Shape) {
		return fmt.Errorf("predicted and target masks must have the same rank, got %v vs %v", pred.Shape, gt.Shape)
	}
	for i, dim := range pred.Shape {
		if dim != gt.Shape[i] {
			return fmt.Errorf("predicted and target masks must have the same shape, got %v vs %v", pred.Shape, gt.Shape)
		}
	}
	if numMasks <= 0 {
		return fmt.Errorf("mask count must be positive, got %d", numMasks)
	}
	return nil
}

// FocalLoss down-weights well-classified pixels so training focuses on hard
// regions of the mask.
type FocalLoss struct {
	Alpha float32
	Gamma float32
}

// NewFocalLoss creates a focal loss with the standard alpha/gamma settings.
func NewFocalLoss() *FocalLoss {
	return &FocalLoss{Alpha: defaultAlpha, Gamma: defaultGamma}
}

// Forward computes alpha * (1 - e^-BCE)^gamma * BCE / numMasks over the
// sigmoid of the predicted logits. The division by numMasks spreads each
// mask's contribution over the whole batch's mask count.
func (fl *FocalLoss) Forward(pred, gt *tensor.Tensor, numMasks int) (*tensor.Tensor, error) {
	if err := validatePair(pred, gt, numMasks); err != nil {
		return nil, fmt.Errorf("focal loss: %v", err)
	}

	probs := tensor.Sigmoid(pred)
	bce, err := tensor.BCEMean(probs, gt)
	if err != nil {
		return nil, fmt.Errorf("focal loss: %v", err)
	}

	bceExp := tensor.Exp(tensor.Scale(bce, -1))
	modulator := tensor.Pow(tensor.AddConst(tensor.Scale(bceExp, -1), 1), fl.Gamma)
	focal, err := tensor.Mul(modulator, bce)
	if err != nil {
		return nil, fmt.Errorf("focal loss: %v", err)
	}

	return tensor.Scale(focal, fl.Alpha/float32(numMasks)), nil
}

// DiceLoss penalizes region-overlap disagreement: one minus twice the
// intersection over the summed areas, smoothed against empty masks.
type DiceLoss struct {
	Smooth float32
}

// NewDiceLoss creates a dice loss with the standard smoothing term.
func NewDiceLoss() *DiceLoss {
	return &DiceLoss{Smooth: defaultSmooth}
}

// Forward computes (1 - dice) / numMasks over the sigmoid of the predicted
// logits.
func (dl *DiceLoss) Forward(pred, gt *tensor.Tensor, numMasks int) (*tensor.Tensor, error) {
	if err := validatePair(pred, gt, numMasks); err != nil {
		return nil, fmt.Errorf("dice loss: %v", err)
	}

	probs := tensor.Sigmoid(pred)
	overlap, err := tensor.Mul(probs, gt)
	if err != nil {
		return nil, fmt.Errorf("dice loss: %v", err)
	}
	intersection := tensor.Sum(overlap)

	numerator := tensor.AddConst(tensor.Scale(intersection, 2), dl.Smooth)
	areas, err := tensor.Add(tensor.Sum(probs), tensor.Sum(gt))
	if err != nil {
		return nil, fmt.Errorf("dice loss: %v", err)
	}
	denominator := tensor.AddConst(areas, dl.Smooth)

	dice, err := tensor.Div(numerator, denominator)
	if err != nil {
		return nil, fmt.Errorf("dice loss: %v", err)
	}

	return tensor.Scale(tensor.AddConst(tensor.Scale(dice, -1), 1), 1/float32(numMasks)), nil
}

// CalcIoU computes the actual per-mask overlap between predicted mask logits
// and ground truth, thresholding the predicted probability at 0.5. The result
// is a rank-1 tensor with one IoU per mask, detached from the autograd graph;
// it serves as the regression target for the model's quality predictions.
func CalcIoU(pred, gt *tensor.Tensor) (*tensor.Tensor, error) {
	if err := validatePair(pred, gt, 1); err != nil {
		return nil, fmt.Errorf("iou: %v", err)
	}
	if len(pred.Shape) != 3 {
		return nil, fmt.Errorf("iou: expected [masks, height, width] tensors, got shape %v", pred.Shape)
	}

	numMasks := pred.Shape[0]
	maskSize := pred.Shape[1] * pred.Shape[2]
	ious := make([]float32, numMasks)

	for n := 0; n < numMasks; n++ {
		offset := n * maskSize
		var intersection, predArea, gtArea float64
		for i := offset; i < offset+maskSize; i++ {
			// sigmoid(x) >= 0.5 exactly when x >= 0.
			var p float64
			if pred.Data[i] >= 0 {
				p = 1
			}
			t := float64(gt.Data[i])
			intersection += p * t
			predArea += p
			gtArea += t
		}
		union := predArea + gtArea - intersection
		ious[n] = float32(intersection / (union + iouEpsilon))
	}

	return tensor.New([]int{numMasks}, ious)
}
