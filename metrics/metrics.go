// Package metrics computes binary segmentation quality scores. Confusion
// counts are aggregated across every mask channel of one image before the
// ratio is taken (micro-imagewise reduction), so an image scores as a single
// pixel population regardless of how many prompts it carries.
package metrics

import (
	"fmt"

	"github.com/tsawler/sam-tuner/tensor"
)

// Stats holds pixelwise confusion counts for one image.
type Stats struct {
	TP int64
	FP int64
	FN int64
	TN int64
}

// GetStats compares predicted mask probabilities against binary ground truth
// under a fixed probability threshold and returns the aggregated confusion
// counts for the image.
func GetStats(pred, gt *tensor.Tensor, threshold float32) (Stats, error) {
	var stats Stats

	if pred.NumElems != gt.NumElems {
		return stats, fmt.Errorf("prediction and target size mismatch: %d vs %d elements", pred.NumElems, gt.NumElems)
	}

	for i := range pred.Data {
		predicted := pred.Data[i] >= threshold
		actual := gt.Data[i] >= 0.5

		switch {
		case predicted && actual:
			stats.TP++
		case predicted && !actual:
			stats.FP++
		case !predicted && actual:
			stats.FN++
		default:
			stats.TN++
		}
	}

	return stats, nil
}

// IoU returns intersection over union. An image with no positive pixels on
// either side counts as perfect agreement.
func (s Stats) IoU() float64 {
	denom := s.TP + s.FP + s.FN
	if denom == 0 {
		return 1.0
	}
	return float64(s.TP) / float64(denom)
}

// F1 returns the dice coefficient over the aggregated counts.
func (s Stats) F1() float64 {
	denom := 2*s.TP + s.FP + s.FN
	if denom == 0 {
		return 1.0
	}
	return float64(2*s.TP) / float64(denom)
}
