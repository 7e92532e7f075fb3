// Package model defines the contract between the training core and the
// promptable segmentation network being fine-tuned. The trainer only sees a
// callable producing mask logits and mask-quality predictions for a batch of
// box prompts; encoder and decoder internals stay behind this interface.
package model

import (
	"github.com/tsawler/sam-tuner/tensor"
)

// Box is a bounding-box prompt in pixel coordinates, conditioning the model
// to produce exactly one mask.
type Box struct {
	X1 float32
	Y1 float32
	X2 float32
	Y2 float32
}

// Model wraps a box-promptable segmentation network for fine-tuning.
//
// Forward takes one image tensor [C,H,W] per batch element and a parallel
// slice of prompt boxes, and returns per-image predicted mask logits
// [numBoxes,H,W] plus per-image mask-quality predictions [numBoxes]. The
// number of predicted masks for an image always equals its number of prompts.
type Model interface {
	Forward(images []*tensor.Tensor, boxes [][]Box) (masks []*tensor.Tensor, iouPredictions []*tensor.Tensor, err error)

	// Parameters returns the trainable leaves of the network.
	Parameters() []*tensor.Tensor

	// StateDict returns the model-only parameter state for checkpointing.
	StateDict() map[string]*tensor.Tensor

	// ImageSize is the square input resolution the image encoder expects;
	// the dataset loader sizes its outputs from it.
	ImageSize() int

	// Train and Eval switch stochastic regularization paths on and off.
	Train()
	Eval()
}

// Builder constructs a fresh model replica. Data-parallel launch invokes it
// once per worker.
type Builder func() (Model, error)
