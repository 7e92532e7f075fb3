package model

import (
	"fmt"

	"github.com/tsawler/sam-tuner/tensor"
)

// PromptDecoder is a small reference implementation of the Model contract: a
// linear mask head over a box-indicator channel and the image intensity, with
// a logistic quality head over the prompt's area fraction. It exists so the
// CLI and the integration tests have a concrete trainable network; real
// fine-tuning runs plug a full encoder/decoder in behind the Model interface.
type PromptDecoder struct {
	imageSize int
	training  bool

	maskBias        *tensor.Tensor
	insideWeight    *tensor.Tensor
	intensityWeight *tensor.Tensor
	iouWeight       *tensor.Tensor
	iouBias         *tensor.Tensor
}

// DefaultImageSize is the input resolution the CLI trains at when no model
// override is supplied.
const DefaultImageSize = 1024

// NewPromptDecoder creates a decoder for square inputs of the given size.
func NewPromptDecoder(imageSize int) (*PromptDecoder, error) {
	if imageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", imageSize)
	}

	pd := &PromptDecoder{
		imageSize:       imageSize,
		training:        true,
		maskBias:        tensor.FromScalar(-2.0),
		insideWeight:    tensor.FromScalar(4.0),
		intensityWeight: tensor.FromScalar(0.5),
		iouWeight:       tensor.FromScalar(1.0),
		iouBias:         tensor.FromScalar(0.0),
	}
	for _, p := range pd.Parameters() {
		p.SetRequiresGrad(true)
	}
	return pd, nil
}

// Forward produces one mask logit plane per prompt box.
func (pd *PromptDecoder) Forward(images []*tensor.Tensor, boxes [][]Box) ([]*tensor.Tensor, []*tensor.Tensor, error) {
	if len(images) != len(boxes) {
		return nil, nil, fmt.Errorf("batch mismatch: %d images, %d box lists", len(images), len(boxes))
	}

	masks := make([]*tensor.Tensor, len(images))
	iouPreds := make([]*tensor.Tensor, len(images))

	for i, img := range images {
		if len(img.Shape) != 3 {
			return nil, nil, fmt.Errorf("image %d: expected [C,H,W], got shape %v", i, img.Shape)
		}
		if len(boxes[i]) == 0 {
			return nil, nil, fmt.Errorf("image %d: at least one prompt box is required", i)
		}

		indicator, intensity, areaFrac, err := pd.promptFeatures(img, boxes[i])
		if err != nil {
			return nil, nil, fmt.Errorf("image %d: %v", i, err)
		}

		insideTerm, err := tensor.Mul(indicator, pd.insideWeight)
		if err != nil {
			return nil, nil, err
		}
		intensityTerm, err := tensor.Mul(intensity, pd.intensityWeight)
		if err != nil {
			return nil, nil, err
		}
		logits, err := tensor.Add(insideTerm, intensityTerm)
		if err != nil {
			return nil, nil, err
		}
		logits, err = tensor.Add(logits, pd.maskBias)
		if err != nil {
			return nil, nil, err
		}
		masks[i] = logits

		scored, err := tensor.Mul(areaFrac, pd.iouWeight)
		if err != nil {
			return nil, nil, err
		}
		scored, err = tensor.Add(scored, pd.iouBias)
		if err != nil {
			return nil, nil, err
		}
		iouPreds[i] = tensor.Sigmoid(scored)
	}

	return masks, iouPreds, nil
}

// promptFeatures builds the constant feature tensors for one image's prompts:
// a box-indicator stack [N,H,W], the per-pixel channel-mean intensity
// replicated per prompt [N,H,W], and the per-prompt area fraction [N].
func (pd *PromptDecoder) promptFeatures(img *tensor.Tensor, prompts []Box) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error) {
	channels, height, width := img.Shape[0], img.Shape[1], img.Shape[2]
	plane := height * width

	mean := make([]float32, plane)
	for c := 0; c < channels; c++ {
		for p := 0; p < plane; p++ {
			mean[p] += img.Data[c*plane+p]
		}
	}
	for p := range mean {
		mean[p] /= float32(channels)
	}

	n := len(prompts)
	indicator := make([]float32, n*plane)
	intensity := make([]float32, n*plane)
	areaFrac := make([]float32, n)

	for k, box := range prompts {
		x1, y1 := clampCoord(box.X1, width), clampCoord(box.Y1, height)
		x2, y2 := clampCoord(box.X2, width), clampCoord(box.Y2, height)
		if x2 < x1 || y2 < y1 {
			return nil, nil, nil, fmt.Errorf("degenerate prompt box (%v,%v)-(%v,%v)", box.X1, box.Y1, box.X2, box.Y2)
		}

		base := k * plane
		copy(intensity[base:base+plane], mean)
		for y := y1; y < y2; y++ {
			for x := x1; x < x2; x++ {
				indicator[base+y*width+x] = 1
			}
		}
		areaFrac[k] = float32((x2-x1)*(y2-y1)) / float32(plane)
	}

	indT, err := tensor.New([]int{n, height, width}, indicator)
	if err != nil {
		return nil, nil, nil, err
	}
	intT, err := tensor.New([]int{n, height, width}, intensity)
	if err != nil {
		return nil, nil, nil, err
	}
	areaT, err := tensor.New([]int{n}, areaFrac)
	if err != nil {
		return nil, nil, nil, err
	}
	return indT, intT, areaT, nil
}

func clampCoord(v float32, limit int) int {
	c := int(v)
	if c < 0 {
		return 0
	}
	if c > limit {
		return limit
	}
	return c
}

// Parameters returns the trainable leaves.
func (pd *PromptDecoder) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{pd.maskBias, pd.insideWeight, pd.intensityWeight, pd.iouWeight, pd.iouBias}
}

// StateDict returns the model-only parameter state.
func (pd *PromptDecoder) StateDict() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"mask_head.bias":             pd.maskBias,
		"mask_head.inside_weight":    pd.insideWeight,
		"mask_head.intensity_weight": pd.intensityWeight,
		"iou_head.weight":            pd.iouWeight,
		"iou_head.bias":              pd.iouBias,
	}
}

// ImageSize returns the square input resolution.
func (pd *PromptDecoder) ImageSize() int {
	return pd.imageSize
}

// Train enables training mode.
func (pd *PromptDecoder) Train() {
	pd.training = true
}

// Eval disables training mode.
func (pd *PromptDecoder) Eval() {
	pd.training = false
}
