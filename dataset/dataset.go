// Package dataset produces training batches for box-prompted segmentation:
// images resized to the model's input resolution, one binary mask per prompt,
// and bounding-box prompts derived from mask extents. Augmentation is out of
// scope; samples are deterministic given the files on disk.
package dataset

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/tsawler/sam-tuner/config"
	"github.com/tsawler/sam-tuner/model"
	"github.com/tsawler/sam-tuner/tensor"
)

// annotationFile is the on-disk index: one entry per image with the paths of
// its instance masks, relative to the annotation file's directory.
type annotationFile struct {
	Samples []annotationEntry `json:"samples"`
}

type annotationEntry struct {
	Image string   `json:"image"`
	Masks []string `json:"masks"`
}

// SegmentationDataset serves resized image/box/mask triples from disk.
type SegmentationDataset struct {
	root      string
	entries   []annotationEntry
	imageSize int
}

// Open reads an annotation file and prepares a dataset sized for the model's
// input resolution.
func Open(annotationPath string, imageSize int) (*SegmentationDataset, error) {
	if imageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", imageSize)
	}

	data, err := os.ReadFile(annotationPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations: %v", err)
	}

	var index annotationFile
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse annotations: %v", err)
	}
	if len(index.Samples) == 0 {
		return nil, fmt.Errorf("annotation file %s lists no samples", annotationPath)
	}
	for i, entry := range index.Samples {
		if len(entry.Masks) == 0 {
			return nil, fmt.Errorf("sample %d (%s) has no masks", i, entry.Image)
		}
	}

	return &SegmentationDataset{
		root:      filepath.Dir(annotationPath),
		entries:   index.Samples,
		imageSize: imageSize,
	}, nil
}

// LoadDatasets opens the train and validation datasets from the run
// configuration, sized for the model's image encoder.
func LoadDatasets(cfg *config.DatasetConfig, imageSize int) (*SegmentationDataset, *SegmentationDataset, error) {
	train, err := Open(cfg.TrainAnnotations, imageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("train dataset: %v", err)
	}
	val, err := Open(cfg.ValAnnotations, imageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("validation dataset: %v", err)
	}
	return train, val, nil
}

// Len returns the number of samples.
func (d *SegmentationDataset) Len() int {
	return len(d.entries)
}

// Get loads one sample: the image as a [3,S,S] tensor in [0,1], its binary
// masks stacked as [N,S,S], and one prompt box per mask computed from the
// mask's pixel extents in resized coordinates.
func (d *SegmentationDataset) Get(idx int) (*tensor.Tensor, []model.Box, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(d.entries) {
		return nil, nil, nil, fmt.Errorf("sample index %d out of range [0, %d)", idx, len(d.entries))
	}
	entry := d.entries[idx]

	img, err := d.loadImage(filepath.Join(d.root, entry.Image))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sample %d: %v", idx, err)
	}

	size := d.imageSize
	plane := size * size
	maskData := make([]float32, len(entry.Masks)*plane)
	boxes := make([]model.Box, len(entry.Masks))

	for n, maskPath := range entry.Masks {
		bits, err := d.loadMask(filepath.Join(d.root, maskPath))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sample %d mask %d: %v", idx, n, err)
		}
		copy(maskData[n*plane:(n+1)*plane], bits)

		box, err := maskExtents(bits, size)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sample %d mask %d (%s): %v", idx, n, maskPath, err)
		}
		boxes[n] = box
	}

	masks, err := tensor.New([]int{len(entry.Masks), size, size}, maskData)
	if err != nil {
		return nil, nil, nil, err
	}
	return img, boxes, masks, nil
}

// loadImage decodes and bilinearly resizes an image to [3,S,S] in [0,1].
func (d *SegmentationDataset) loadImage(path string) (*tensor.Tensor, error) {
	src, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	size := d.imageSize
	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(resized, resized.Bounds(), src, src.Bounds(), draw.Src, nil)

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			offset := resized.PixOffset(x, y)
			data[y*size+x] = float32(resized.Pix[offset]) / 255
			data[plane+y*size+x] = float32(resized.Pix[offset+1]) / 255
			data[2*plane+y*size+x] = float32(resized.Pix[offset+2]) / 255
		}
	}
	return tensor.New([]int{3, size, size}, data)
}

// loadMask decodes a mask image, resizes it with nearest-neighbor sampling to
// keep it binary, and returns SxS values in {0,1}.
func (d *SegmentationDataset) loadMask(path string) ([]float32, error) {
	src, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	size := d.imageSize
	resized := image.NewGray(image.Rect(0, 0, size, size))
	draw.NearestNeighbor.Scale(resized, resized.Bounds(), src, src.Bounds(), draw.Src, nil)

	bits := make([]float32, size*size)
	for i, v := range resized.Pix {
		if v >= 128 {
			bits[i] = 1
		}
	}
	return bits, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %v", path, err)
	}
	return img, nil
}

// maskExtents derives the prompt box from the mask's positive-pixel bounds.
func maskExtents(bits []float32, size int) (model.Box, error) {
	minX, minY := size, size
	maxX, maxY := -1, -1
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if bits[y*size+x] == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < 0 {
		return model.Box{}, fmt.Errorf("mask has no positive pixels after resizing")
	}
	return model.Box{
		X1: float32(minX),
		Y1: float32(minY),
		X2: float32(maxX + 1),
		Y2: float32(maxY + 1),
	}, nil
}
