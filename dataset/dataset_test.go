package dataset

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/sam-tuner/config"
)

// writePNG renders a grayscale image where set selects the white pixels.
func writePNG(t *testing.T, path string, size int, set func(x, y int) bool) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if set(x, y) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}

func writeAnnotations(t *testing.T, dir string, name string, file annotationFile) string {
	t.Helper()
	data, err := json.Marshal(file)
	if err != nil {
		t.Fatalf("Failed to marshal annotations: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write annotations: %v", err)
	}
	return path
}

// buildDataset writes one 8x8 image with two masks and returns the
// annotation path. Mask 0 covers the top-left 4x4 quadrant; mask 1 covers
// the bottom row.
func buildDataset(t *testing.T, dir string) string {
	writePNG(t, filepath.Join(dir, "image.png"), 8, func(x, y int) bool { return true })
	writePNG(t, filepath.Join(dir, "mask0.png"), 8, func(x, y int) bool { return x < 4 && y < 4 })
	writePNG(t, filepath.Join(dir, "mask1.png"), 8, func(x, y int) bool { return y == 7 })

	return writeAnnotations(t, dir, "annotations.json", annotationFile{
		Samples: []annotationEntry{
			{Image: "image.png", Masks: []string{"mask0.png", "mask1.png"}},
		},
	})
}

func TestOpenAndGet(t *testing.T) {
	dir := t.TempDir()
	path := buildDataset(t, dir)

	ds, err := Open(path, 8)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if ds.Len() != 1 {
		t.Fatalf("Expected 1 sample, got %d", ds.Len())
	}

	img, boxes, masks, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if img.Shape[0] != 3 || img.Shape[1] != 8 || img.Shape[2] != 8 {
		t.Errorf("Expected image shape [3,8,8], got %v", img.Shape)
	}
	for _, v := range img.Data {
		if v < 0 || v > 1 {
			t.Fatalf("Image value %f outside [0,1]", v)
		}
	}

	if masks.Shape[0] != 2 || masks.Shape[1] != 8 || masks.Shape[2] != 8 {
		t.Fatalf("Expected mask shape [2,8,8], got %v", masks.Shape)
	}
	for _, v := range masks.Data {
		if v != 0 && v != 1 {
			t.Fatalf("Mask value %f is not binary", v)
		}
	}

	if len(boxes) != 2 {
		t.Fatalf("Expected 2 boxes, got %d", len(boxes))
	}
	// Boxes are the positive-pixel extents of each mask.
	if boxes[0].X1 != 0 || boxes[0].Y1 != 0 || boxes[0].X2 != 4 || boxes[0].Y2 != 4 {
		t.Errorf("Mask 0: expected box (0,0)-(4,4), got %+v", boxes[0])
	}
	if boxes[1].X1 != 0 || boxes[1].Y1 != 7 || boxes[1].X2 != 8 || boxes[1].Y2 != 8 {
		t.Errorf("Mask 1: expected box (0,7)-(8,8), got %+v", boxes[1])
	}
}

func TestGetResizesToImageSize(t *testing.T) {
	dir := t.TempDir()
	path := buildDataset(t, dir)

	ds, err := Open(path, 4)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	img, _, masks, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if img.Shape[1] != 4 || masks.Shape[1] != 4 {
		t.Errorf("Expected 4x4 outputs, got image %v and masks %v", img.Shape, masks.Shape)
	}
}

func TestOpenRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	if _, err := Open(filepath.Join(dir, "missing.json"), 8); err == nil {
		t.Error("Expected error for a missing annotation file")
	}

	empty := writeAnnotations(t, dir, "empty.json", annotationFile{})
	if _, err := Open(empty, 8); err == nil {
		t.Error("Expected error for an annotation file with no samples")
	}

	noMasks := writeAnnotations(t, dir, "nomasks.json", annotationFile{
		Samples: []annotationEntry{{Image: "image.png"}},
	})
	if _, err := Open(noMasks, 8); err == nil {
		t.Error("Expected error for a sample without masks")
	}

	good := buildDataset(t, dir)
	if _, err := Open(good, 0); err == nil {
		t.Error("Expected error for a non-positive image size")
	}
}

func TestGetRejectsEmptyMask(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "image.png"), 8, func(x, y int) bool { return true })
	writePNG(t, filepath.Join(dir, "blank.png"), 8, func(x, y int) bool { return false })
	path := writeAnnotations(t, dir, "annotations.json", annotationFile{
		Samples: []annotationEntry{{Image: "image.png", Masks: []string{"blank.png"}}},
	})

	ds, err := Open(path, 8)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, _, _, err := ds.Get(0); err == nil {
		t.Error("Expected error for a mask with no positive pixels")
	}
}

func TestLoadDatasets(t *testing.T) {
	dir := t.TempDir()
	path := buildDataset(t, dir)

	cfg := &config.DatasetConfig{
		TrainAnnotations: path,
		ValAnnotations:   path,
		BatchSize:        1,
	}
	train, val, err := LoadDatasets(cfg, 8)
	if err != nil {
		t.Fatalf("LoadDatasets failed: %v", err)
	}
	if train.Len() != 1 || val.Len() != 1 {
		t.Errorf("Expected 1 sample each, got %d and %d", train.Len(), val.Len())
	}

	cfg.ValAnnotations = filepath.Join(dir, "missing.json")
	if _, _, err := LoadDatasets(cfg, 8); err == nil {
		t.Error("Expected error for a missing validation annotation file")
	}
}
