package checkpoints

import (
	"path/filepath"
	"testing"

	"github.com/tsawler/sam-tuner/tensor"
)

func testStateDict(t *testing.T) map[string]*tensor.Tensor {
	t.Helper()
	weight, err := tensor.New([]int{2, 3}, []float32{0.1, -0.2, 0.3, 1.5, -2.5, 0})
	if err != nil {
		t.Fatalf("tensor.New failed: %v", err)
	}
	bias := tensor.FromScalar(-2)
	return map[string]*tensor.Tensor{
		"mask_head.weight": weight,
		"mask_head.bias":   bias,
	}
}

func TestCheckpointNames(t *testing.T) {
	tests := []struct {
		epoch    int
		score    float64
		periodic string
		best     string
	}{
		{1, 0.4, "epoch-000001-f10.40-ckpt.pth", "best-epoch-1-f10.40.pth"},
		{12, 0.876, "epoch-000012-f10.88-ckpt.pth", "best-epoch-12-f10.88.pth"},
		{0, 1.0, "epoch-000000-f11.00-ckpt.pth", "best-epoch-0-f11.00.pth"},
	}

	for _, tt := range tests {
		if got := PeriodicName(tt.epoch, tt.score); got != tt.periodic {
			t.Errorf("PeriodicName(%d, %f): expected %q, got %q", tt.epoch, tt.score, tt.periodic, got)
		}
		if got := BestName(tt.epoch, tt.score); got != tt.best {
			t.Errorf("BestName(%d, %f): expected %q, got %q", tt.epoch, tt.score, tt.best, got)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	original := testStateDict(t)

	for _, format := range []CheckpointFormat{FormatWire, FormatJSON} {
		path := filepath.Join(dir, "ckpt-"+format.String()+".pth")

		saver := NewSaver(format)
		if err := saver.Save(original, path); err != nil {
			t.Fatalf("%s: Save failed: %v", format.String(), err)
		}

		loaded, err := saver.Load(path)
		if err != nil {
			t.Fatalf("%s: Load failed: %v", format.String(), err)
		}
		if len(loaded) != len(original) {
			t.Fatalf("%s: expected %d tensors, got %d", format.String(), len(original), len(loaded))
		}

		for name, want := range original {
			got, ok := loaded[name]
			if !ok {
				t.Fatalf("%s: missing tensor %s", format.String(), name)
			}
			if len(got.Shape) != len(want.Shape) {
				t.Fatalf("%s: %s shape %v, expected %v", format.String(), name, got.Shape, want.Shape)
			}
			for i := range want.Data {
				if got.Data[i] != want.Data[i] {
					t.Errorf("%s: %s data[%d]: expected %f, got %f", format.String(), name, i, want.Data[i], got.Data[i])
				}
			}
		}
	}
}

func TestSaveRejectsEmptyStateDict(t *testing.T) {
	saver := NewSaver(FormatWire)
	if err := saver.Save(map[string]*tensor.Tensor{}, filepath.Join(t.TempDir(), "empty.pth")); err == nil {
		t.Error("Expected error for an empty state dict")
	}
}

func TestLoadWeightsIntoModel(t *testing.T) {
	stateDict := testStateDict(t)

	params := map[string]*tensor.Tensor{
		"mask_head.weight": mustZeros(t, []int{2, 3}),
		"mask_head.bias":   tensor.FromScalar(0),
	}
	if err := LoadWeightsIntoModel(stateDict, params); err != nil {
		t.Fatalf("LoadWeightsIntoModel failed: %v", err)
	}
	if params["mask_head.bias"].Item() != -2 {
		t.Errorf("Expected bias -2, got %f", params["mask_head.bias"].Item())
	}

	// Missing parameter
	params["decoder.extra"] = tensor.FromScalar(0)
	if err := LoadWeightsIntoModel(stateDict, params); err == nil {
		t.Error("Expected error for a parameter missing from the checkpoint")
	}
	delete(params, "decoder.extra")

	// Shape mismatch
	params["mask_head.weight"] = mustZeros(t, []int{3, 3})
	if err := LoadWeightsIntoModel(stateDict, params); err == nil {
		t.Error("Expected error for a shape mismatch")
	}
}

func mustZeros(t *testing.T, shape []int) *tensor.Tensor {
	t.Helper()
	out, err := tensor.Zeros(shape)
	if err != nil {
		t.Fatalf("tensor.Zeros failed: %v", err)
	}
	return out
}
