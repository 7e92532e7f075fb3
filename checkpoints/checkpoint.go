// Package checkpoints persists model-only parameter state. Checkpoints never
// carry optimizer or schedule state: a run restarts its optimizer from
// scratch and only the network weights survive.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/tsawler/sam-tuner/tensor"
)

// CheckpointFormat defines the serialization format.
type CheckpointFormat int

const (
	// FormatWire is the default binary protobuf wire encoding used for
	// .pth checkpoint files.
	FormatWire CheckpointFormat = iota
	// FormatJSON is a human-readable alternative for debugging.
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatWire:
		return "Wire"
	case FormatJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}

// PeriodicName returns the filename for the checkpoint written after every
// validation pass. The format is a compatibility contract; do not change it.
func PeriodicName(epoch int, score float64) string {
	return fmt.Sprintf("epoch-%06d-f1%.2f-ckpt.pth", epoch, score)
}

// BestName returns the filename for a best-score checkpoint. The format is a
// compatibility contract; do not change it.
func BestName(epoch int, score float64) string {
	return fmt.Sprintf("best-epoch-%d-f1%.2f.pth", epoch, score)
}

// WeightTensor represents one named parameter with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// jsonCheckpoint is the on-disk layout of the JSON format.
type jsonCheckpoint struct {
	Framework string         `json:"framework"`
	Version   string         `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	Weights   []WeightTensor `json:"weights"`
}

// Saver handles saving and loading state dicts in a chosen format.
type Saver struct {
	format CheckpointFormat
}

// NewSaver creates a checkpoint saver for the specified format.
func NewSaver(format CheckpointFormat) *Saver {
	return &Saver{format: format}
}

// flatten converts a state dict into name-sorted weight records so encoding
// is deterministic.
func flatten(stateDict map[string]*tensor.Tensor) []WeightTensor {
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)

	weights := make([]WeightTensor, 0, len(names))
	for _, name := range names {
		t := stateDict[name]
		weights = append(weights, WeightTensor{
			Name:  name,
			Shape: append([]int{}, t.Shape...),
			Data:  append([]float32{}, t.Data...),
		})
	}
	return weights
}

// Save writes the state dict to path.
func (s *Saver) Save(stateDict map[string]*tensor.Tensor, path string) error {
	if len(stateDict) == 0 {
		return fmt.Errorf("refusing to save an empty state dict")
	}

	weights := flatten(stateDict)

	switch s.format {
	case FormatWire:
		data := marshalWeights(weights)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write checkpoint file: %v", err)
		}
		return nil
	case FormatJSON:
		return s.saveJSON(weights, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", s.format.String())
	}
}

// Load reads a state dict from path.
func (s *Saver) Load(path string) (map[string]*tensor.Tensor, error) {
	var weights []WeightTensor
	var err error

	switch s.format {
	case FormatWire:
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read checkpoint file: %v", readErr)
		}
		weights, err = unmarshalWeights(data)
	case FormatJSON:
		weights, err = s.loadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format.String())
	}
	if err != nil {
		return nil, err
	}

	stateDict := make(map[string]*tensor.Tensor, len(weights))
	for _, w := range weights {
		t, err := tensor.New(w.Shape, w.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild tensor %s: %v", w.Name, err)
		}
		stateDict[w.Name] = t
	}
	return stateDict, nil
}

func (s *Saver) saveJSON(weights []WeightTensor, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	ckpt := jsonCheckpoint{
		Framework: "sam-tuner",
		Version:   "1.0.0",
		CreatedAt: time.Now(),
		Weights:   weights,
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&ckpt); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	return nil
}

func (s *Saver) loadJSON(path string) ([]WeightTensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var ckpt jsonCheckpoint
	if err := json.NewDecoder(file).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return ckpt.Weights, nil
}

// LoadWeightsIntoModel copies a loaded state dict into an existing set of
// parameter tensors, validating names and shapes.
func LoadWeightsIntoModel(stateDict map[string]*tensor.Tensor, params map[string]*tensor.Tensor) error {
	for name, p := range params {
		w, ok := stateDict[name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %s", name)
		}
		if w.NumElems != p.NumElems {
			return fmt.Errorf("shape mismatch for %s: checkpoint %v vs model %v", name, w.Shape, p.Shape)
		}
		copy(p.Data, w.Data)
	}
	return nil
}
