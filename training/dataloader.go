package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/sam-tuner/model"
	"github.com/tsawler/sam-tuner/tensor"
)

// Dataset is the sample source contract the loader batches over. Each sample
// is one image with N prompt boxes and the N ground-truth masks they select.
type Dataset interface {
	// Len returns the number of samples.
	Len() int

	// Get loads sample idx: the image tensor, its prompt boxes, and the
	// ground-truth masks stacked as [N,H,W].
	Get(idx int) (image *tensor.Tensor, boxes []model.Box, masks *tensor.Tensor, err error)
}

// Batch groups images with their prompt boxes and ground-truth masks. The
// three slices are index-aligned; entry i of Boxes and Masks belongs to
// Images[i].
type Batch struct {
	Images []*tensor.Tensor
	Boxes  [][]model.Box
	Masks  []*tensor.Tensor
}

// Size returns the number of images in the batch.
func (b *Batch) Size() int {
	return len(b.Images)
}

// DataLoader batches a dataset for one worker of a data-parallel run. Each
// rank sees a disjoint shard; shards are truncated to a common length so all
// workers execute the same number of collective steps per epoch.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand

	mutex    sync.Mutex
	indices  []int
	position int
}

// NewDataLoader creates a loader over the shard of dataset owned by rank.
// The rng drives epoch shuffling; pass the fabric's seeded source so shards
// stay decorrelated across workers without being nondeterministic.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, rank, worldSize int, rng *rand.Rand) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset cannot be nil")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	if worldSize < 1 {
		worldSize = 1
	}
	if rank < 0 || rank >= worldSize {
		return nil, fmt.Errorf("rank %d out of range for world size %d", rank, worldSize)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	perRank := dataset.Len() / worldSize

	indices := make([]int, 0, perRank)
	for i := 0; i < perRank; i++ {
		indices = append(indices, i*worldSize+rank)
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
		indices:   indices,
	}, nil
}

// Len returns the number of batches per epoch.
func (dl *DataLoader) Len() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader to the start of an epoch, reshuffling if enabled.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// HasNext reports whether another batch remains in the current epoch.
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// Next returns the next batch, or (nil, nil) at the end of the epoch.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil
	}

	end := dl.position + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}

	batch := &Batch{
		Images: make([]*tensor.Tensor, 0, end-dl.position),
		Boxes:  make([][]model.Box, 0, end-dl.position),
		Masks:  make([]*tensor.Tensor, 0, end-dl.position),
	}
	for _, idx := range dl.indices[dl.position:end] {
		image, boxes, masks, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		batch.Images = append(batch.Images, image)
		batch.Boxes = append(batch.Boxes, boxes)
		batch.Masks = append(batch.Masks, masks)
	}
	dl.position = end

	return batch, nil
}
