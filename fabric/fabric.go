// Package fabric abstracts the distributed-training runtime away from the
// training loop. A Fabric gives each worker its device placement, rank
// identity, seeded randomness, gradient synchronization, and rank-gated
// printing. The trainer never talks to the collective layer directly; it
// calls Backward and lets the fabric decide whether gradients need to be
// averaged across replicas.
package fabric

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/tsawler/sam-tuner/tensor"
)

// Fabric is one worker's handle onto the distributed runtime.
type Fabric interface {
	// GlobalRank identifies this worker; rank zero is the coordinator.
	GlobalRank() int

	// WorldSize is the number of cooperating workers.
	WorldSize() int

	// IsCoordinator reports whether this worker performs non-idempotent
	// shared-resource actions (directory creation, checkpoint writes).
	IsCoordinator() bool

	// Device names the compute device this worker is placed on.
	Device() string

	// SeedEverything reseeds this worker's random source. Callers offset
	// the seed by rank to decorrelate data shuffling across workers.
	SeedEverything(seed int64)

	// Rand returns this worker's seeded random source.
	Rand() *rand.Rand

	// RegisterParameters declares the trainable tensors participating in
	// gradient synchronization. Must be called before the first Backward.
	RegisterParameters(params []*tensor.Tensor)

	// Backward runs reverse-mode differentiation from the loss and blocks
	// until gradients are synchronized across all workers.
	Backward(loss *tensor.Tensor) error

	// Barrier blocks until every worker reaches it. The trainer fences the
	// validation loop with it so no worker trains while any worker has
	// gradient recording disabled.
	Barrier() error

	// Print writes a line from the coordinator only, keeping multi-worker
	// console output from interleaving.
	Print(format string, args ...any)
}

// Launch starts worldSize workers, invoking fn once per worker with its
// Fabric handle, and blocks until all return. A failure in any worker aborts
// the collective: workers blocked in gradient synchronization observe the
// error and unwind. The first error is returned.
func Launch(worldSize int, fn func(Fabric) error) error {
	if worldSize < 1 {
		worldSize = 1
	}

	fmt.Printf("Launching %d worker(s) on cpu (%s, %d cores, AVX2=%t)\n",
		worldSize, cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.Supports(cpuid.AVX2))

	if worldSize == 1 {
		return fn(newWorker(0, 1, nil))
	}

	reducer := newGradReducer(worldSize)
	errs := make([]error, worldSize)
	var wg sync.WaitGroup

	for rank := 0; rank < worldSize; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			if err := fn(newWorker(rank, worldSize, reducer)); err != nil {
				errs[rank] = err
				// Unblock peers waiting on a collective.
				reducer.fail(fmt.Errorf("worker %d failed: %v", rank, err))
			}
		}(rank)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// worker is the per-rank Fabric implementation for CPU data-parallel runs.
type worker struct {
	rank      int
	worldSize int
	reducer   *gradReducer
	rng       *rand.Rand
	params    []*tensor.Tensor
}

func newWorker(rank, worldSize int, reducer *gradReducer) *worker {
	return &worker{
		rank:      rank,
		worldSize: worldSize,
		reducer:   reducer,
		rng:       rand.New(rand.NewSource(int64(rank) + 1)),
	}
}

func (w *worker) GlobalRank() int { return w.rank }

func (w *worker) WorldSize() int { return w.worldSize }

func (w *worker) IsCoordinator() bool { return w.rank == 0 }

func (w *worker) Device() string { return "cpu" }

func (w *worker) SeedEverything(seed int64) {
	w.rng = rand.New(rand.NewSource(seed))
}

func (w *worker) Rand() *rand.Rand { return w.rng }

func (w *worker) RegisterParameters(params []*tensor.Tensor) {
	w.params = params
}

func (w *worker) Backward(loss *tensor.Tensor) error {
	if err := loss.Backward(); err != nil {
		return fmt.Errorf("backward failed: %v", err)
	}
	if w.reducer == nil {
		return nil
	}
	if len(w.params) == 0 {
		return fmt.Errorf("no parameters registered for gradient synchronization")
	}
	return w.reducer.allReduce(w.rank, w.params)
}

func (w *worker) Barrier() error {
	if w.reducer == nil {
		return nil
	}
	return w.reducer.barrier()
}

func (w *worker) Print(format string, args ...any) {
	if w.rank == 0 {
		fmt.Printf(format, args...)
	}
}
