package fabric

import (
	"fmt"
	"sync"

	"github.com/tsawler/sam-tuner/tensor"
)

// gradReducer implements a synchronous all-reduce over worker gradients. All
// workers deposit their parameter replicas and block; the last arrival
// averages gradients elementwise and installs the result into every replica
// before releasing the barrier. A missing gradient counts as zero, matching
// a worker whose loss did not touch that parameter this step.
type gradReducer struct {
	worldSize int

	mu            sync.Mutex
	cond          *sync.Cond
	contributions [][]*tensor.Tensor
	arrived       int
	generation    uint64
	failure       error

	fenceArrived    int
	fenceGeneration uint64
}

func newGradReducer(worldSize int) *gradReducer {
	r := &gradReducer{
		worldSize:     worldSize,
		contributions: make([][]*tensor.Tensor, worldSize),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// fail aborts the collective; all waiters observe the error.
func (r *gradReducer) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure == nil {
		r.failure = err
	}
	r.cond.Broadcast()
}

// allReduce blocks until every worker of the current step has contributed,
// then returns with averaged gradients installed on this worker's replica.
func (r *gradReducer) allReduce(rank int, params []*tensor.Tensor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failure != nil {
		return r.failure
	}

	r.contributions[rank] = params
	r.arrived++
	gen := r.generation

	if r.arrived == r.worldSize {
		if err := r.reduce(); err != nil {
			if r.failure == nil {
				r.failure = err
			}
		}
		r.arrived = 0
		r.generation++
		r.cond.Broadcast()
		return r.failure
	}

	for gen == r.generation && r.failure == nil {
		r.cond.Wait()
	}
	return r.failure
}

// barrier blocks until every worker arrives, carrying no data. Reuses the
// failure channel so an aborted collective releases fence waiters too.
func (r *gradReducer) barrier() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failure != nil {
		return r.failure
	}

	r.fenceArrived++
	gen := r.fenceGeneration

	if r.fenceArrived == r.worldSize {
		r.fenceArrived = 0
		r.fenceGeneration++
		r.cond.Broadcast()
		return nil
	}

	for gen == r.fenceGeneration && r.failure == nil {
		r.cond.Wait()
	}
	return r.failure
}

// reduce averages gradients across all contributions in place. Caller holds
// the lock.
func (r *gradReducer) reduce() error {
	base := r.contributions[0]
	for rank := 1; rank < r.worldSize; rank++ {
		if len(r.contributions[rank]) != len(base) {
			return fmt.Errorf("worker %d registered %d parameters, coordinator registered %d",
				rank, len(r.contributions[rank]), len(base))
		}
	}

	scale := float32(1.0 / float64(r.worldSize))
	for i, p := range base {
		avg := make([]float32, p.NumElems)
		for rank := 0; rank < r.worldSize; rank++ {
			replica := r.contributions[rank][i]
			if replica.NumElems != p.NumElems {
				return fmt.Errorf("parameter %d: replica on worker %d has %d elements, expected %d",
					i, rank, replica.NumElems, p.NumElems)
			}
			grad := replica.Grad()
			if grad == nil {
				continue
			}
			for j, g := range grad.Data {
				avg[j] += g
			}
		}
		for j := range avg {
			avg[j] *= scale
		}

		for rank := 0; rank < r.worldSize; rank++ {
			replica := r.contributions[rank][i]
			data := make([]float32, len(avg))
			copy(data, avg)
			reduced, err := tensor.New(replica.Shape, data)
			if err != nil {
				return fmt.Errorf("parameter %d: %v", i, err)
			}
			replica.SetGrad(reduced)
		}
	}
	return nil
}
