// Package partition divides remaining work among cooperating workers.
//
// Assignment is round-robin over one snapshot of the remaining sequence:
// element i belongs to worker (i mod total)+1. Disjointness holds only for
// workers that computed the same snapshot; fleets started against a moving
// global checkpoint can overlap unless claims are enabled (see package lease).
package partition

import (
	"errors"
	"fmt"
)

// ErrInvalidPartition indicates a worker index outside [1, total].
var ErrInvalidPartition = errors.New("invalid partition")

// Validate checks a 1-based worker index against the fleet size.
func Validate(workerIndex, totalWorkers int) error {
	if totalWorkers < 1 {
		return fmt.Errorf("%w: total workers must be >= 1, got %d", ErrInvalidPartition, totalWorkers)
	}
	if workerIndex < 1 || workerIndex > totalWorkers {
		return fmt.Errorf("%w: worker index %d not in [1, %d]", ErrInvalidPartition, workerIndex, totalWorkers)
	}
	return nil
}

// Assign returns the sub-sequence of remaining owned by workerIndex.
func Assign(remaining []string, workerIndex, totalWorkers int) ([]string, error) {
	if err := Validate(workerIndex, totalWorkers); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(remaining)/totalWorkers+1)
	for i, id := range remaining {
		if i%totalWorkers == workerIndex-1 {
			out = append(out, id)
		}
	}
	return out, nil
}

// Plan returns the partition size of every worker, indexed from 0 for worker 1.
func Plan(remaining int, totalWorkers int) ([]int, error) {
	if err := Validate(1, totalWorkers); err != nil {
		return nil, err
	}
	sizes := make([]int, totalWorkers)
	for w := range sizes {
		if remaining > w {
			sizes[w] = (remaining-w-1)/totalWorkers + 1
		}
	}
	return sizes, nil
}
