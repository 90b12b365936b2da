package data

import (
	"fmt"
	"math/rand"
)

// Dataset provides indexed access to flattened samples and their class labels
type Dataset interface {
	Len() int                                                 // Total number of samples
	Dims() int                                                // Feature dimension of a single sample
	Get(idx int) (sample []float32, label int32, err error)   // Returns a single sample
}

// InMemoryDataset holds all samples in memory
type InMemoryDataset struct {
	samples [][]float32
	labels  []int32
	dims    int
}

// NewInMemoryDataset creates a dataset from pre-loaded samples and labels
func NewInMemoryDataset(samples [][]float32, labels []int32) (*InMemoryDataset, error) {
	if len(samples) != len(labels) {
		return nil, fmt.Errorf("samples and labels must have the same length: got %d and %d", len(samples), len(labels))
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("dataset must not be empty")
	}

	dims := len(samples[0])
	for i, s := range samples {
		if len(s) != dims {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", i, len(s), dims)
		}
	}

	return &InMemoryDataset{
		samples: samples,
		labels:  labels,
		dims:    dims,
	}, nil
}

// Len returns the number of samples in the dataset
func (ds *InMemoryDataset) Len() int { return len(ds.samples) }

// Dims returns the feature dimension
func (ds *InMemoryDataset) Dims() int { return ds.dims }

// Get returns the sample at the given index
func (ds *InMemoryDataset) Get(idx int) ([]float32, int32, error) {
	if idx < 0 || idx >= len(ds.samples) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.samples))
	}
	return ds.samples[idx], ds.labels[idx], nil
}

// Slice returns a view over the index range [lo, hi)
func (ds *InMemoryDataset) Slice(lo, hi int) (*InMemoryDataset, error) {
	if lo < 0 || hi > len(ds.samples) || lo >= hi {
		return nil, fmt.Errorf("invalid slice range [%d, %d) for dataset of %d samples", lo, hi, len(ds.samples))
	}
	return &InMemoryDataset{
		samples: ds.samples[lo:hi],
		labels:  ds.labels[lo:hi],
		dims:    ds.dims,
	}, nil
}

// NewSyntheticDataset generates a deterministic linearly separable
// classification dataset, used for tests and smoke runs. Samples of class c
// cluster around a fixed center with small uniform noise.
func NewSyntheticDataset(size, dims, numClasses int, seed int64) (*InMemoryDataset, error) {
	if dims < numClasses {
		return nil, fmt.Errorf("synthetic dataset requires dims >= numClasses: got %d < %d", dims, numClasses)
	}

	rng := rand.New(rand.NewSource(seed))

	samples := make([][]float32, size)
	labels := make([]int32, size)
	for i := 0; i < size; i++ {
		class := int32(i % numClasses)
		sample := make([]float32, dims)
		for j := range sample {
			sample[j] = rng.Float32()*0.2 - 0.1
		}
		sample[class] += 2.0

		samples[i] = sample
		labels[i] = class
	}

	return NewInMemoryDataset(samples, labels)
}
