package data

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/kserra/trainkit/tensor"
)

// Batch represents a batch of samples and labels
type Batch struct {
	Data   *tensor.Tensor // [batch_size, dims] Float32
	Labels *tensor.Tensor // [batch_size] Int32
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int {
	return b.Data.Shape[0]
}

// DataLoader provides batched, optionally shuffled passes over a dataset.
// One pass yields every sample exactly once; Reset starts a new pass.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		indices:   indices,
	}, nil
}

// Len returns the number of batches in one pass
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Size returns the number of samples in one pass
func (dl *DataLoader) Size() int {
	return dl.dataset.Len()
}

// Dims returns the feature dimension of the underlying dataset
func (dl *DataLoader) Dims() int {
	return dl.dataset.Dims()
}

// Reset starts a new pass, reshuffling when shuffle is enabled
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := rand.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// HasNext returns true if there are more batches in the current pass
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// Next returns the next batch, or nil when the pass is complete.
// The final batch may be smaller than the configured batch size.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of pass
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %v", err)
	}

	return batch, nil
}

// loadBatch assembles the samples at the given indices into batch tensors
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	batchSize := len(indices)
	dims := dl.dataset.Dims()

	dataBuf := make([]float32, batchSize*dims)
	labelBuf := make([]int32, batchSize)

	for i, idx := range indices {
		sample, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		if len(sample) != dims {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", idx, len(sample), dims)
		}

		copy(dataBuf[i*dims:(i+1)*dims], sample)
		labelBuf[i] = label
	}

	data, err := tensor.NewTensor([]int{batchSize, dims}, tensor.Float32, dataBuf)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %v", err)
	}

	labels, err := tensor.NewTensor([]int{batchSize}, tensor.Int32, labelBuf)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch labels tensor: %v", err)
	}

	return &Batch{Data: data, Labels: labels}, nil
}
