package data

import (
	"fmt"

	"github.com/kserra/trainkit/config"
)

// Loaders bundles the three per-split data loaders with the dataset geometry
// the model constructor needs.
type Loaders struct {
	Train      *DataLoader
	Valid      *DataLoader
	Test       *DataLoader
	InputDim   int
	NumClasses int
}

const (
	mnistValidSamples = 5000

	syntheticDims    = 16
	syntheticClasses = 10
)

// NewLoaders builds train/valid/test loaders for the configured dataset.
// The validation split is held out from the training set; the test split is
// the dataset's own test set. An unknown dataset name is a configuration error.
func NewLoaders(cfg *config.Config, root string) (*Loaders, error) {
	switch cfg.Dataset {
	case "mnist":
		return newMNISTLoaders(cfg, root)
	case "synthetic":
		return newSyntheticLoaders(cfg)
	default:
		return nil, &config.Error{Key: "dataset", Reason: fmt.Sprintf("invalid dataset=%s", cfg.Dataset)}
	}
}

func newMNISTLoaders(cfg *config.Config, root string) (*Loaders, error) {
	full, err := LoadMNIST(root, true)
	if err != nil {
		return nil, err
	}

	validSize := mnistValidSamples
	if full.Len() <= validSize {
		validSize = full.Len() / 10
	}
	if validSize < 1 {
		return nil, fmt.Errorf("mnist training set too small to hold out a validation split: %d samples", full.Len())
	}

	trainSet, err := full.Slice(0, full.Len()-validSize)
	if err != nil {
		return nil, err
	}
	validSet, err := full.Slice(full.Len()-validSize, full.Len())
	if err != nil {
		return nil, err
	}

	testSet, err := LoadMNIST(root, false)
	if err != nil {
		return nil, err
	}

	return assembleLoaders(cfg, trainSet, validSet, testSet, 10)
}

func newSyntheticLoaders(cfg *config.Config) (*Loaders, error) {
	trainSet, err := NewSyntheticDataset(512, syntheticDims, syntheticClasses, 1)
	if err != nil {
		return nil, err
	}
	validSet, err := NewSyntheticDataset(128, syntheticDims, syntheticClasses, 2)
	if err != nil {
		return nil, err
	}
	testSet, err := NewSyntheticDataset(128, syntheticDims, syntheticClasses, 3)
	if err != nil {
		return nil, err
	}

	return assembleLoaders(cfg, trainSet, validSet, testSet, syntheticClasses)
}

func assembleLoaders(cfg *config.Config, trainSet, validSet, testSet Dataset, numClasses int) (*Loaders, error) {
	train, err := NewDataLoader(trainSet, cfg.Batch, true)
	if err != nil {
		return nil, err
	}
	valid, err := NewDataLoader(validSet, cfg.Batch, false)
	if err != nil {
		return nil, err
	}
	test, err := NewDataLoader(testSet, cfg.Batch, false)
	if err != nil {
		return nil, err
	}

	return &Loaders{
		Train:      train,
		Valid:      valid,
		Test:       test,
		InputDim:   trainSet.Dims(),
		NumClasses: numClasses,
	}, nil
}
