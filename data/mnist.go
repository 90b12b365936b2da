package data

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// LoadMNIST reads an MNIST split in IDX format from the dataset root.
// Pixels are flattened to 784 features and scaled to [0, 1].
func LoadMNIST(root string, train bool) (*InMemoryDataset, error) {
	imagesName, labelsName := "t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte"
	if train {
		imagesName, labelsName = "train-images-idx3-ubyte", "train-labels-idx1-ubyte"
	}

	images, err := readIDXImages(filepath.Join(root, imagesName))
	if err != nil {
		return nil, fmt.Errorf("failed to load MNIST images: %w", err)
	}

	labels, err := readIDXLabels(filepath.Join(root, labelsName))
	if err != nil {
		return nil, fmt.Errorf("failed to load MNIST labels: %w", err)
	}

	if len(images) != len(labels) {
		return nil, fmt.Errorf("MNIST image/label count mismatch: %d images, %d labels", len(images), len(labels))
	}

	samples := make([][]float32, len(images))
	classLabels := make([]int32, len(labels))
	for i, img := range images {
		sample := make([]float32, len(img))
		for j, px := range img {
			sample[j] = float32(px) / 255.0
		}
		samples[i] = sample
		classLabels[i] = int32(labels[i])
	}

	return NewInMemoryDataset(samples, classLabels)
}

// readIDXImages reads an IDX image file: a big-endian magic number (2051),
// image count, row count, column count, then raw pixel bytes.
func readIDXImages(path string) ([][]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != idxImagesMagic {
		return nil, fmt.Errorf("invalid magic number: got %d, want %d", magic, idxImagesMagic)
	}

	var numImages, numRows, numCols uint32
	if err := binary.Read(file, binary.BigEndian, &numImages); err != nil {
		return nil, err
	}
	if err := binary.Read(file, binary.BigEndian, &numRows); err != nil {
		return nil, err
	}
	if err := binary.Read(file, binary.BigEndian, &numCols); err != nil {
		return nil, err
	}

	imageSize := int(numRows * numCols)
	images := make([][]byte, numImages)
	for i := range images {
		images[i] = make([]byte, imageSize)
		if _, err := io.ReadFull(file, images[i]); err != nil {
			return nil, fmt.Errorf("failed to read image %d: %w", i, err)
		}
	}

	return images, nil
}

// readIDXLabels reads an IDX label file: a big-endian magic number (2049),
// label count, then raw label bytes.
func readIDXLabels(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != idxLabelsMagic {
		return nil, fmt.Errorf("invalid magic number: got %d, want %d", magic, idxLabelsMagic)
	}

	var numLabels uint32
	if err := binary.Read(file, binary.BigEndian, &numLabels); err != nil {
		return nil, err
	}

	labels := make([]byte, numLabels)
	if _, err := io.ReadFull(file, labels); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}

	return labels, nil
}
