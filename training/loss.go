package training

import (
	"fmt"
	"math"

	"github.com/kserra/trainkit/tensor"
)

// Loss computes a scalar loss from logits and integer class labels, and the
// gradient of that loss with respect to the logits.
type Loss interface {
	Forward(pred, target *tensor.Tensor) (float64, error)
	Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error)
}

// CrossEntropyLoss combines log-softmax and negative log-likelihood,
// averaged over the batch
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss creates a new CrossEntropyLoss
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward computes the mean cross-entropy over the batch
func (c *CrossEntropyLoss) Forward(pred, target *tensor.Tensor) (float64, error) {
	logits, labels, batchSize, numClasses, err := checkLossInputs(pred, target)
	if err != nil {
		return 0, err
	}

	var total float64
	for b := 0; b < batchSize; b++ {
		probs := softmaxRow(logits[b*numClasses : (b+1)*numClasses])
		total += -math.Log(math.Max(probs[int(labels[b])], 1e-12))
	}

	return total / float64(batchSize), nil
}

// Backward returns dL/dlogits = (softmax(logits) - onehot(target)) / batchSize
func (c *CrossEntropyLoss) Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	logits, labels, batchSize, numClasses, err := checkLossInputs(pred, target)
	if err != nil {
		return nil, err
	}

	grad := make([]float32, batchSize*numClasses)
	scale := 1.0 / float64(batchSize)
	for b := 0; b < batchSize; b++ {
		probs := softmaxRow(logits[b*numClasses : (b+1)*numClasses])
		row := b * numClasses
		for j := 0; j < numClasses; j++ {
			grad[row+j] = float32(probs[j] * scale)
		}
		grad[row+int(labels[b])] -= float32(scale)
	}

	return tensor.NewTensor(pred.Shape, tensor.Float32, grad)
}

// SmoothCrossEntropyLoss is cross-entropy against labels smoothed toward the
// uniform distribution: the true class keeps 1-smoothing of the mass and the
// remainder spreads evenly over all classes.
type SmoothCrossEntropyLoss struct {
	smoothing float64
}

// NewSmoothCrossEntropyLoss creates a smoothed cross-entropy loss.
// The smoothing factor must be in [0, 1).
func NewSmoothCrossEntropyLoss(smoothing float64) (*SmoothCrossEntropyLoss, error) {
	if smoothing < 0 || smoothing >= 1 {
		return nil, fmt.Errorf("invalid label smoothing %g: must be in [0, 1)", smoothing)
	}
	return &SmoothCrossEntropyLoss{smoothing: smoothing}, nil
}

// Forward computes the mean smoothed cross-entropy over the batch
func (s *SmoothCrossEntropyLoss) Forward(pred, target *tensor.Tensor) (float64, error) {
	logits, labels, batchSize, numClasses, err := checkLossInputs(pred, target)
	if err != nil {
		return 0, err
	}

	uniform := s.smoothing / float64(numClasses)
	confidence := 1.0 - s.smoothing

	var total float64
	for b := 0; b < batchSize; b++ {
		probs := softmaxRow(logits[b*numClasses : (b+1)*numClasses])
		for j := 0; j < numClasses; j++ {
			logP := math.Log(math.Max(probs[j], 1e-12))
			q := uniform
			if j == int(labels[b]) {
				q += confidence
			}
			total += -q * logP
		}
	}

	return total / float64(batchSize), nil
}

// Backward returns dL/dlogits = (softmax(logits) - smoothed(target)) / batchSize
func (s *SmoothCrossEntropyLoss) Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	logits, labels, batchSize, numClasses, err := checkLossInputs(pred, target)
	if err != nil {
		return nil, err
	}

	uniform := s.smoothing / float64(numClasses)
	confidence := 1.0 - s.smoothing
	scale := 1.0 / float64(batchSize)

	grad := make([]float32, batchSize*numClasses)
	for b := 0; b < batchSize; b++ {
		probs := softmaxRow(logits[b*numClasses : (b+1)*numClasses])
		row := b * numClasses
		for j := 0; j < numClasses; j++ {
			q := uniform
			if j == int(labels[b]) {
				q += confidence
			}
			grad[row+j] = float32((probs[j] - q) * scale)
		}
	}

	return tensor.NewTensor(pred.Shape, tensor.Float32, grad)
}

func checkLossInputs(pred, target *tensor.Tensor) ([]float32, []int32, int, int, error) {
	if len(pred.Shape) != 2 {
		return nil, nil, 0, 0, fmt.Errorf("predictions must be 2D [batch_size, num_classes], got shape %v", pred.Shape)
	}
	if len(target.Shape) != 1 || target.Shape[0] != pred.Shape[0] {
		return nil, nil, 0, 0, fmt.Errorf("targets must be 1D [%d], got shape %v", pred.Shape[0], target.Shape)
	}

	logits, err := pred.Float32s()
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("invalid predictions: %v", err)
	}
	labels, err := target.Int32s()
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("invalid targets: %v", err)
	}

	batchSize := pred.Shape[0]
	numClasses := pred.Shape[1]
	for b, label := range labels {
		if label < 0 || int(label) >= numClasses {
			return nil, nil, 0, 0, fmt.Errorf("label %d at index %d is out of range [0, %d)", label, b, numClasses)
		}
	}

	return logits, labels, batchSize, numClasses, nil
}

// softmaxRow computes a numerically stable softmax over one row of logits
func softmaxRow(logits []float32) []float64 {
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
