package nn

import (
	"fmt"
)

// NewModel constructs a classifier by architecture name. The input dimension
// and class count come from the dataset.
func NewModel(arch string, inputDim, numClasses int) (Module, error) {
	switch arch {
	case "linear":
		fc, err := NewLinear("fc", inputDim, numClasses, true)
		if err != nil {
			return nil, err
		}
		return NewSequential(fc), nil

	case "mlp":
		fc1, err := NewLinear("fc1", inputDim, 256, true)
		if err != nil {
			return nil, err
		}
		fc2, err := NewLinear("fc2", 256, numClasses, true)
		if err != nil {
			return nil, err
		}
		return NewSequential(fc1, NewReLU(), fc2), nil

	case "mlp-wide":
		fc1, err := NewLinear("fc1", inputDim, 512, true)
		if err != nil {
			return nil, err
		}
		fc2, err := NewLinear("fc2", 512, 512, true)
		if err != nil {
			return nil, err
		}
		fc3, err := NewLinear("fc3", 512, numClasses, true)
		if err != nil {
			return nil, err
		}
		return NewSequential(fc1, NewReLU(), fc2, NewReLU(), fc3), nil

	default:
		return nil, fmt.Errorf("invalid model=%s", arch)
	}
}
