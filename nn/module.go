package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/kserra/trainkit/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Parameter is a named trainable tensor with its gradient accumulator
type Parameter struct {
	Name string
	Data *tensor.Tensor
	Grad *tensor.Tensor
}

// ZeroGrad resets the accumulated gradient to zero
func (p *Parameter) ZeroGrad() {
	grad := p.Grad.Data.([]float32)
	for i := range grad {
		grad[i] = 0
	}
}

// Module interface defines methods that all neural network layers must implement.
// Backward consumes the gradient of the loss with respect to the module output,
// accumulates parameter gradients, and returns the gradient with respect to the
// module input.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*Parameter
	Train()            // Sets module to training mode
	Eval()             // Sets module to evaluation mode
	IsTraining() bool  // Returns true if in training mode
}

// Linear implements a fully connected (dense) layer: y = xW + b
type Linear struct {
	name     string
	weight   *Parameter // [inputSize, outputSize]
	bias     *Parameter // [outputSize], nil when bias is disabled
	input    *tensor.Tensor
	training bool
}

// NewLinear creates a new Linear layer with Xavier/Glorot uniform initialization
func NewLinear(name string, inputSize, outputSize int, bias bool) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("invalid linear dimensions: %d x %d", inputSize, outputSize)
	}

	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, tensor.Float32, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weightGrad, err := tensor.Zeros([]int{inputSize, outputSize}, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight gradient: %v", err)
	}

	linear := &Linear{
		name:     name,
		weight:   &Parameter{Name: name + ".weight", Data: weight, Grad: weightGrad},
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outputSize}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasGrad, err := tensor.Zeros([]int{outputSize}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias gradient: %v", err)
		}
		linear.bias = &Parameter{Name: name + ".bias", Data: biasT, Grad: biasGrad}
	}

	return linear, nil
}

// Forward performs the forward pass: y = xW + b
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("linear layer expects 2D input [batch_size, input_size], got shape %v", input.Shape)
	}

	batchSize := input.Shape[0]
	inputSize := l.weight.Data.Shape[0]
	outputSize := l.weight.Data.Shape[1]

	if input.Shape[1] != inputSize {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", inputSize, input.Shape[1])
	}

	x := input.Data.([]float32)
	w := l.weight.Data.Data.([]float32)

	outData := make([]float32, batchSize*outputSize)
	for b := 0; b < batchSize; b++ {
		for i := 0; i < inputSize; i++ {
			xv := x[b*inputSize+i]
			if xv == 0 {
				continue
			}
			row := i * outputSize
			out := b * outputSize
			for o := 0; o < outputSize; o++ {
				outData[out+o] += xv * w[row+o]
			}
		}
	}

	if l.bias != nil {
		bias := l.bias.Data.Data.([]float32)
		for b := 0; b < batchSize; b++ {
			out := b * outputSize
			for o := 0; o < outputSize; o++ {
				outData[out+o] += bias[o]
			}
		}
	}

	l.input = input

	return tensor.NewTensor([]int{batchSize, outputSize}, tensor.Float32, outData)
}

// Backward accumulates weight/bias gradients and returns the input gradient
func (l *Linear) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, fmt.Errorf("linear layer %s: Backward called before Forward", l.name)
	}

	batchSize := l.input.Shape[0]
	inputSize := l.weight.Data.Shape[0]
	outputSize := l.weight.Data.Shape[1]

	if !gradOutput.ShapeEquals([]int{batchSize, outputSize}) {
		return nil, fmt.Errorf("gradient shape mismatch: expected [%d %d], got %v", batchSize, outputSize, gradOutput.Shape)
	}

	x := l.input.Data.([]float32)
	w := l.weight.Data.Data.([]float32)
	g := gradOutput.Data.([]float32)
	wGrad := l.weight.Grad.Data.([]float32)

	// dL/dW[i,o] += sum_b x[b,i] * g[b,o]
	for b := 0; b < batchSize; b++ {
		for i := 0; i < inputSize; i++ {
			xv := x[b*inputSize+i]
			if xv == 0 {
				continue
			}
			row := i * outputSize
			out := b * outputSize
			for o := 0; o < outputSize; o++ {
				wGrad[row+o] += xv * g[out+o]
			}
		}
	}

	// dL/db[o] += sum_b g[b,o]
	if l.bias != nil {
		bGrad := l.bias.Grad.Data.([]float32)
		for b := 0; b < batchSize; b++ {
			out := b * outputSize
			for o := 0; o < outputSize; o++ {
				bGrad[o] += g[out+o]
			}
		}
	}

	// dL/dx[b,i] = sum_o g[b,o] * W[i,o]
	gradIn := make([]float32, batchSize*inputSize)
	for b := 0; b < batchSize; b++ {
		out := b * outputSize
		in := b * inputSize
		for i := 0; i < inputSize; i++ {
			row := i * outputSize
			var sum float32
			for o := 0; o < outputSize; o++ {
				sum += g[out+o] * w[row+o]
			}
			gradIn[in+i] = sum
		}
	}

	return tensor.NewTensor([]int{batchSize, inputSize}, tensor.Float32, gradIn)
}

// Parameters returns the trainable parameters
func (l *Linear) Parameters() []*Parameter {
	if l.bias != nil {
		return []*Parameter{l.weight, l.bias}
	}
	return []*Parameter{l.weight}
}

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }

// ReLU implements the rectified linear activation
type ReLU struct {
	input    *tensor.Tensor
	training bool
}

// NewReLU creates a new ReLU activation
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

// Forward applies max(0, x) element-wise
func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	in := input.Data.([]float32)
	out := make([]float32, len(in))
	for i, v := range in {
		if v > 0 {
			out[i] = v
		}
	}

	r.input = input

	return tensor.NewTensor(input.Shape, tensor.Float32, out)
}

// Backward zeroes the gradient wherever the forward input was non-positive
func (r *ReLU) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if r.input == nil {
		return nil, fmt.Errorf("relu: Backward called before Forward")
	}
	if gradOutput.NumElems != r.input.NumElems {
		return nil, fmt.Errorf("gradient size mismatch: expected %d, got %d", r.input.NumElems, gradOutput.NumElems)
	}

	in := r.input.Data.([]float32)
	g := gradOutput.Data.([]float32)
	gradIn := make([]float32, len(g))
	for i, v := range in {
		if v > 0 {
			gradIn[i] = g[i]
		}
	}

	return tensor.NewTensor(gradOutput.Shape, tensor.Float32, gradIn)
}

// Parameters returns an empty slice; ReLU has no trainable parameters
func (r *ReLU) Parameters() []*Parameter { return nil }

func (r *ReLU) Train()           { r.training = true }
func (r *ReLU) Eval()            { r.training = false }
func (r *ReLU) IsTraining() bool { return r.training }

// Sequential chains modules, feeding each module's output to the next
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a new Sequential container
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Forward passes the input through every module in order
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	var err error
	for i, m := range s.modules {
		out, err = m.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %v", i, err)
		}
	}
	return out, nil
}

// Backward propagates the output gradient through every module in reverse order
func (s *Sequential) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	grad := gradOutput
	var err error
	for i := len(s.modules) - 1; i >= 0; i-- {
		grad, err = s.modules[i].Backward(grad)
		if err != nil {
			return nil, fmt.Errorf("module %d backward failed: %v", i, err)
		}
	}
	return grad, nil
}

// Parameters returns the concatenated parameters of all sub-modules
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Train sets all sub-modules to training mode
func (s *Sequential) Train() {
	s.training = true
	for _, m := range s.modules {
		m.Train()
	}
}

// Eval sets all sub-modules to evaluation mode
func (s *Sequential) Eval() {
	s.training = false
	for _, m := range s.modules {
		m.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }
