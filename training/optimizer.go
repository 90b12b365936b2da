package training

import (
	"fmt"
	"math"

	"github.com/kserra/trainkit/checkpoints"
	"github.com/kserra/trainkit/nn"
)

// Optimizer updates model parameters from their accumulated gradients.
// State and LoadState round-trip through checkpoints so interrupted runs
// resume with the same velocity buffers.
type Optimizer interface {
	Step() error
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
	State() *checkpoints.OptimizerState
	LoadState(state *checkpoints.OptimizerState) error
}

// SGDConfig holds the SGD hyperparameters
type SGDConfig struct {
	LR       float64
	Momentum float64
	Decay    float64
	Nesterov bool
}

// SGD implements stochastic gradient descent with momentum, weight decay,
// and optional Nesterov acceleration
type SGD struct {
	params     []*nn.Parameter
	lr         float64
	momentum   float64
	decay      float64
	nesterov   bool
	velocities map[string][]float32
}

// NewSGD creates an SGD optimizer over the given parameters
func NewSGD(params []*nn.Parameter, cfg SGDConfig) (*SGD, error) {
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("invalid learning rate %g: must be positive", cfg.LR)
	}
	if cfg.Momentum < 0 {
		return nil, fmt.Errorf("invalid momentum %g: must not be negative", cfg.Momentum)
	}
	if cfg.Nesterov && cfg.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}

	return &SGD{
		params:     params,
		lr:         cfg.LR,
		momentum:   cfg.Momentum,
		decay:      cfg.Decay,
		nesterov:   cfg.Nesterov,
		velocities: make(map[string][]float32),
	}, nil
}

// Step applies one update to every parameter
func (s *SGD) Step() error {
	for _, p := range s.params {
		data, err := p.Data.Float32s()
		if err != nil {
			return fmt.Errorf("parameter %s: %v", p.Name, err)
		}
		grad, err := p.Grad.Float32s()
		if err != nil {
			return fmt.Errorf("parameter %s gradient: %v", p.Name, err)
		}

		decay := float32(s.decay)
		momentum := float32(s.momentum)
		lr := float32(s.lr)

		if s.momentum == 0 {
			for i := range data {
				g := grad[i]
				if decay != 0 {
					g += decay * data[i]
				}
				data[i] -= lr * g
			}
			continue
		}

		v, ok := s.velocities[p.Name]
		if !ok {
			v = make([]float32, len(data))
			s.velocities[p.Name] = v
		} else if len(v) != len(data) {
			return fmt.Errorf("parameter %s: velocity buffer has %d elements, expected %d", p.Name, len(v), len(data))
		}

		for i := range data {
			g := grad[i]
			if decay != 0 {
				g += decay * data[i]
			}
			v[i] = momentum*v[i] + g
			if s.nesterov {
				g += momentum * v[i]
			} else {
				g = v[i]
			}
			data[i] -= lr * g
		}
	}

	return nil
}

// ZeroGrad resets every parameter gradient to zero
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// LR returns the current learning rate
func (s *SGD) LR() float64 { return s.lr }

// SetLR replaces the current learning rate
func (s *SGD) SetLR(lr float64) { s.lr = lr }

// State exports the optimizer state for checkpointing
func (s *SGD) State() *checkpoints.OptimizerState {
	velocities := make(map[string]checkpoints.StateTensor, len(s.velocities))
	for name, v := range s.velocities {
		data := make([]float32, len(v))
		copy(data, v)
		velocities[name] = checkpoints.StateTensor{Shape: []int{len(v)}, Data: data}
	}
	return &checkpoints.OptimizerState{
		Type:       "sgd",
		LR:         s.lr,
		Velocities: velocities,
	}
}

// LoadState restores the learning rate and velocity buffers from a checkpoint
func (s *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if state == nil {
		return fmt.Errorf("no optimizer state to load")
	}
	if state.Type != "" && state.Type != "sgd" {
		return fmt.Errorf("checkpoint optimizer is %s, not sgd", state.Type)
	}

	sizes := make(map[string]int, len(s.params))
	for _, p := range s.params {
		sizes[p.Name] = p.Data.NumElems
	}

	velocities := make(map[string][]float32, len(state.Velocities))
	for name, t := range state.Velocities {
		size, ok := sizes[name]
		if !ok {
			return fmt.Errorf("checkpoint has velocity for unknown parameter %s", name)
		}
		if len(t.Data) != size {
			return fmt.Errorf("velocity for %s has %d elements, expected %d", name, len(t.Data), size)
		}
		v := make([]float32, len(t.Data))
		copy(v, t.Data)
		velocities[name] = v
	}

	if state.LR > 0 {
		s.lr = state.LR
	}
	s.velocities = velocities
	return nil
}

// LARS wraps SGD with layer-wise adaptive rate scaling: each parameter's
// gradient is rescaled by trust * ||w|| / (||g|| + decay * ||w||) before
// the underlying SGD update.
type LARS struct {
	*SGD
	trust float64
}

// NewLARS creates a LARS optimizer delegating to SGD with the given config
func NewLARS(params []*nn.Parameter, cfg SGDConfig, trust float64) (*LARS, error) {
	if trust <= 0 {
		return nil, fmt.Errorf("invalid trust coefficient %g: must be positive", trust)
	}
	inner, err := NewSGD(params, cfg)
	if err != nil {
		return nil, err
	}
	return &LARS{SGD: inner, trust: trust}, nil
}

// Step rescales gradients by the per-parameter trust ratio, then delegates
func (l *LARS) Step() error {
	for _, p := range l.params {
		data, err := p.Data.Float32s()
		if err != nil {
			return fmt.Errorf("parameter %s: %v", p.Name, err)
		}
		grad, err := p.Grad.Float32s()
		if err != nil {
			return fmt.Errorf("parameter %s gradient: %v", p.Name, err)
		}

		weightNorm := l2Norm(data)
		gradNorm := l2Norm(grad)
		if weightNorm == 0 || gradNorm == 0 {
			continue
		}

		ratio := l.trust * weightNorm / (gradNorm + l.decay*weightNorm)
		scale := float32(ratio)
		for i := range grad {
			grad[i] *= scale
		}
	}

	return l.SGD.Step()
}

// ClipGradNorm rescales all gradients in place so their global L2 norm does
// not exceed maxNorm. Returns the norm before clipping.
func ClipGradNorm(params []*nn.Parameter, maxNorm float64) (float64, error) {
	if maxNorm <= 0 {
		return 0, fmt.Errorf("invalid max norm %g: must be positive", maxNorm)
	}

	var sumSq float64
	grads := make([][]float32, len(params))
	for i, p := range params {
		grad, err := p.Grad.Float32s()
		if err != nil {
			return 0, fmt.Errorf("parameter %s gradient: %v", p.Name, err)
		}
		grads[i] = grad
		for _, g := range grad {
			sumSq += float64(g) * float64(g)
		}
	}

	totalNorm := math.Sqrt(sumSq)
	if totalNorm <= maxNorm {
		return totalNorm, nil
	}

	scale := float32(maxNorm / (totalNorm + 1e-6))
	for _, grad := range grads {
		for i := range grad {
			grad[i] *= scale
		}
	}

	return totalNorm, nil
}

func l2Norm(values []float32) float64 {
	var sumSq float64
	for _, v := range values {
		sumSq += float64(v) * float64(v)
	}
	return math.Sqrt(sumSq)
}
