package nn

import (
	"fmt"
	"strings"

	"github.com/kserra/trainkit/tensor"
)

// WrapPrefix is the parameter-name prefix added by multi-device model wrappers.
// Checkpoints written from a wrapped model carry it; checkpoints written from a
// plain model do not. State-dict lookups normalize both sides so either shape
// restores the same parameters.
const WrapPrefix = "module."

// StateDict exports the module's parameters as a name-to-tensor mapping.
// The tensors are deep copies.
func StateDict(m Module) (map[string]*tensor.Tensor, error) {
	state := make(map[string]*tensor.Tensor)
	for _, p := range m.Parameters() {
		clone, err := p.Data.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to copy parameter %s: %v", p.Name, err)
		}
		state[p.Name] = clone
	}
	return state, nil
}

// LoadStateDict restores the module's parameters from a name-to-tensor mapping.
// Keys are matched after ensuring the multi-device wrapping prefix is present
// on both sides, so wrapped and unwrapped state dicts load interchangeably.
// A missing parameter or a shape mismatch is an error.
func LoadStateDict(m Module, state map[string]*tensor.Tensor) error {
	lookup := make(map[string]*tensor.Tensor, len(state))
	for name, t := range state {
		lookup[ensureWrapPrefix(name)] = t
	}

	for _, p := range m.Parameters() {
		src, ok := lookup[ensureWrapPrefix(p.Name)]
		if !ok {
			return fmt.Errorf("state dict has no entry for parameter %s", p.Name)
		}
		if !src.ShapeEquals(p.Data.Shape) {
			return fmt.Errorf("shape mismatch for parameter %s: expected %v, got %v", p.Name, p.Data.Shape, src.Shape)
		}
		if err := p.Data.SetData(src.Data); err != nil {
			return fmt.Errorf("failed to restore parameter %s: %v", p.Name, err)
		}
	}

	return nil
}

func ensureWrapPrefix(name string) string {
	if strings.Contains(name, WrapPrefix) {
		return name
	}
	return WrapPrefix + name
}
