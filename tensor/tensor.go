package tensor

import (
	"fmt"
)

// DType represents the data type of tensor elements
type DType int

const (
	Float32 DType = iota
	Int32
)

func (dt DType) String() string {
	switch dt {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return fmt.Sprintf("Unknown(%d)", int(dt))
	}
}

// Tensor represents an n-dimensional array stored as a flat slice
type Tensor struct {
	Shape    []int
	DType    DType
	Data     interface{} // []float32 or []int32
	NumElems int
}

// NewTensor creates a new tensor with the given shape, dtype, and data.
// The data slice length must match the product of the shape dimensions.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	numElems, err := numElements(shape)
	if err != nil {
		return nil, err
	}

	switch dtype {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("expected []float32 data for Float32 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length mismatch: shape %v requires %d elements, got %d", shape, numElems, len(d))
		}
	case Int32:
		d, ok := data.([]int32)
		if !ok {
			return nil, fmt.Errorf("expected []int32 data for Int32 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length mismatch: shape %v requires %d elements, got %d", shape, numElems, len(d))
		}
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		Shape:    shapeCopy,
		DType:    dtype,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor with the given shape and dtype
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	numElems, err := numElements(shape)
	if err != nil {
		return nil, err
	}

	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, make([]float32, numElems))
	case Int32:
		return NewTensor(shape, dtype, make([]int32, numElems))
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// Clone returns a deep copy of the tensor
func (t *Tensor) Clone() (*Tensor, error) {
	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		dst := make([]float32, len(src))
		copy(dst, src)
		return NewTensor(t.Shape, t.DType, dst)
	case Int32:
		src := t.Data.([]int32)
		dst := make([]int32, len(src))
		copy(dst, src)
		return NewTensor(t.Shape, t.DType, dst)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", t.DType)
	}
}

// SetData replaces the tensor's data in place. The replacement must have the
// same dtype and element count.
func (t *Tensor) SetData(data interface{}) error {
	switch t.DType {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("expected []float32 data, got %T", data)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length mismatch: expected %d, got %d", t.NumElems, len(d))
		}
		copy(t.Data.([]float32), d)
	case Int32:
		d, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("expected []int32 data, got %T", data)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length mismatch: expected %d, got %d", t.NumElems, len(d))
		}
		copy(t.Data.([]int32), d)
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

// Float32s returns the underlying float32 slice
func (t *Tensor) Float32s() ([]float32, error) {
	d, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor is %s, not Float32", t.DType)
	}
	return d, nil
}

// Int32s returns the underlying int32 slice
func (t *Tensor) Int32s() ([]int32, error) {
	d, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor is %s, not Int32", t.DType)
	}
	return d, nil
}

// ShapeEquals reports whether the tensor has exactly the given shape
func (t *Tensor) ShapeEquals(shape []int) bool {
	if len(t.Shape) != len(shape) {
		return false
	}
	for i, dim := range t.Shape {
		if dim != shape[i] {
			return false
		}
	}
	return true
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, dim := range shape {
		if dim <= 0 {
			return 0, fmt.Errorf("invalid shape %v: dimensions must be positive", shape)
		}
		n *= dim
	}
	return n, nil
}
