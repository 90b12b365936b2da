// Package checkpoints persists and restores training state. A checkpoint file
// is a proto-marshaled struct in one of two shapes: a full checkpoint carrying
// the completed epoch, the tracked best-metric value, and model/optimizer/
// scheduler state, or a bare model-state mapping with parameter tensors only.
// The loader resolves the shape up front; anything else is a format error.
package checkpoints

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrUnknownFormat reports a checkpoint file with neither recognized shape
var ErrUnknownFormat = errors.New("checkpoints: unrecognized checkpoint shape")

// Reserved top-level field names of the full checkpoint shape
const (
	fieldModel     = "model"
	fieldStateDict = "state_dict" // legacy alias for the model state
	fieldEpoch     = "epoch"
	fieldOptimizer = "optimizer"
	fieldScheduler = "scheduler"
)

// Kind distinguishes the two persisted checkpoint shapes
type Kind int

const (
	KindBare Kind = iota // parameter tensors only
	KindFull             // epoch, best metric, model/optimizer/scheduler state
)

func (k Kind) String() string {
	switch k {
	case KindBare:
		return "BareModelState"
	case KindFull:
		return "FullCheckpoint"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// StateTensor is a persisted parameter or optimizer-state tensor
type StateTensor struct {
	Shape []int
	Data  []float32
}

// ModelState maps parameter names to their tensors
type ModelState map[string]StateTensor

// OptimizerState captures optimizer-specific state (velocities, learning rate)
type OptimizerState struct {
	Type       string
	LR         float64
	Velocities map[string]StateTensor
}

// SchedulerState captures the scheduler position. Schedules are pure functions
// of the epoch, so the position is the whole state.
type SchedulerState struct {
	LastEpoch int
}

// Checkpoint is the in-memory form of either persisted shape. For KindBare
// only Model is populated. Scalars holds the tracked metric values stored at
// the top level of a full checkpoint, keyed by metric name.
type Checkpoint struct {
	Kind      Kind
	Epoch     int
	Scalars   map[string]float64
	Model     ModelState
	Optimizer *OptimizerState
	Scheduler *SchedulerState
}

// Save writes the checkpoint to path, overwriting any existing file
func Save(path string, ckpt *Checkpoint) error {
	var fields map[string]interface{}

	switch ckpt.Kind {
	case KindBare:
		fields = encodeModelState(ckpt.Model)
	case KindFull:
		fields = map[string]interface{}{
			fieldEpoch: ckpt.Epoch,
			fieldModel: encodeModelState(ckpt.Model),
		}
		for name, value := range ckpt.Scalars {
			fields[name] = value
		}
		if ckpt.Optimizer != nil {
			fields[fieldOptimizer] = map[string]interface{}{
				"type":       ckpt.Optimizer.Type,
				"lr":         ckpt.Optimizer.LR,
				"velocities": encodeModelState(ckpt.Optimizer.Velocities),
			}
		}
		if ckpt.Scheduler != nil {
			fields[fieldScheduler] = map[string]interface{}{
				"last_epoch": ckpt.Scheduler.LastEpoch,
			}
		}
	default:
		return fmt.Errorf("unsupported checkpoint kind: %s", ckpt.Kind)
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("failed to build checkpoint struct: %v", err)
	}

	raw, err := proto.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %v", err)
	}

	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	return nil
}

// Load reads a checkpoint from path, resolving which shape it carries
func Load(path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}

	fields := st.GetFields()
	if len(fields) == 0 {
		return nil, ErrUnknownFormat
	}

	modelField := fieldModel
	if _, ok := fields[fieldModel]; !ok {
		if _, ok := fields[fieldStateDict]; ok {
			modelField = fieldStateDict
		} else {
			return loadBare(&st)
		}
	}

	return loadFull(fields, modelField)
}

func loadBare(st *structpb.Struct) (*Checkpoint, error) {
	model, err := decodeModelState(st)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	return &Checkpoint{Kind: KindBare, Model: model}, nil
}

func loadFull(fields map[string]*structpb.Value, modelField string) (*Checkpoint, error) {
	modelStruct := fields[modelField].GetStructValue()
	if modelStruct == nil {
		return nil, fmt.Errorf("%w: %s field is not a mapping", ErrUnknownFormat, modelField)
	}
	model, err := decodeModelState(modelStruct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}

	ckpt := &Checkpoint{
		Kind:    KindFull,
		Model:   model,
		Scalars: make(map[string]float64),
	}

	for name, value := range fields {
		switch name {
		case modelField:
		case fieldEpoch:
			ckpt.Epoch = int(value.GetNumberValue())
		case fieldOptimizer:
			opt, err := decodeOptimizerState(value.GetStructValue())
			if err != nil {
				return nil, fmt.Errorf("%w: optimizer state: %v", ErrUnknownFormat, err)
			}
			ckpt.Optimizer = opt
		case fieldScheduler:
			sched := value.GetStructValue()
			if sched == nil {
				return nil, fmt.Errorf("%w: scheduler state is not a mapping", ErrUnknownFormat)
			}
			ckpt.Scheduler = &SchedulerState{
				LastEpoch: int(sched.GetFields()["last_epoch"].GetNumberValue()),
			}
		default:
			// Top-level numbers are tracked metric values keyed by metric name
			if _, ok := value.GetKind().(*structpb.Value_NumberValue); ok {
				ckpt.Scalars[name] = value.GetNumberValue()
			}
		}
	}

	return ckpt, nil
}

func decodeOptimizerState(st *structpb.Struct) (*OptimizerState, error) {
	if st == nil {
		return nil, fmt.Errorf("not a mapping")
	}
	fields := st.GetFields()

	state := &OptimizerState{
		Type: fields["type"].GetStringValue(),
		LR:   fields["lr"].GetNumberValue(),
	}

	if vel := fields["velocities"].GetStructValue(); vel != nil {
		velocities, err := decodeModelState(vel)
		if err != nil {
			return nil, err
		}
		state.Velocities = velocities
	}

	return state, nil
}

func encodeModelState(state ModelState) map[string]interface{} {
	out := make(map[string]interface{}, len(state))
	for name, t := range state {
		shape := make([]interface{}, len(t.Shape))
		for i, dim := range t.Shape {
			shape[i] = dim
		}
		out[name] = map[string]interface{}{
			"shape": shape,
			"data":  encodeFloats(t.Data),
		}
	}
	return out
}

func decodeModelState(st *structpb.Struct) (ModelState, error) {
	fields := st.GetFields()
	state := make(ModelState, len(fields))

	for name, value := range fields {
		entry := value.GetStructValue()
		if entry == nil {
			return nil, fmt.Errorf("entry %s is not a tensor mapping", name)
		}
		entryFields := entry.GetFields()

		shapeList := entryFields["shape"].GetListValue()
		if shapeList == nil {
			return nil, fmt.Errorf("entry %s has no shape", name)
		}
		shape := make([]int, len(shapeList.GetValues()))
		for i, dim := range shapeList.GetValues() {
			shape[i] = int(dim.GetNumberValue())
		}

		encoded, ok := entryFields["data"]
		if !ok {
			return nil, fmt.Errorf("entry %s has no data", name)
		}
		data, err := decodeFloats(encoded.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("entry %s: %v", name, err)
		}

		numElems := 1
		for _, dim := range shape {
			numElems *= dim
		}
		if numElems != len(data) {
			return nil, fmt.Errorf("entry %s: shape %v does not match %d elements", name, shape, len(data))
		}

		state[name] = StateTensor{Shape: shape, Data: data}
	}

	return state, nil
}

// encodeFloats packs float32 values as base64 little-endian bytes
func encodeFloats(values []float32) string {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeFloats(encoded string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid tensor data encoding: %v", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("tensor data length %d is not a multiple of 4", len(buf))
	}

	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return values, nil
}
