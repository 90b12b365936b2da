package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func testModelState() ModelState {
	return ModelState{
		"fc.weight": {Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}},
		"fc.bias":   {Shape: []int{3}, Data: []float32{0.1, -0.2, 0.3}},
	}
}

func TestFullCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt")

	saved := &Checkpoint{
		Kind:    KindFull,
		Epoch:   12,
		Scalars: map[string]float64{"top1": 0.87},
		Model:   testModelState(),
		Optimizer: &OptimizerState{
			Type: "sgd",
			LR:   0.025,
			Velocities: ModelState{
				"fc.weight": {Shape: []int{2, 3}, Data: []float32{0, 0, 0, 1, 1, 1}},
			},
		},
		Scheduler: &SchedulerState{LastEpoch: 12},
	}

	require.NoError(t, Save(path, saved))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, KindFull, loaded.Kind)
	assert.Equal(t, 12, loaded.Epoch)
	assert.Equal(t, 0.87, loaded.Scalars["top1"])
	assert.Equal(t, saved.Model, loaded.Model)
	require.NotNil(t, loaded.Optimizer)
	assert.Equal(t, "sgd", loaded.Optimizer.Type)
	assert.Equal(t, 0.025, loaded.Optimizer.LR)
	assert.Equal(t, saved.Optimizer.Velocities, loaded.Optimizer.Velocities)
	require.NotNil(t, loaded.Scheduler)
	assert.Equal(t, 12, loaded.Scheduler.LastEpoch)
}

func TestBareCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.ckpt")

	require.NoError(t, Save(path, &Checkpoint{Kind: KindBare, Model: testModelState()}))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, KindBare, loaded.Kind)
	assert.Equal(t, testModelState(), loaded.Model)
	assert.Nil(t, loaded.Optimizer)
	assert.Nil(t, loaded.Scheduler)
	assert.Equal(t, 0, loaded.Epoch)
}

func TestBareAndFullRestoreSameModel(t *testing.T) {
	dir := t.TempDir()
	barePath := filepath.Join(dir, "bare.ckpt")
	fullPath := filepath.Join(dir, "full.ckpt")

	state := testModelState()
	require.NoError(t, Save(barePath, &Checkpoint{Kind: KindBare, Model: state}))
	require.NoError(t, Save(fullPath, &Checkpoint{
		Kind:    KindFull,
		Epoch:   3,
		Scalars: map[string]float64{"top1": 0.5},
		Model:   state,
	}))

	bare, err := Load(barePath)
	require.NoError(t, err)
	full, err := Load(fullPath)
	require.NoError(t, err)

	assert.Equal(t, bare.Model, full.Model)
}

func TestLoadLegacyStateDictField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.ckpt")

	// Older checkpoints key the model state under "state_dict"
	st, err := structpb.NewStruct(map[string]interface{}{
		"epoch":      4,
		"state_dict": encodeModelState(testModelState()),
	})
	require.NoError(t, err)

	raw, err := proto.Marshal(st)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0644))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, KindFull, loaded.Kind)
	assert.Equal(t, 4, loaded.Epoch)
	assert.Equal(t, testModelState(), loaded.Model)
}

func TestLoadUnknownShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.ckpt")

	st, err := structpb.NewStruct(map[string]interface{}{
		"producer": "someone-else",
		"payload":  "not a model",
	})
	require.NoError(t, err)

	raw, err := proto.Marshal(st)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, err = Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("\xde\xad\xbe\xef not a checkpoint"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.ckpt"))
	assert.Error(t, err)
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt")

	require.NoError(t, Save(path, &Checkpoint{
		Kind:    KindFull,
		Epoch:   1,
		Scalars: map[string]float64{"top1": 0.4},
		Model:   testModelState(),
	}))
	require.NoError(t, Save(path, &Checkpoint{
		Kind:    KindFull,
		Epoch:   2,
		Scalars: map[string]float64{"top1": 0.55},
		Model:   testModelState(),
	}))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Epoch)
	assert.Equal(t, 0.55, loaded.Scalars["top1"])
}
