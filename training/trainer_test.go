package training

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kserra/trainkit/checkpoints"
	"github.com/kserra/trainkit/config"
	"github.com/kserra/trainkit/data"
	"github.com/kserra/trainkit/nn"
	"github.com/kserra/trainkit/tensor"
)

// chdir changes into dir for the duration of the test; it mirrors
// testing.T.Chdir, which requires Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Errorf("restoring working directory: %v", err)
		}
	})
}

func testTrainerConfig(epochs int) *config.Config {
	decay := 0.0001
	return &config.Config{
		Dataset: "synthetic",
		Batch:   16,
		Epoch:   epochs,
		Model:   "linear",
		LR:      0.05,
		Optimizer: config.OptimizerConfig{
			Type:  config.OptimizerSGD,
			Decay: &decay,
		},
		LRSchedule: config.LRScheduleConfig{Type: config.ScheduleCosine},
	}
}

type reportedEpoch struct {
	epoch   int
	train   *Metrics
	valid   *Metrics
	test    *Metrics
	hasTest bool
}

func captureReporter(reports *[]reportedEpoch) Reporter {
	return func(epoch int, train, valid, test *Metrics) {
		*reports = append(*reports, reportedEpoch{epoch, train, valid, test, test != nil})
	}
}

func TestTrainerReportsEveryEpoch(t *testing.T) {
	var reports []reportedEpoch

	trainer, err := New(testTrainerConfig(3), Options{Reporter: captureReporter(&reports)})
	require.NoError(t, err)
	defer trainer.Close()

	result, err := trainer.Run()
	require.NoError(t, err)

	require.Len(t, reports, 3)
	for i, r := range reports {
		assert.Equal(t, i+1, r.epoch)
		assert.NotNil(t, r.train)
		assert.NotNil(t, r.valid)
	}

	assert.Equal(t, "top1", result.BestMetric)
	assert.NotNil(t, result.Valid)
}

func TestTrainerTestWindow(t *testing.T) {
	var reports []reportedEpoch

	trainer, err := New(testTrainerConfig(8), Options{Reporter: captureReporter(&reports)})
	require.NoError(t, err)
	defer trainer.Close()

	_, err = trainer.Run()
	require.NoError(t, err)

	require.Len(t, reports, 8)
	for _, r := range reports {
		if 8-r.epoch <= 5 {
			assert.True(t, r.hasTest, "epoch %d should have test metrics", r.epoch)
		} else {
			assert.False(t, r.hasTest, "epoch %d should not have test metrics", r.epoch)
		}
	}
}

func TestTrainerCheckpointAndResume(t *testing.T) {
	savePath := filepath.Join(t.TempDir(), "best.ckpt")

	trainer, err := New(testTrainerConfig(2), Options{SavePath: savePath})
	require.NoError(t, err)
	result, err := trainer.Run()
	require.NoError(t, err)
	trainer.Close()

	require.Greater(t, result.BestValue, 0.0)
	require.FileExists(t, savePath)

	ckpt, err := checkpoints.Load(savePath)
	require.NoError(t, err)
	assert.Equal(t, checkpoints.KindFull, ckpt.Kind)
	assert.Equal(t, result.BestEpoch, ckpt.Epoch)
	assert.InDelta(t, result.BestValue, ckpt.Scalars["top1"], 1e-9)
	assert.NotNil(t, ckpt.Optimizer)

	// A second run over more epochs picks up after the checkpointed epoch
	var reports []reportedEpoch
	resumed, err := New(testTrainerConfig(4), Options{
		SavePath: savePath,
		Reporter: captureReporter(&reports),
	})
	require.NoError(t, err)
	defer resumed.Close()

	result2, err := resumed.Run()
	require.NoError(t, err)

	require.NotEmpty(t, reports)
	assert.Equal(t, ckpt.Epoch+1, reports[0].epoch)
	assert.GreaterOrEqual(t, result2.BestValue, result.BestValue)
}

func TestTrainerResumeFromBareState(t *testing.T) {
	savePath := filepath.Join(t.TempDir(), "weights.ckpt")

	trainer, err := New(testTrainerConfig(1), Options{})
	require.NoError(t, err)
	defer trainer.Close()
	_, err = trainer.Run()
	require.NoError(t, err)

	state, err := tensorsToStateFromModel(trainer)
	require.NoError(t, err)
	require.NoError(t, checkpoints.Save(savePath, &checkpoints.Checkpoint{
		Kind:  checkpoints.KindBare,
		Model: state,
	}))

	// Bare weights restore parameters but not the epoch counter
	var reports []reportedEpoch
	resumed, err := New(testTrainerConfig(2), Options{
		SavePath: savePath,
		Reporter: captureReporter(&reports),
	})
	require.NoError(t, err)
	defer resumed.Close()

	_, err = resumed.Run()
	require.NoError(t, err)

	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].epoch)
}

func tensorsToStateFromModel(trainer *Trainer) (checkpoints.ModelState, error) {
	state := make(checkpoints.ModelState)
	for _, p := range trainer.model.Parameters() {
		data, err := p.Data.Float32s()
		if err != nil {
			return nil, err
		}
		cp := make([]float32, len(data))
		copy(cp, data)
		state[p.Name] = checkpoints.StateTensor{Shape: p.Data.Shape, Data: cp}
	}
	return state, nil
}

func TestTrainerEvalOnly(t *testing.T) {
	savePath := filepath.Join(t.TempDir(), "never-written.ckpt")

	reporterCalled := false
	trainer, err := New(testTrainerConfig(3), Options{
		SavePath: savePath,
		OnlyEval: true,
		Reporter: func(epoch int, train, valid, test *Metrics) { reporterCalled = true },
	})
	require.NoError(t, err)
	defer trainer.Close()

	result, err := trainer.Run()
	require.NoError(t, err)

	assert.False(t, reporterCalled, "eval-only must not report training epochs")
	assert.NotNil(t, result.Valid)
	assert.Equal(t, 0, result.BestEpoch)

	_, err = os.Stat(savePath)
	assert.True(t, os.IsNotExist(err), "eval-only must not write checkpoints")
}

func TestTrainerWritesSummaries(t *testing.T) {
	chdir(t, t.TempDir())

	trainer, err := New(testTrainerConfig(1), Options{Tag: "exp1"})
	require.NoError(t, err)

	_, err = trainer.Run()
	require.NoError(t, err)
	require.NoError(t, trainer.Close())

	assert.FileExists(t, filepath.Join("runs", "exp1", "train", "scalars.csv"))
	assert.FileExists(t, filepath.Join("runs", "exp1", "valid", "scalars.csv"))
}

func TestTrainerRejectsUnknownOptimizer(t *testing.T) {
	cfg := testTrainerConfig(1)
	cfg.Optimizer.Type = "adam"

	_, err := New(cfg, Options{})
	require.Error(t, err)

	var cfgErr *config.Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "optimizer.type", cfgErr.Key)
}

func TestTrainerLabelSmoothingAndLARS(t *testing.T) {
	cfg := testTrainerConfig(1)
	cfg.Optimizer.LabelSmoothing = 0.1
	cfg.Optimizer.LARS = true

	trainer, err := New(cfg, Options{})
	require.NoError(t, err)
	defer trainer.Close()

	_, ok := trainer.criterion.(*SmoothCrossEntropyLoss)
	assert.True(t, ok)
	_, ok = trainer.optimizer.(*LARS)
	assert.True(t, ok)

	_, err = trainer.Run()
	require.NoError(t, err)
}

// loadCraftedClassifier gives the trainer's linear model weights that map
// feature j straight onto class j with a wide margin, so its predictions on
// the synthetic clusters are exact and survive a few low-LR epochs.
func loadCraftedClassifier(t *testing.T, trainer *Trainer) {
	t.Helper()

	w := make([]float32, 16*10)
	for i := 0; i < 10; i++ {
		w[i*10+i] = 10
	}
	weight, err := tensor.NewTensor([]int{16, 10}, tensor.Float32, w)
	require.NoError(t, err)
	bias, err := tensor.Zeros([]int{10}, tensor.Float32)
	require.NoError(t, err)

	require.NoError(t, nn.LoadStateDict(trainer.model, map[string]*tensor.Tensor{
		"fc.weight": weight,
		"fc.bias":   bias,
	}))
}

// craftedValidLoader builds a validation loader over noiseless one-hot-style
// samples; shifted selects which samples get a label one class off, making
// the crafted classifier's top1 on the split an exact fraction.
func craftedValidLoader(t *testing.T, shifted func(i int) bool) *data.DataLoader {
	t.Helper()

	const size = 64
	samples := make([][]float32, size)
	labels := make([]int32, size)
	for i := 0; i < size; i++ {
		class := i % 10
		s := make([]float32, 16)
		s[class] = 2
		samples[i] = s

		label := class
		if shifted(i) {
			label = (class + 1) % 10
		}
		labels[i] = int32(label)
	}

	set, err := data.NewInMemoryDataset(samples, labels)
	require.NoError(t, err)
	loader, err := data.NewDataLoader(set, 16, false)
	require.NoError(t, err)
	return loader
}

func TestTrainerFirstObservationAlwaysCheckpoints(t *testing.T) {
	savePath := filepath.Join(t.TempDir(), "best.ckpt")

	trainer, err := New(testTrainerConfig(1), Options{SavePath: savePath})
	require.NoError(t, err)
	defer trainer.Close()

	loadCraftedClassifier(t, trainer)
	// Every validation label is one class off, so valid top1 is exactly 0
	trainer.loaders.Valid = craftedValidLoader(t, func(int) bool { return true })

	result, err := trainer.Run()
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.BestValue)
	assert.Equal(t, 1, result.BestEpoch)
	require.FileExists(t, savePath)

	ckpt, err := checkpoints.Load(savePath)
	require.NoError(t, err)
	assert.Equal(t, 1, ckpt.Epoch)
	assert.Equal(t, 0.0, ckpt.Scalars["top1"])
}

func TestTrainerNonImprovingEpochKeepsBestCheckpoint(t *testing.T) {
	savePath := filepath.Join(t.TempDir(), "best.ckpt")

	half := func(i int) bool { return i%2 == 1 }
	none := func(int) bool { return false }

	// Swap the validation split between epochs to drive the tracked metric
	// up and back down: 0.5, 1.0, 0.5
	var trainer *Trainer
	var values []float64
	reporter := func(epoch int, train, valid, test *Metrics) {
		v, ok := valid.Get("top1")
		require.True(t, ok)
		values = append(values, v)
		switch epoch {
		case 1:
			trainer.loaders.Valid = craftedValidLoader(t, none)
		case 2:
			trainer.loaders.Valid = craftedValidLoader(t, half)
		}
	}

	trainer, err := New(testTrainerConfig(3), Options{SavePath: savePath, Reporter: reporter})
	require.NoError(t, err)
	defer trainer.Close()

	loadCraftedClassifier(t, trainer)
	trainer.loaders.Valid = craftedValidLoader(t, half)

	result, err := trainer.Run()
	require.NoError(t, err)

	require.Equal(t, []float64{0.5, 1.0, 0.5}, values)
	assert.Equal(t, 2, result.BestEpoch)
	assert.Equal(t, 1.0, result.BestValue)

	// The declining third epoch must not have rewritten the checkpoint
	ckpt, err := checkpoints.Load(savePath)
	require.NoError(t, err)
	assert.Equal(t, 2, ckpt.Epoch)
	assert.InDelta(t, 1.0, ckpt.Scalars["top1"], 1e-9)
}

func TestTrainerSummaryOpenFailureClosesOpenedWriters(t *testing.T) {
	chdir(t, t.TempDir())

	// Block the valid split's directory with a regular file so the second
	// writer fails to open after the first succeeded
	require.NoError(t, os.MkdirAll(filepath.Join("runs", "blocked"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join("runs", "blocked", "valid"), []byte("x"), 0644))

	_, err := New(testTrainerConfig(1), Options{Tag: "blocked"})
	require.Error(t, err)

	// The train writer was opened before the failure
	assert.FileExists(t, filepath.Join("runs", "blocked", "train", "scalars.csv"))
}
