package training

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kserra/trainkit/checkpoints"
	"github.com/kserra/trainkit/config"
	"github.com/kserra/trainkit/data"
	"github.com/kserra/trainkit/logging"
	"github.com/kserra/trainkit/nn"
	"github.com/kserra/trainkit/summary"
	"github.com/kserra/trainkit/tensor"
)

// DefaultMetric is the validation metric tracked for best-checkpoint selection
const DefaultMetric = "top1"

// Test-set passes run only inside this many epochs of the end of the run
const testWindow = 5

// Trust coefficient for layer-wise rate scaling
const larsTrust = 0.001

// Reporter receives the per-epoch metrics after each epoch completes.
// The test metrics are nil for epochs where no test pass ran.
type Reporter func(epoch int, train, valid, test *Metrics)

// Options controls a training run beyond what the configuration file carries
type Options struct {
	DataRoot string
	SavePath string // checkpoint file; empty disables checkpointing and resume
	Tag      string // run tag for summary output; empty disables summaries
	OnlyEval bool
	Metric   string // validation metric to track, DefaultMetric when empty
	Logger   *logging.Logger
	Reporter Reporter
	Verbose  bool
}

// Result summarizes a completed run
type Result struct {
	RunID      string
	BestMetric string
	BestValue  float64
	BestEpoch  int
	Valid      *Metrics
}

// Trainer owns the full training state: data loaders, model, loss, optimizer,
// schedule, and summary writers. Build it with New, then call Run once.
type Trainer struct {
	cfg       *config.Config
	opts      Options
	runID     string
	metric    string
	loaders   *data.Loaders
	model     nn.Module
	criterion Loss
	optimizer Optimizer
	scheduler LRScheduler
	logger    *logging.Logger

	trainWriter summary.Writer
	validWriter summary.Writer
	testWriter  summary.Writer
}

// New builds a trainer from the validated configuration
func New(cfg *config.Config, opts Options) (*Trainer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New("trainer")
	}

	loaders, err := data.NewLoaders(cfg, opts.DataRoot)
	if err != nil {
		return nil, err
	}

	model, err := nn.NewModel(cfg.Model, loaders.InputDim, loaders.NumClasses)
	if err != nil {
		return nil, err
	}

	var criterion Loss = NewCrossEntropyLoss()
	if smoothing := cfg.Optimizer.LabelSmoothing; smoothing > 0 {
		criterion, err = NewSmoothCrossEntropyLoss(smoothing)
		if err != nil {
			return nil, err
		}
	}

	optimizer, err := newOptimizer(cfg, model.Parameters())
	if err != nil {
		return nil, err
	}

	scheduler, err := NewScheduler(cfg.LRSchedule, cfg.Epoch)
	if err != nil {
		return nil, err
	}

	t := &Trainer{
		cfg:       cfg,
		opts:      opts,
		runID:     uuid.NewString(),
		metric:    opts.Metric,
		loaders:   loaders,
		model:     model,
		criterion: criterion,
		optimizer: optimizer,
		scheduler: scheduler,
		logger:    logger,
	}
	if t.metric == "" {
		t.metric = DefaultMetric
	}

	if opts.Tag == "" {
		logger.Printf("run %s has no tag, summaries disabled", t.runID)
		t.trainWriter = summary.NopWriter{}
		t.validWriter = summary.NopWriter{}
		t.testWriter = summary.NopWriter{}
	} else {
		splits := []struct {
			name string
			dst  *summary.Writer
		}{
			{"train", &t.trainWriter},
			{"valid", &t.validWriter},
			{"test", &t.testWriter},
		}
		for _, s := range splits {
			w, err := summary.NewFileWriter(filepath.Join("runs", opts.Tag, s.name))
			if err != nil {
				t.Close()
				return nil, fmt.Errorf("failed to open %s summary: %v", s.name, err)
			}
			*s.dst = w
		}
	}

	return t, nil
}

func newOptimizer(cfg *config.Config, params []*nn.Parameter) (Optimizer, error) {
	if cfg.Optimizer.Type != config.OptimizerSGD {
		return nil, &config.Error{Key: "optimizer.type", Reason: fmt.Sprintf("invalid optimizer type=%s", cfg.Optimizer.Type)}
	}

	sgdCfg := SGDConfig{
		LR:       cfg.LR,
		Momentum: cfg.Optimizer.MomentumValue(),
		Decay:    cfg.Optimizer.DecayValue(),
		Nesterov: cfg.Optimizer.Nesterov,
	}

	if cfg.Optimizer.LARS {
		return NewLARS(params, sgdCfg, larsTrust)
	}
	return NewSGD(params, sgdCfg)
}

// Close releases the summary writers
func (t *Trainer) Close() error {
	var firstErr error
	for _, w := range []summary.Writer{t.trainWriter, t.validWriter, t.testWriter} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run executes the training loop: resume from the checkpoint when one exists,
// then for each remaining epoch run a training pass, a validation pass, and
// near the end of the run a test pass. Whenever the tracked validation metric
// strictly improves, the full state is checkpointed.
func (t *Trainer) Run() (*Result, error) {
	epochStart := 1
	best := 0.0
	bestEpoch := 0
	haveBest := false

	if t.opts.SavePath != "" {
		resumed, err := t.resume()
		if err != nil {
			return nil, err
		}
		if resumed != nil {
			epochStart = resumed.Epoch + 1
			if v, ok := resumed.Scalars[t.metric]; ok {
				best = v
				bestEpoch = resumed.Epoch
				haveBest = true
			}
			t.logger.Printf("run %s resumed from epoch %d (%s %.4f)", t.runID, resumed.Epoch, t.metric, best)
		}
	}

	if t.opts.OnlyEval {
		return t.evalOnly()
	}

	result := &Result{
		RunID:      t.runID,
		BestMetric: t.metric,
		BestValue:  best,
		BestEpoch:  bestEpoch,
	}

	for epoch := epochStart; epoch <= t.cfg.Epoch; epoch++ {
		train, err := RunEpoch(t.model, t.loaders.Train, t.criterion, EpochOptions{
			Optimizer: t.optimizer,
			BaseLR:    t.cfg.LR,
			Clip:      t.cfg.Optimizer.ClipValue(),
			Desc:      "train",
			Epoch:     epoch,
			MaxEpoch:  t.cfg.Epoch,
			Writer:    t.trainWriter,
			Logger:    t.logger,
			Verbose:   t.opts.Verbose,
		})
		if err != nil {
			return nil, err
		}

		valid, err := t.evalPass("valid", t.loaders.Valid, t.validWriter, epoch)
		if err != nil {
			return nil, err
		}

		var test *Metrics
		if t.cfg.Epoch-epoch <= testWindow {
			test, err = t.evalPass("test", t.loaders.Test, t.testWriter, epoch)
			if err != nil {
				return nil, err
			}
		}

		t.logger.Printf("epoch %03d/%03d train %s | valid %s", epoch, t.cfg.Epoch, train, valid)
		if test != nil {
			t.logger.Printf("epoch %03d/%03d test %s", epoch, t.cfg.Epoch, test)
		}

		// The first observation of the tracked metric is always a new best,
		// even at a value of zero
		if value, ok := valid.Get(t.metric); ok && (!haveBest || value > result.BestValue) {
			haveBest = true
			result.BestValue = value
			result.BestEpoch = epoch
			if t.opts.SavePath != "" {
				if err := t.saveCheckpoint(epoch, value); err != nil {
					return nil, err
				}
				t.logger.Printf("epoch %03d new best %s %.4f, checkpoint saved", epoch, t.metric, value)
			}
		}

		if t.opts.Reporter != nil {
			t.opts.Reporter(epoch, train, valid, test)
		}

		result.Valid = valid

		// Advance the schedule at epoch granularity
		t.optimizer.SetLR(t.scheduler.GetLR(float64(epoch), t.cfg.LR))
	}

	return result, nil
}

// evalOnly runs a single validation and test pass without touching any state
func (t *Trainer) evalOnly() (*Result, error) {
	valid, err := t.evalPass("valid", t.loaders.Valid, summary.NopWriter{}, 0)
	if err != nil {
		return nil, err
	}
	test, err := t.evalPass("test", t.loaders.Test, summary.NopWriter{}, 0)
	if err != nil {
		return nil, err
	}

	t.logger.Printf("eval valid %s | test %s", valid, test)

	result := &Result{RunID: t.runID, BestMetric: t.metric, Valid: valid}
	if v, ok := valid.Get(t.metric); ok {
		result.BestValue = v
	}
	return result, nil
}

func (t *Trainer) evalPass(desc string, loader *data.DataLoader, writer summary.Writer, epoch int) (*Metrics, error) {
	return RunEpoch(t.model, loader, t.criterion, EpochOptions{
		Desc:     desc,
		Epoch:    epoch,
		MaxEpoch: t.cfg.Epoch,
		Writer:   writer,
		Logger:   t.logger,
		Verbose:  t.opts.Verbose,
	})
}

// resume loads the checkpoint at SavePath if one exists. Bare model-state
// checkpoints restore parameters only; full checkpoints also restore the
// optimizer and the completed epoch.
func (t *Trainer) resume() (*checkpoints.Checkpoint, error) {
	if _, err := os.Stat(t.opts.SavePath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat checkpoint: %w", err)
	}

	ckpt, err := checkpoints.Load(t.opts.SavePath)
	if err != nil {
		return nil, err
	}

	state, err := stateToTensors(ckpt.Model)
	if err != nil {
		return nil, err
	}
	if err := nn.LoadStateDict(t.model, state); err != nil {
		return nil, err
	}

	if ckpt.Kind != checkpoints.KindFull {
		t.logger.Printf("run %s loaded bare model state from %s", t.runID, t.opts.SavePath)
		return nil, nil
	}

	if ckpt.Optimizer != nil {
		if err := t.optimizer.LoadState(ckpt.Optimizer); err != nil {
			return nil, err
		}
	}

	return ckpt, nil
}

func (t *Trainer) saveCheckpoint(epoch int, value float64) error {
	state, err := nn.StateDict(t.model)
	if err != nil {
		return err
	}
	model, err := tensorsToState(state)
	if err != nil {
		return err
	}

	return checkpoints.Save(t.opts.SavePath, &checkpoints.Checkpoint{
		Kind:      checkpoints.KindFull,
		Epoch:     epoch,
		Scalars:   map[string]float64{t.metric: value},
		Model:     model,
		Optimizer: t.optimizer.State(),
		Scheduler: &checkpoints.SchedulerState{LastEpoch: epoch},
	})
}

func stateToTensors(state checkpoints.ModelState) (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, len(state))
	for name, st := range state {
		data := make([]float32, len(st.Data))
		copy(data, st.Data)
		tn, err := tensor.NewTensor(st.Shape, tensor.Float32, data)
		if err != nil {
			return nil, fmt.Errorf("checkpoint tensor %s: %v", name, err)
		}
		out[name] = tn
	}
	return out, nil
}

func tensorsToState(tensors map[string]*tensor.Tensor) (checkpoints.ModelState, error) {
	state := make(checkpoints.ModelState, len(tensors))
	for name, tn := range tensors {
		data, err := tn.Float32s()
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %v", name, err)
		}
		cp := make([]float32, len(data))
		copy(cp, data)
		shape := make([]int, len(tn.Shape))
		copy(shape, tn.Shape)
		state[name] = checkpoints.StateTensor{Shape: shape, Data: cp}
	}
	return state, nil
}
