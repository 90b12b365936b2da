package training

import (
	"fmt"

	"github.com/kserra/trainkit/data"
	"github.com/kserra/trainkit/logging"
	"github.com/kserra/trainkit/nn"
	"github.com/kserra/trainkit/summary"
	"github.com/kserra/trainkit/tensor"
)

// EpochOptions controls a single pass over a data loader. A nil Optimizer
// runs the pass in evaluation mode: no gradients, no updates. A non-nil
// Scheduler advances the learning rate within the epoch, once per batch.
type EpochOptions struct {
	Optimizer Optimizer
	Scheduler LRScheduler
	BaseLR    float64
	Clip      float64 // gradient-norm threshold, <= 0 disables clipping
	Desc      string
	Epoch     int
	MaxEpoch  int
	Writer    summary.Writer
	Logger    *logging.Logger
	Verbose   bool
}

// RunEpoch makes one pass over the loader, returning the sample-weighted
// average of loss, top-1, and top-5 accuracy. In training mode each batch is
// one optimizer step; the learning rate the pass ended on is reported as the
// lr metric.
func RunEpoch(model nn.Module, loader *data.DataLoader, criterion Loss, opts EpochOptions) (*Metrics, error) {
	training := opts.Optimizer != nil
	if training {
		model.Train()
	} else {
		model.Eval()
	}

	loader.Reset()
	totalBatches := loader.Len()

	acc := NewAccumulator()
	count := 0
	step := 0

	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return nil, fmt.Errorf("%s epoch %d: %v", opts.Desc, opts.Epoch, err)
		}
		if batch == nil {
			break
		}
		step++

		if training {
			opts.Optimizer.ZeroGrad()
		}

		preds, err := model.Forward(batch.Data)
		if err != nil {
			return nil, fmt.Errorf("%s epoch %d forward: %v", opts.Desc, opts.Epoch, err)
		}

		loss, err := criterion.Forward(preds, batch.Labels)
		if err != nil {
			return nil, fmt.Errorf("%s epoch %d loss: %v", opts.Desc, opts.Epoch, err)
		}

		if training {
			grad, err := criterion.Backward(preds, batch.Labels)
			if err != nil {
				return nil, fmt.Errorf("%s epoch %d loss gradient: %v", opts.Desc, opts.Epoch, err)
			}
			if _, err := model.Backward(grad); err != nil {
				return nil, fmt.Errorf("%s epoch %d backward: %v", opts.Desc, opts.Epoch, err)
			}
			if opts.Clip > 0 {
				if _, err := ClipGradNorm(model.Parameters(), opts.Clip); err != nil {
					return nil, fmt.Errorf("%s epoch %d clip: %v", opts.Desc, opts.Epoch, err)
				}
			}
			if opts.Scheduler != nil {
				position := float64(opts.Epoch) - 1 + float64(step)/float64(totalBatches)
				opts.Optimizer.SetLR(opts.Scheduler.GetLR(position, opts.BaseLR))
			}
			if err := opts.Optimizer.Step(); err != nil {
				return nil, fmt.Errorf("%s epoch %d step: %v", opts.Desc, opts.Epoch, err)
			}
		}

		top1, top5, err := accuracy(preds, batch.Labels)
		if err != nil {
			return nil, fmt.Errorf("%s epoch %d accuracy: %v", opts.Desc, opts.Epoch, err)
		}

		batchSize := float64(batch.Size())
		acc.Add(
			Scalar{"loss", loss * batchSize},
			Scalar{"top1", top1 * batchSize},
			Scalar{"top5", top5 * batchSize},
		)
		count += batch.Size()

		if opts.Verbose && opts.Logger != nil && step%50 == 0 {
			partial, err := acc.Average(count)
			if err == nil {
				opts.Logger.Printf("%s %03d/%03d batch %d/%d %s", opts.Desc, opts.Epoch, opts.MaxEpoch, step, totalBatches, partial)
			}
		}
	}

	metrics, err := acc.Average(count)
	if err != nil {
		return nil, fmt.Errorf("%s epoch %d: %v", opts.Desc, opts.Epoch, err)
	}

	if training {
		metrics.Set("lr", opts.Optimizer.LR())
	}

	if opts.Writer != nil {
		for _, s := range metrics.Items() {
			if err := opts.Writer.AddScalar(s.Name, opts.Epoch, s.Value); err != nil {
				return nil, fmt.Errorf("%s epoch %d summary: %v", opts.Desc, opts.Epoch, err)
			}
		}
	}

	return metrics, nil
}

// accuracy computes the batch-mean top-1 and top-5 accuracy from logits.
// When there are fewer than 5 classes, top-5 degrades to top-k over all of
// them.
func accuracy(preds, labels *tensor.Tensor) (float64, float64, error) {
	if len(preds.Shape) != 2 {
		return 0, 0, fmt.Errorf("predictions must be 2D, got shape %v", preds.Shape)
	}

	logits, err := preds.Float32s()
	if err != nil {
		return 0, 0, err
	}
	targets, err := labels.Int32s()
	if err != nil {
		return 0, 0, err
	}

	batchSize := preds.Shape[0]
	numClasses := preds.Shape[1]
	if len(targets) != batchSize {
		return 0, 0, fmt.Errorf("label count %d does not match batch size %d", len(targets), batchSize)
	}

	k := 5
	if numClasses < k {
		k = numClasses
	}

	var correct1, correct5 int
	for b := 0; b < batchSize; b++ {
		row := logits[b*numClasses : (b+1)*numClasses]
		target := int(targets[b])
		targetLogit := row[target]

		// Rank of the target = number of classes with a strictly higher logit
		rank := 0
		for j, v := range row {
			if v > targetLogit || (v == targetLogit && j < target) {
				rank++
			}
		}

		if rank == 0 {
			correct1++
		}
		if rank < k {
			correct5++
		}
	}

	return float64(correct1) / float64(batchSize), float64(correct5) / float64(batchSize), nil
}
