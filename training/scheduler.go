package training

import (
	"fmt"
	"math"

	"github.com/kserra/trainkit/config"
)

// LRScheduler computes the learning rate for a given position in training.
// Schedules are pure functions of the epoch position, which may be fractional
// when the caller advances the schedule within an epoch.
type LRScheduler interface {
	GetLR(epoch float64, baseLR float64) float64
	GetName() string
}

// CosineAnnealingLR anneals the learning rate along a cosine curve from the
// base rate down to EtaMin over TMax epochs
type CosineAnnealingLR struct {
	TMax   int
	EtaMin float64
}

// GetLR returns the annealed learning rate at the given epoch position
func (c *CosineAnnealingLR) GetLR(epoch float64, baseLR float64) float64 {
	if c.TMax <= 0 {
		return baseLR
	}
	progress := epoch / float64(c.TMax)
	if progress > 1 {
		progress = 1
	}
	if progress < 0 {
		progress = 0
	}
	return c.EtaMin + (baseLR-c.EtaMin)*(1+math.Cos(math.Pi*progress))/2
}

func (c *CosineAnnealingLR) GetName() string { return "CosineAnnealingLR" }

// MultiStepLR multiplies the base rate by Gamma at each milestone epoch
type MultiStepLR struct {
	Milestones []int
	Gamma      float64
}

// GetLR returns the stepped learning rate at the given epoch position
func (m *MultiStepLR) GetLR(epoch float64, baseLR float64) float64 {
	lr := baseLR
	for _, milestone := range m.Milestones {
		if epoch >= float64(milestone) {
			lr *= m.Gamma
		}
	}
	return lr
}

func (m *MultiStepLR) GetName() string { return "MultiStepLR" }

// GradualWarmupLR ramps the learning rate linearly from the base rate up to
// Multiplier times the base rate over TotalEpoch epochs, then hands over to
// the After schedule shifted by the warmup length.
type GradualWarmupLR struct {
	Multiplier float64
	TotalEpoch int
	After      LRScheduler
}

// GetLR returns the warmup rate during the ramp and the delegated rate after
func (g *GradualWarmupLR) GetLR(epoch float64, baseLR float64) float64 {
	total := float64(g.TotalEpoch)
	if epoch <= total {
		return baseLR * ((g.Multiplier-1)*epoch/total + 1)
	}
	if g.After == nil {
		return baseLR * g.Multiplier
	}
	return g.After.GetLR(epoch-total, baseLR*g.Multiplier)
}

func (g *GradualWarmupLR) GetName() string { return "GradualWarmupLR" }

// Milestones of the stepped schedule used for long classifier runs
var resnetMilestones = []int{30, 60, 80}

// NewScheduler builds the learning-rate schedule selected by the configuration.
// The cosine schedule anneals over the full run; the resnet schedule steps
// down by 10x at the fixed milestones. A configured warmup wraps either.
func NewScheduler(cfg config.LRScheduleConfig, maxEpoch int) (LRScheduler, error) {
	var base LRScheduler

	switch cfg.TypeValue() {
	case config.ScheduleCosine:
		base = &CosineAnnealingLR{TMax: maxEpoch}
	case config.ScheduleResNet:
		base = &MultiStepLR{Milestones: resnetMilestones, Gamma: 0.1}
	default:
		return nil, &config.Error{Key: "lr_schedule.type", Reason: fmt.Sprintf("invalid lr_schedule=%s", cfg.Type)}
	}

	if w := cfg.Warmup; w != nil {
		base = &GradualWarmupLR{
			Multiplier: w.Multiplier,
			TotalEpoch: w.Epoch,
			After:      base,
		}
	}

	return base, nil
}
