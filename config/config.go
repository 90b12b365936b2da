// Package config loads and validates the YAML training configuration.
// Enumerated fields (optimizer type, LR-schedule type) are closed sets
// validated at parse time, so an unsupported value fails before any
// training state is constructed.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Supported enumeration values
const (
	OptimizerSGD = "sgd"

	ScheduleCosine = "cosine"
	ScheduleResNet = "resnet"
)

// Error reports an invalid or missing configuration value
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Config is the full training configuration. It is loaded once before
// training starts and immutable thereafter.
type Config struct {
	Dataset    string           `yaml:"dataset"`
	Batch      int              `yaml:"batch"`
	Epoch      int              `yaml:"epoch"`
	Model      string           `yaml:"model"`
	LR         float64          `yaml:"lr"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	LRSchedule LRScheduleConfig `yaml:"lr_schedule"`
}

// OptimizerConfig holds optimizer hyperparameters. Momentum and Clip are
// pointers so that an absent key takes the conventional default while an
// explicit zero keeps its meaning (a clip threshold <= 0 disables clipping).
type OptimizerConfig struct {
	Type           string   `yaml:"type"`
	Momentum       *float64 `yaml:"momentum"`
	Decay          *float64 `yaml:"decay"`
	Nesterov       bool     `yaml:"nesterov"`
	Clip           *float64 `yaml:"clip"`
	LabelSmoothing float64  `yaml:"label_smoothing"`
	LARS           bool     `yaml:"lars"`
}

// MomentumValue returns the configured momentum, defaulting to 0.9
func (o OptimizerConfig) MomentumValue() float64 {
	if o.Momentum != nil {
		return *o.Momentum
	}
	return 0.9
}

// DecayValue returns the configured weight decay
func (o OptimizerConfig) DecayValue() float64 {
	if o.Decay != nil {
		return *o.Decay
	}
	return 0
}

// ClipValue returns the gradient-clip threshold, defaulting to 5.
// Values <= 0 disable clipping.
func (o OptimizerConfig) ClipValue() float64 {
	if o.Clip != nil {
		return *o.Clip
	}
	return 5
}

// LRScheduleConfig selects the learning-rate schedule and optional warmup
type LRScheduleConfig struct {
	Type   string        `yaml:"type"`
	Warmup *WarmupConfig `yaml:"warmup"`
}

// TypeValue returns the schedule type, defaulting to cosine
func (s LRScheduleConfig) TypeValue() string {
	if s.Type == "" {
		return ScheduleCosine
	}
	return s.Type
}

// WarmupConfig ramps the learning rate over the first Epoch epochs up to
// Multiplier times the base rate before handing over to the main schedule
type WarmupConfig struct {
	Multiplier float64 `yaml:"multiplier"`
	Epoch      int     `yaml:"epoch"`
}

// Load reads and validates a YAML configuration file
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate fails fast on missing required keys and unsupported enumerated values
func (c *Config) Validate() error {
	if c.Dataset == "" {
		return &Error{Key: "dataset", Reason: "required"}
	}
	if c.Batch <= 0 {
		return &Error{Key: "batch", Reason: "must be positive"}
	}
	if c.Epoch <= 0 {
		return &Error{Key: "epoch", Reason: "must be positive"}
	}
	if c.Model == "" {
		return &Error{Key: "model", Reason: "required"}
	}
	if c.LR <= 0 {
		return &Error{Key: "lr", Reason: "must be positive"}
	}

	if c.Optimizer.Type != OptimizerSGD {
		return &Error{Key: "optimizer.type", Reason: fmt.Sprintf("invalid optimizer type=%s", c.Optimizer.Type)}
	}
	if c.Optimizer.Decay == nil {
		return &Error{Key: "optimizer.decay", Reason: "required"}
	}
	if c.Optimizer.LabelSmoothing < 0 {
		return &Error{Key: "optimizer.label_smoothing", Reason: "must not be negative"}
	}

	switch c.LRSchedule.TypeValue() {
	case ScheduleCosine, ScheduleResNet:
	default:
		return &Error{Key: "lr_schedule.type", Reason: fmt.Sprintf("invalid lr_schedule=%s", c.LRSchedule.Type)}
	}

	if w := c.LRSchedule.Warmup; w != nil {
		if w.Multiplier < 1 {
			return &Error{Key: "lr_schedule.warmup.multiplier", Reason: "must be >= 1"}
		}
		if w.Epoch <= 0 {
			return &Error{Key: "lr_schedule.warmup.epoch", Reason: "must be positive"}
		}
	}

	return nil
}
