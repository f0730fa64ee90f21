package syringe

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/arloliu/go-cavro/logger"
)

// Default pump configuration values.
const (
	DefaultSyringeVolume = 1000 // µL
	DefaultPollInterval  = 300 * time.Millisecond
	DefaultReadyTimeout  = 10 * time.Second
)

// Parameter range limits.
const (
	MinSyringeVolume = 1
	MaxSyringeVolume = 50000
	MinPollInterval  = 10 * time.Millisecond
	MaxPollInterval  = 10 * time.Second
	MinReadyTimeout  = 100 * time.Millisecond
	MaxReadyTimeout  = 10 * time.Minute
)

// Config holds the configuration of one pump.
type Config struct {
	model         *Model
	numPorts      int
	syringeUL     int
	microstep     bool
	wastePort     int
	slope         int
	initForce     int
	initDirection Direction
	initInPort    int
	initOutPort   int
	dirThreshold  int
	pollInterval  time.Duration
	readyTimeout  time.Duration
	logger        logger.Logger
}

// NewConfig creates a pump configuration for model. opts are applied in order
// and cross-checked afterwards (for example, the waste port must exist on the
// valve).
func NewConfig(model *Model, opts ...Option) (*Config, error) {
	if model == nil {
		return nil, errors.New("syringe: model must not be nil")
	}

	cfg := &Config{
		model:        model,
		numPorts:     model.DefaultPorts,
		syringeUL:    DefaultSyringeVolume,
		slope:        model.DefaultSlope,
		pollInterval: DefaultPollInterval,
		readyTimeout: DefaultReadyTimeout,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.dirThreshold == 0 {
		cfg.dirThreshold = cfg.numPorts/2 + 1
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if !slices.Contains(cfg.model.AllowedPorts, cfg.numPorts) {
		return fmt.Errorf("syringe: %s does not support %d ports (allowed %v)", cfg.model.Name, cfg.numPorts, cfg.model.AllowedPorts)
	}
	if cfg.wastePort != 0 && (cfg.wastePort < 1 || cfg.wastePort > cfg.numPorts) {
		return newValidationError("waste port", cfg.wastePort, 1, cfg.numPorts)
	}
	for _, p := range []int{cfg.initInPort, cfg.initOutPort} {
		if p < 0 || p > cfg.numPorts {
			return newValidationError("init port", p, 0, cfg.numPorts)
		}
	}
	if cfg.dirThreshold != 0 && (cfg.dirThreshold < 1 || cfg.dirThreshold > cfg.numPorts) {
		return newValidationError("direction threshold", cfg.dirThreshold, 1, cfg.numPorts)
	}

	return nil
}

// Model returns the pump model.
func (cfg *Config) Model() *Model { return cfg.model }

// NumPorts returns the number of valve ports.
func (cfg *Config) NumPorts() int { return cfg.numPorts }

// SyringeVolume returns the syringe volume in µL.
func (cfg *Config) SyringeVolume() int { return cfg.syringeUL }

// Microstep reports whether the pump starts in microstep mode.
func (cfg *Config) Microstep() bool { return cfg.microstep }

// WastePort returns the default waste port, 0 if none.
func (cfg *Config) WastePort() int { return cfg.wastePort }

// Slope returns the initial slope code.
func (cfg *Config) Slope() int { return cfg.slope }

// InitForce returns the plunger force used by Init.
func (cfg *Config) InitForce() int { return cfg.initForce }

// InitDirection returns the valve direction used by Init.
func (cfg *Config) InitDirection() Direction { return cfg.initDirection }

// DirectionThreshold returns the port distance at which ChangePort reverses
// the rotation direction.
func (cfg *Config) DirectionThreshold() int { return cfg.dirThreshold }

// PollInterval returns the ready-polling interval.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// ReadyTimeout returns the ready-polling timeout.
func (cfg *Config) ReadyTimeout() time.Duration { return cfg.readyTimeout }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a pump.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithNumPorts sets the number of ports of the distribution valve.
func WithNumPorts(n int) Option {
	return optFunc(func(cfg *Config) error {
		cfg.numPorts = n
		return nil
	})
}

// WithSyringeVolume sets the syringe volume in µL.
func WithSyringeVolume(ul int) Option {
	return optFunc(func(cfg *Config) error {
		if ul < MinSyringeVolume || ul > MaxSyringeVolume {
			return newValidationError("syringe volume", ul, MinSyringeVolume, MaxSyringeVolume)
		}
		cfg.syringeUL = ul

		return nil
	})
}

// WithMicrostep sets whether the pump operates in microstep mode.
func WithMicrostep(on bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.microstep = on
		return nil
	})
}

// WithWastePort sets the default out port of ExtractToWaste.
func WithWastePort(port int) Option {
	return optFunc(func(cfg *Config) error {
		cfg.wastePort = port
		return nil
	})
}

// WithSlope sets the initial slope code.
func WithSlope(slope int) Option {
	return optFunc(func(cfg *Config) error {
		if !cfg.model.Slope.Contains(slope) {
			return newValidationError("slope", slope, cfg.model.Slope.Min, cfg.model.Slope.Max)
		}
		cfg.slope = slope

		return nil
	})
}

// WithInitForce sets the plunger force used by Init.
func WithInitForce(force int) Option {
	return optFunc(func(cfg *Config) error {
		if force < 0 || force > cfg.model.MaxInitForce {
			return newValidationError("init force", force, 0, cfg.model.MaxInitForce)
		}
		cfg.initForce = force

		return nil
	})
}

// WithInitDirection sets the valve direction used by Init.
func WithInitDirection(d Direction) Option {
	return optFunc(func(cfg *Config) error {
		if d != CW && d != CCW {
			return fmt.Errorf("syringe: invalid init direction %v", d)
		}
		cfg.initDirection = d

		return nil
	})
}

// WithInitPorts sets the input and output ports passed to distributor
// initialization. 0 keeps the firmware default.
func WithInitPorts(in, out int) Option {
	return optFunc(func(cfg *Config) error {
		cfg.initInPort = in
		cfg.initOutPort = out

		return nil
	})
}

// WithDirectionThreshold sets the port distance at which ChangePort reverses
// the rotation direction. The default is NumPorts/2+1, the shortest path.
func WithDirectionThreshold(n int) Option {
	return optFunc(func(cfg *Config) error {
		cfg.dirThreshold = n
		return nil
	})
}

// WithPollInterval sets the ready-polling interval.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("syringe: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithReadyTimeout sets the ready-polling timeout.
func WithReadyTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinReadyTimeout || d > MaxReadyTimeout {
			return fmt.Errorf("syringe: ready timeout %v out of range [%v, %v]", d, MinReadyTimeout, MaxReadyTimeout)
		}
		cfg.readyTimeout = d

		return nil
	})
}

// WithLogger sets the logger of the pump.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("syringe: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
