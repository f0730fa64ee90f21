// Package config loads the YAML configuration of cavroctl: the links to open
// and the pumps reachable through them.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-cavro/logger"
	"github.com/arloliu/go-cavro/syringe"
	"github.com/arloliu/go-cavro/tecanapi"
	"github.com/arloliu/go-cavro/transport"
)

// Link types.
const (
	LinkSerial = "serial"
	LinkNode   = "node"
)

// Config is the root of the configuration file.
type Config struct {
	Log     LogConfig             `yaml:"log"`
	Metrics MetricsConfig         `yaml:"metrics"`
	Links   map[string]LinkConfig `yaml:"links"`
	Pumps   map[string]PumpConfig `yaml:"pumps"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint; empty disables it.
	Listen string `yaml:"listen"`
}

// LinkConfig describes a serial port or a node bridge. Zero values select the
// transport defaults.
type LinkConfig struct {
	Type         string        `yaml:"type"`
	Port         string        `yaml:"port"`
	Node         string        `yaml:"node"`
	Baud         int           `yaml:"baud"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Backoff      time.Duration `yaml:"backoff"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
}

// PumpConfig describes one pump. Zero values select the model defaults.
type PumpConfig struct {
	Link               string        `yaml:"link"`
	Address            int           `yaml:"address"`
	Model              string        `yaml:"model"`
	Ports              int           `yaml:"ports"`
	SyringeUL          int           `yaml:"syringe_ul"`
	Microstep          bool          `yaml:"microstep"`
	WastePort          int           `yaml:"waste_port"`
	Slope              int           `yaml:"slope"`
	InitForce          int           `yaml:"init_force"`
	InitDirection      string        `yaml:"init_direction"`
	DirectionThreshold int           `yaml:"direction_threshold"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	ReadyTimeout       time.Duration `yaml:"ready_timeout"`
}

// Default returns a configuration with no links or pumps.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info"},
		Links: map[string]LinkConfig{},
		Pumps: map[string]PumpConfig{},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	for name, l := range c.Links {
		if l.Type == "" {
			l.Type = LinkSerial
		}
		c.Links[name] = l
	}
	for name, p := range c.Pumps {
		if p.Model == "" {
			p.Model = syringe.XCaliburD.Name
		}
		c.Pumps[name] = p
	}
}

// Validate checks references between sections and builds every link and
// pump configuration once so that range errors surface at load time.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	for _, name := range sortedKeys(c.Links) {
		l := c.Links[name]
		switch l.Type {
		case LinkSerial:
			if l.Port == "" {
				errs = append(errs, fmt.Errorf("config: link %q: serial link needs a port", name))
			}
		case LinkNode:
			if l.Node == "" {
				errs = append(errs, fmt.Errorf("config: link %q: node link needs a node address", name))
			}
		default:
			errs = append(errs, fmt.Errorf("config: link %q: unknown type %q", name, l.Type))
		}
		if _, err := transport.NewLinkConfig(l.Options()...); err != nil {
			errs = append(errs, fmt.Errorf("config: link %q: %w", name, err))
		}
	}

	for _, name := range sortedKeys(c.Pumps) {
		p := c.Pumps[name]
		if _, ok := c.Links[p.Link]; !ok {
			errs = append(errs, fmt.Errorf("config: pump %q: unknown link %q", name, p.Link))
		}
		if p.Address < 0 || p.Address > tecanapi.MaxDeviceAddress {
			errs = append(errs, fmt.Errorf("config: pump %q: address %d out of range [0, %d]", name, p.Address, tecanapi.MaxDeviceAddress))
		}
		if _, err := p.SyringeConfig(); err != nil {
			errs = append(errs, fmt.Errorf("config: pump %q: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// Options returns the transport options for the non-zero fields of l.
func (l LinkConfig) Options(extra ...transport.LinkOption) []transport.LinkOption {
	var opts []transport.LinkOption
	if l.Baud != 0 {
		opts = append(opts, transport.WithBaud(l.Baud))
	}
	if l.Timeout != 0 {
		opts = append(opts, transport.WithTimeout(l.Timeout))
	}
	if l.MaxAttempts != 0 {
		opts = append(opts, transport.WithMaxAttempts(l.MaxAttempts))
	}
	if l.Backoff != 0 {
		opts = append(opts, transport.WithBackoff(l.Backoff))
	}
	if l.ErrorBackoff != 0 {
		opts = append(opts, transport.WithErrorBackoff(l.ErrorBackoff))
	}

	return append(opts, extra...)
}

// SyringeConfig builds the pump configuration described by p.
func (p PumpConfig) SyringeConfig(extra ...syringe.Option) (*syringe.Config, error) {
	model, ok := syringe.Models[p.Model]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", p.Model)
	}

	var opts []syringe.Option
	if p.Ports != 0 {
		opts = append(opts, syringe.WithNumPorts(p.Ports))
	}
	if p.SyringeUL != 0 {
		opts = append(opts, syringe.WithSyringeVolume(p.SyringeUL))
	}
	if p.Microstep {
		opts = append(opts, syringe.WithMicrostep(true))
	}
	if p.WastePort != 0 {
		opts = append(opts, syringe.WithWastePort(p.WastePort))
	}
	if p.Slope != 0 {
		opts = append(opts, syringe.WithSlope(p.Slope))
	}
	if p.InitForce != 0 {
		opts = append(opts, syringe.WithInitForce(p.InitForce))
	}
	switch strings.ToLower(p.InitDirection) {
	case "", "cw":
	case "ccw":
		opts = append(opts, syringe.WithInitDirection(syringe.CCW))
	default:
		return nil, fmt.Errorf("unknown init direction %q", p.InitDirection)
	}
	if p.DirectionThreshold != 0 {
		opts = append(opts, syringe.WithDirectionThreshold(p.DirectionThreshold))
	}
	if p.PollInterval != 0 {
		opts = append(opts, syringe.WithPollInterval(p.PollInterval))
	}
	if p.ReadyTimeout != 0 {
		opts = append(opts, syringe.WithReadyTimeout(p.ReadyTimeout))
	}

	return syringe.NewConfig(model, append(opts, extra...)...)
}

// ParseLevel converts a level name to a logger level.
func ParseLevel(s string) (logger.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return logger.DebugLevel, nil
	case "", "info":
		return logger.InfoLevel, nil
	case "warn", "warning":
		return logger.WarnLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}

	return logger.InfoLevel, fmt.Errorf("config: unknown log level %q", s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys
}
