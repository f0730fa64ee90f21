package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/arloliu/go-cavro/logger"
)

// Default link parameters.
const (
	DefaultBaud         = 9600
	DefaultTimeout      = 100 * time.Millisecond // read window of one attempt
	DefaultMaxAttempts  = 5
	DefaultBackoff      = 50 * time.Millisecond // multiplied by the attempt number
	DefaultErrorBackoff = 200 * time.Millisecond
)

// Parameter range limits.
const (
	MinTimeout     = 10 * time.Millisecond
	MaxTimeout     = 30 * time.Second
	MaxMaxAttempts = 50
	MaxBackoff     = 5 * time.Second
)

// LinkConfig holds the configuration shared by serial and node links.
type LinkConfig struct {
	baud         int
	timeout      time.Duration
	maxAttempts  int
	backoff      time.Duration
	errorBackoff time.Duration

	httpClient *http.Client
	logger     logger.Logger
}

// NewLinkConfig creates a link configuration. opts are applied in order.
func NewLinkConfig(opts ...LinkOption) (*LinkConfig, error) {
	cfg := &LinkConfig{
		baud:         DefaultBaud,
		timeout:      DefaultTimeout,
		maxAttempts:  DefaultMaxAttempts,
		backoff:      DefaultBackoff,
		errorBackoff: DefaultErrorBackoff,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Baud returns the serial baud rate.
func (cfg *LinkConfig) Baud() int { return cfg.baud }

// Timeout returns the read window of a single attempt.
func (cfg *LinkConfig) Timeout() time.Duration { return cfg.timeout }

// MaxAttempts returns the number of attempts before ErrTimeout.
func (cfg *LinkConfig) MaxAttempts() int { return cfg.maxAttempts }

// Backoff returns the base wait after an attempt without a valid reply.
func (cfg *LinkConfig) Backoff() time.Duration { return cfg.backoff }

// ErrorBackoff returns the wait after an I/O error.
func (cfg *LinkConfig) ErrorBackoff() time.Duration { return cfg.errorBackoff }

// GetLogger returns the configured logger.
func (cfg *LinkConfig) GetLogger() logger.Logger { return cfg.logger }

// PortParams returns the parameters that must match for links sharing a port.
func (cfg *LinkConfig) PortParams() PortParams {
	return PortParams{Baud: cfg.baud, Timeout: cfg.timeout, MaxAttempts: cfg.maxAttempts}
}

func (cfg *LinkConfig) client() *http.Client {
	if cfg.httpClient != nil {
		return cfg.httpClient
	}

	return http.DefaultClient
}

// LinkOption is a functional option for configuring a LinkConfig.
type LinkOption interface {
	apply(*LinkConfig) error
}

type linkOptFunc func(*LinkConfig) error

func (f linkOptFunc) apply(cfg *LinkConfig) error { return f(cfg) }

// WithBaud sets the serial baud rate.
func WithBaud(baud int) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if baud <= 0 {
			return fmt.Errorf("transport: baud rate %d must be positive", baud)
		}
		cfg.baud = baud

		return nil
	})
}

// WithTimeout sets the read window of a single attempt.
func WithTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d < MinTimeout || d > MaxTimeout {
			return fmt.Errorf("transport: timeout %v out of range [%v, %v]", d, MinTimeout, MaxTimeout)
		}
		cfg.timeout = d

		return nil
	})
}

// WithMaxAttempts sets how many frames are sent before giving up.
func WithMaxAttempts(n int) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if n < 1 || n > MaxMaxAttempts {
			return fmt.Errorf("transport: max attempts %d out of range [1, %d]", n, MaxMaxAttempts)
		}
		cfg.maxAttempts = n

		return nil
	})
}

// WithBackoff sets the base wait after an attempt that got no valid reply.
// The actual wait is the base multiplied by the attempt number.
func WithBackoff(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d < 0 || d > MaxBackoff {
			return fmt.Errorf("transport: backoff %v out of range [0, %v]", d, MaxBackoff)
		}
		cfg.backoff = d

		return nil
	})
}

// WithErrorBackoff sets the wait after an I/O error on the port.
func WithErrorBackoff(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d < 0 || d > MaxBackoff {
			return fmt.Errorf("transport: error backoff %v out of range [0, %v]", d, MaxBackoff)
		}
		cfg.errorBackoff = d

		return nil
	})
}

// WithHTTPClient sets the HTTP client used by NodeLink.
func WithHTTPClient(c *http.Client) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if c == nil {
			return errors.New("transport: http client must not be nil")
		}
		cfg.httpClient = c

		return nil
	})
}

// WithLogger sets the logger for the link.
func WithLogger(l logger.Logger) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if l == nil {
			return errors.New("transport: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
