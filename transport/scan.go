package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/arloliu/go-cavro/logger"
	"github.com/arloliu/go-cavro/tecanapi"
)

// PortInfo describes a local serial port.
type PortInfo struct {
	Name         string
	Description  string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

// FoundPump is a pump that answered a probe during Scan.
type FoundPump struct {
	Port        string
	Description string
	Address     int
}

// PortLister returns the serial ports to probe.
type PortLister func() ([]PortInfo, error)

// ListPorts lists local serial ports with USB details where the platform
// provides them, falling back to bare port names.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil && len(details) > 0 {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, PortInfo{
				Name:         d.Name,
				Description:  d.Product,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
			})
		}

		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]PortInfo, 0, len(names))
	for _, name := range names {
		ports = append(ports, PortInfo{Name: name})
	}

	return ports, nil
}

// scan defaults
const (
	DefaultScanTimeout     = 100 * time.Millisecond
	DefaultScanMaxAttempts = 2
)

// DefaultScanAddresses are the addresses probed when WithScanAddresses is not
// given: the first four switch positions of a daisy chain.
var DefaultScanAddresses = []int{0, 1, 2, 3}

type scanConfig struct {
	addresses   []int
	baud        int
	timeout     time.Duration
	maxAttempts int
	lister      PortLister
	registry    *Registry
	logger      logger.Logger
}

// ScanOption configures Scan.
type ScanOption func(*scanConfig)

// WithScanAddresses sets the logical addresses probed on each port.
// By default DefaultScanAddresses are probed.
func WithScanAddresses(addrs ...int) ScanOption {
	return func(c *scanConfig) { c.addresses = addrs }
}

// WithScanBaud sets the baud rate used for probing.
func WithScanBaud(baud int) ScanOption {
	return func(c *scanConfig) { c.baud = baud }
}

// WithScanTimeout sets the read window of each probe attempt.
func WithScanTimeout(d time.Duration) ScanOption {
	return func(c *scanConfig) { c.timeout = d }
}

// WithScanMaxAttempts sets the attempts per probe.
func WithScanMaxAttempts(n int) ScanOption {
	return func(c *scanConfig) { c.maxAttempts = n }
}

// WithPortLister replaces ListPorts.
func WithPortLister(lister PortLister) ScanOption {
	return func(c *scanConfig) { c.lister = lister }
}

// WithScanRegistry sets the registry probe links are opened through.
// By default a private registry is used so probing never disturbs ports held
// by other links.
func WithScanRegistry(reg *Registry) ScanOption {
	return func(c *scanConfig) { c.registry = reg }
}

// WithScanLogger sets the logger used while probing.
func WithScanLogger(l logger.Logger) ScanOption {
	return func(c *scanConfig) { c.logger = l }
}

// Scan probes every local serial port with a status query and returns the
// ports and addresses that answered with a valid frame.
//
// Ports that cannot be opened are skipped. Scan returns early with the pumps
// found so far when ctx is done.
func Scan(ctx context.Context, opts ...ScanOption) ([]FoundPump, error) {
	sc := &scanConfig{
		addresses:   slices.Clone(DefaultScanAddresses),
		baud:        DefaultBaud,
		timeout:     DefaultScanTimeout,
		maxAttempts: DefaultScanMaxAttempts,
		lister:      ListPorts,
		logger:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.registry == nil {
		sc.registry = NewRegistry(WithRegistryLogger(sc.logger))
	}

	cfg, err := NewLinkConfig(
		WithBaud(sc.baud),
		WithTimeout(sc.timeout),
		WithMaxAttempts(sc.maxAttempts),
		WithLogger(sc.logger),
	)
	if err != nil {
		return nil, err
	}

	ports, err := sc.lister()
	if err != nil {
		return nil, fmt.Errorf("transport: list serial ports: %w", err)
	}

	found := []FoundPump{}
	for _, p := range ports {
		for _, addr := range sc.addresses {
			if err := ctx.Err(); err != nil {
				return found, err
			}

			ok, err := probe(ctx, sc.registry, p.Name, addr, cfg)
			if err != nil {
				sc.logger.Debug("transport: probe skipped port", "port", p.Name, "error", err)
				break
			}
			if ok {
				sc.logger.Info("transport: pump found", "port", p.Name, "address", addr)
				found = append(found, FoundPump{Port: p.Name, Description: p.Description, Address: addr})
			}
		}
	}

	return found, nil
}

// probe sends a status query; it returns an error only when the port itself
// is unusable.
func probe(ctx context.Context, reg *Registry, path string, addr int, cfg *LinkConfig) (bool, error) {
	link, err := NewSerialLink(reg, path, addr, cfg)
	if err != nil {
		return false, err
	}
	defer link.Close()

	_, err = link.SendRcv(ctx, []byte{tecanapi.QueryStatus})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrTimeout), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, err
	}
}
