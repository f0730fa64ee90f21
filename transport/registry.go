package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-cavro/logger"
)

// sharedPort is one opened serial port and the links using it.
type sharedPort struct {
	path   string
	params PortParams
	port   Port

	// wire serializes request/reply exchanges on the port.
	wire sync.Mutex
	// refs is only modified inside Registry.ports.Compute.
	refs int
}

// Registry shares serial ports between links addressing different pumps on
// the same line.
//
// It is goroutine-safe. The zero value is not usable; call NewRegistry.
type Registry struct {
	ports  *xsync.MapOf[string, *sharedPort]
	opener PortOpener
	logger logger.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPortOpener replaces the function used to open serial ports.
// Tests use it to inject in-memory ports.
func WithPortOpener(opener PortOpener) RegistryOption {
	return func(r *Registry) {
		if opener != nil {
			r.opener = opener
		}
	}
}

// WithRegistryLogger sets the logger of the registry.
func WithRegistryLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry that opens ports with OpenSerialPort.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		ports:  xsync.NewMapOf[string, *sharedPort](),
		opener: OpenSerialPort,
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

var defaultRegistry = sync.OnceValue(func() *Registry { return NewRegistry() })

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry()
}

// acquire returns the shared port for path, opening it on first use.
func (r *Registry) acquire(path string, params PortParams) (*sharedPort, error) {
	var acquireErr error

	sp, _ := r.ports.Compute(path, func(old *sharedPort, loaded bool) (*sharedPort, bool) {
		if loaded {
			if old.params != params {
				acquireErr = fmt.Errorf("%w: %s opened with %+v, requested %+v", ErrPortConflict, path, old.params, params)
				return old, false
			}
			old.refs++

			return old, false
		}

		port, err := r.opener(path, params)
		if err != nil {
			acquireErr = fmt.Errorf("transport: open %s: %w", path, err)
			return nil, true
		}
		r.logger.Info("transport: serial port opened", "port", path, "baud", params.Baud)

		return &sharedPort{path: path, params: params, port: port, refs: 1}, false
	})

	if acquireErr != nil {
		return nil, acquireErr
	}

	return sp, nil
}

// release drops one reference to path and closes the port with the last one.
func (r *Registry) release(path string) error {
	var toClose Port

	r.ports.Compute(path, func(old *sharedPort, loaded bool) (*sharedPort, bool) {
		if !loaded {
			return nil, true
		}
		old.refs--
		if old.refs > 0 {
			return old, false
		}
		toClose = old.port

		return nil, true
	})

	if toClose == nil {
		return nil
	}

	r.logger.Info("transport: serial port closed", "port", path)

	return toClose.Close()
}

// Len returns the number of open ports.
func (r *Registry) Len() int {
	return r.ports.Size()
}

// Refs returns the number of links sharing path.
func (r *Registry) Refs(path string) int {
	refs := 0
	r.ports.Compute(path, func(old *sharedPort, loaded bool) (*sharedPort, bool) {
		if !loaded {
			return nil, true
		}
		refs = old.refs

		return old, false
	})

	return refs
}

// Close closes every port regardless of outstanding links.
func (r *Registry) Close() error {
	var errs []error

	r.ports.Range(func(path string, sp *sharedPort) bool {
		r.ports.Delete(path)
		if err := sp.port.Close(); err != nil {
			errs = append(errs, err)
		}

		return true
	})

	return errors.Join(errs...)
}
