package transport

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/arloliu/go-cavro/tecanapi"
)

// OpenSerialPort opens path as an 8N1 serial port with the given baud rate.
func OpenSerialPort(path string, params PortParams) (Port, error) {
	mode := &serial.Mode{
		BaudRate: params.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(params.Timeout); err != nil {
		_ = port.Close()
		return nil, err
	}

	return port, nil
}

// SerialLink talks to one pump over a (possibly shared) RS-232 port.
type SerialLink struct {
	*retrier

	path   string
	addr   int
	reg    *Registry
	shared *sharedPort
	closed atomic.Bool
}

var _ Link = (*SerialLink)(nil)

// NewSerialLink registers a link to the pump at addr on the serial port path.
//
// The port is opened through reg on first use. If reg is nil the
// DefaultRegistry is used. cfg may be nil for defaults.
func NewSerialLink(reg *Registry, path string, addr int, cfg *LinkConfig) (*SerialLink, error) {
	if cfg == nil {
		var err error
		if cfg, err = NewLinkConfig(); err != nil {
			return nil, err
		}
	}
	if reg == nil {
		reg = DefaultRegistry()
	}

	r, err := newRetrier(cfg, addr, cfg.logger.With("port", path, "address", addr))
	if err != nil {
		return nil, err
	}

	shared, err := reg.acquire(path, cfg.PortParams())
	if err != nil {
		return nil, err
	}

	return &SerialLink{
		retrier: r,
		path:    path,
		addr:    addr,
		reg:     reg,
		shared:  shared,
	}, nil
}

// Path returns the serial port path.
func (l *SerialLink) Path() string { return l.path }

// Address implements Link.
func (l *SerialLink) Address() int { return l.addr }

// Metrics implements Link.
func (l *SerialLink) Metrics() *LinkMetrics { return l.metrics }

// SendRcv implements Link.
func (l *SerialLink) SendRcv(ctx context.Context, cmd []byte) (*tecanapi.Response, error) {
	if l.closed.Load() {
		return nil, ErrLinkClosed
	}

	l.shared.wire.Lock()
	defer l.shared.wire.Unlock()

	return l.sendRcv(ctx, cmd, l.exchange)
}

// Close implements Link. The port is closed when its last link is closed.
func (l *SerialLink) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	return l.reg.release(l.path)
}

func (l *SerialLink) exchange(ctx context.Context, frame []byte) (*tecanapi.Response, error) {
	port := l.shared.port

	// drop stale bytes from an earlier, abandoned reply
	if err := port.ResetInputBuffer(); err != nil {
		return nil, err
	}

	if err := writeAll(port, frame); err != nil {
		return nil, err
	}

	return readFrame(ctx, port, l.cfg.timeout)
}

func writeAll(port Port, b []byte) error {
	for len(b) > 0 {
		n, err := port.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("transport: short write, %d bytes left", len(b))
		}
		b = b[n:]
	}

	return nil
}

// readFrame accumulates bytes until a complete valid frame is parsed or the
// read window elapses.
func readFrame(ctx context.Context, port Port, window time.Duration) (*tecanapi.Response, error) {
	deadline := time.Now().Add(window)
	buf := make([]byte, 64)
	acc := make([]byte, 0, 64)
	lastErr := errNoReply

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, lastErr
		}
		if err := port.SetReadTimeout(remaining); err != nil {
			return nil, err
		}

		n, err := port.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			resp, perr := tecanapi.ParseFrame(acc)
			if perr == nil {
				return resp, nil
			}
			lastErr = perr
		}

		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, lastErr
		}
	}
}
