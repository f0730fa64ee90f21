package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/arloliu/go-cavro/tecanapi"
)

// Sentinel errors for the transport layer.
var (
	// ErrTimeout is returned when a pump did not answer with a valid frame
	// within the configured number of attempts.
	ErrTimeout = errors.New("transport: tecan API timeout")
	// ErrPortConflict is returned when a port is already registered with
	// different serial parameters.
	ErrPortConflict = errors.New("transport: serial port registered with different parameters")
	// ErrLinkClosed is returned by SendRcv after Close.
	ErrLinkClosed = errors.New("transport: link closed")
	// ErrBadEnvelope is returned when a node bridge reply cannot be decoded.
	ErrBadEnvelope = errors.New("transport: invalid node envelope")

	errNoReply = errors.New("transport: no reply within read window")
)

// Link sends commands to one pump and returns its parsed reply.
type Link interface {
	// SendRcv frames cmd, sends it and blocks until a valid reply arrives or
	// all attempts are exhausted (ErrTimeout).
	SendRcv(ctx context.Context, cmd []byte) (*tecanapi.Response, error)
	// Address returns the logical pump address.
	Address() int
	// Metrics returns the link counters.
	Metrics() *LinkMetrics
	// Close releases the link. Further SendRcv calls fail with ErrLinkClosed.
	Close() error
}

// Port is the byte stream a SerialLink talks over.
//
// Read must return (0, nil) when the read timeout elapses without data,
// which is how go.bug.st/serial ports behave.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// PortParams are the serial parameters a shared port was opened with.
type PortParams struct {
	Baud        int
	Timeout     time.Duration
	MaxAttempts int
}

// PortOpener opens the port at path.
type PortOpener func(path string, params PortParams) (Port, error)

// isInvalidReply reports whether err means "no usable frame yet" rather than
// a failure of the port itself.
func isInvalidReply(err error) bool {
	return errors.Is(err, tecanapi.ErrFrame) ||
		errors.Is(err, errNoReply) ||
		errors.Is(err, ErrBadEnvelope)
}
