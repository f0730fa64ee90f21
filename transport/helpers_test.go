package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-cavro/tecanapi"
)

// responder produces the raw reply bytes for one request frame.
// Returning nil simulates a pump that stays silent.
type responder func(frame []byte) []byte

// fakePort is an in-memory Port. Replies are queued on Write and drained by
// Read; an empty queue behaves like an elapsed read timeout.
type fakePort struct {
	mu        sync.Mutex
	respond   responder
	pending   []byte
	chunk     int
	writes    [][]byte
	writeErrs int
	closed    int
}

func newFakePort(r responder) *fakePort {
	return &fakePort{respond: r}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErrs > 0 {
		p.writeErrs--
		return 0, errors.New("fake: write failed")
	}

	frame := append([]byte(nil), b...)
	p.writes = append(p.writes, frame)
	if p.respond != nil {
		p.pending = append(p.pending, p.respond(frame)...)
	}

	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		return 0, nil
	}

	n := len(p.pending)
	if p.chunk > 0 && n > p.chunk {
		n = p.chunk
	}
	n = copy(b, p.pending[:n])
	p.pending = p.pending[n:]

	return n, nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil

	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++

	return nil
}

func (p *fakePort) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([][]byte(nil), p.writes...)
}

func (p *fakePort) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

// pumpResponder answers every request addressed to one of addrs with a ready
// status and the payload echoed back after "ok:".
func pumpResponder(addrs ...int) responder {
	return func(frame []byte) []byte {
		req, err := tecanapi.ParseFrame(frame)
		if err != nil {
			return nil
		}
		for _, a := range addrs {
			if req.Address == byte(a)+tecanapi.AddressOffset {
				return tecanapi.BuildReply(tecanapi.StatusReady, append([]byte("ok:"), req.Data...))
			}
		}

		return nil
	}
}

// silentFor drops the first n requests, then delegates to next.
func silentFor(n int, next responder) responder {
	var mu sync.Mutex
	return func(frame []byte) []byte {
		mu.Lock()
		defer mu.Unlock()
		if n > 0 {
			n--
			return nil
		}

		return next(frame)
	}
}

// fixedOpener returns an opener serving ports from m and counting opens.
func fixedOpener(m map[string]*fakePort, opens *int) PortOpener {
	var mu sync.Mutex
	return func(path string, _ PortParams) (Port, error) {
		mu.Lock()
		defer mu.Unlock()

		p, ok := m[path]
		if !ok {
			return nil, errors.New("fake: no such port")
		}
		if opens != nil {
			*opens++
		}

		return p, nil
	}
}

// newTestLinkConfig creates a LinkConfig with no backoff suitable for tests.
func newTestLinkConfig(t *testing.T, opts ...LinkOption) *LinkConfig {
	t.Helper()

	defaults := []LinkOption{
		WithTimeout(MinTimeout),
		WithBackoff(0),
		WithErrorBackoff(0),
	}

	cfg, err := NewLinkConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestLinkConfig: %v", err)
	}

	return cfg
}

// newTestSerialLink creates a SerialLink at addr backed by port.
func newTestSerialLink(t *testing.T, port *fakePort, addr int, opts ...LinkOption) *SerialLink {
	t.Helper()

	reg := NewRegistry(WithPortOpener(fixedOpener(map[string]*fakePort{"/dev/ttyFAKE": port}, nil)))
	link, err := NewSerialLink(reg, "/dev/ttyFAKE", addr, newTestLinkConfig(t, opts...))
	if err != nil {
		t.Fatalf("newTestSerialLink: %v", err)
	}
	t.Cleanup(func() { _ = link.Close() })

	return link
}
