package syringe

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-cavro/tecanapi"
	"github.com/arloliu/go-cavro/transport"
)

const simPath = "/dev/ttySIM"

// simRegs is the mechanical state of a simulated pump.
type simRegs struct {
	initialized               bool
	pos, port                 int
	start, top, cutoff, slope int
	microstep                 bool
}

// simPump emulates the command interpreter of an XCalibur pump.
type simPump struct {
	mu sync.Mutex
	simRegs

	distributor bool
	requireInit bool

	// busyAfterExec is the number of status queries answered busy after
	// each executed command.
	busyAfterExec int
	busy          int

	// errFor returns the error code to report for a request payload, 0 for
	// none. Failed commands are not executed.
	errFor func(cmd string) int

	cmds []string
}

func newSimPump() *simPump {
	return &simPump{
		distributor: true,
		simRegs: simRegs{
			initialized: true,
			port:        1,
			start:       900,
			top:         1400,
			cutoff:      900,
			slope:       7,
		},
	}
}

// regs returns a snapshot of the mechanical state.
func (s *simPump) regs() simRegs {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.simRegs
}

// received returns every payload the pump received.
func (s *simPump) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.cmds...)
}

// count returns how many received payloads satisfy match.
func (s *simPump) count(match func(string) bool) int {
	n := 0
	for _, c := range s.received() {
		if match(c) {
			n++
		}
	}

	return n
}

func (s *simPump) handle(cmd string) (tecanapi.Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cmds = append(s.cmds, cmd)

	status := tecanapi.StatusReady
	if s.busy > 0 {
		status = tecanapi.StatusBusy
	}

	if s.errFor != nil {
		if code := s.errFor(cmd); code != 0 {
			return status.WithError(code), ""
		}
	}

	switch {
	case cmd == "Q":
		if s.busy > 0 {
			s.busy--
		}
		return status, ""
	case strings.HasPrefix(cmd, "?"):
		return status, s.report(cmd)
	case strings.HasSuffix(cmd, "R"):
		if code := s.execute(strings.TrimSuffix(cmd, "R")); code != 0 {
			return status.WithError(code), ""
		}
		s.busy = s.busyAfterExec
		return status, ""
	}

	return status, ""
}

func (s *simPump) report(cmd string) string {
	switch cmd {
	case "?", "?4":
		return strconv.Itoa(s.pos)
	case "?1":
		return strconv.Itoa(s.start)
	case "?2":
		return strconv.Itoa(s.top)
	case "?3":
		return strconv.Itoa(s.cutoff)
	case "?6":
		if s.distributor {
			return strconv.Itoa(s.port)
		}
		return string("iob"[s.port-1])
	case "?10":
		return "0"
	}

	return ""
}

// execute runs a command string atomically; it returns an error code.
func (s *simPump) execute(body string) int {
	next := s.simRegs
	const stroke = 3000

	for i := 0; i < len(body); {
		letter := body[i]
		j := i + 1
		for j < len(body) && (body[j] >= '0' && body[j] <= '9' || body[j] == ',') {
			j++
		}
		first, _, _ := strings.Cut(body[i+1:j], ",")
		n, _ := strconv.Atoi(first)
		i = j

		if s.requireInit && !next.initialized && letter != 'Z' && letter != 'Y' {
			return 7
		}

		switch letter {
		case 'Z', 'Y':
			next.initialized = true
			next.pos = 0
			next.port = 1
		case 'I':
			next.port = 1
			if s.distributor {
				next.port = n
			}
		case 'O':
			next.port = 2
			if s.distributor {
				next.port = n
			}
		case 'B':
			next.port = 3
		case 'A':
			next.pos = n
		case 'P':
			next.pos += n
		case 'D':
			next.pos -= n
		case 'S':
			next.top = xcaliburSpeeds[n]
		case 'v':
			next.start = n
		case 'V':
			next.top = n
		case 'c':
			next.cutoff = n
		case 'L':
			next.slope = n
		case 'N':
			on := n == 1
			if on && !next.microstep {
				next.pos *= 8
			} else if !on && next.microstep {
				next.pos /= 8
			}
			next.microstep = on
		}

		limit := stroke
		if next.microstep {
			limit = stroke * 8
		}
		if next.pos < 0 || next.pos > limit {
			return 3
		}
	}

	s.simRegs = next

	return 0
}

// simBus is a transport.Port connecting several simulated pumps.
type simBus struct {
	mu      sync.Mutex
	pumps   map[int]*simPump
	pending []byte
	frames  int
}

func newSimBus(pumps map[int]*simPump) *simBus {
	return &simBus{pumps: pumps}
}

func (b *simBus) Write(p []byte) (int, error) {
	req, err := tecanapi.ParseFrame(p)
	if err != nil {
		return len(p), nil
	}

	b.mu.Lock()
	b.frames++
	dev := b.pumps[int(req.Address)-tecanapi.AddressOffset]
	b.mu.Unlock()
	if dev == nil {
		return len(p), nil
	}

	status, data := dev.handle(string(req.Data))
	reply := tecanapi.BuildReply(status, []byte(data))

	b.mu.Lock()
	b.pending = append(b.pending, reply...)
	b.mu.Unlock()

	return len(p), nil
}

func (b *simBus) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := copy(p, b.pending)
	b.pending = b.pending[n:]

	return n, nil
}

func (b *simBus) SetReadTimeout(time.Duration) error { return nil }

func (b *simBus) ResetInputBuffer() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil

	return nil
}

func (b *simBus) Close() error { return nil }

func (b *simBus) frameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.frames
}

func newTestLinkConfig(t *testing.T, opts ...transport.LinkOption) *transport.LinkConfig {
	t.Helper()

	defaults := []transport.LinkOption{
		transport.WithTimeout(transport.MinTimeout),
		transport.WithBackoff(0),
		transport.WithErrorBackoff(0),
	}
	cfg, err := transport.NewLinkConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestLinkConfig: %v", err)
	}

	return cfg
}

func busOpener(bus *simBus, opens *int) transport.PortOpener {
	return func(string, transport.PortParams) (transport.Port, error) {
		if opens != nil {
			*opens++
		}
		return bus, nil
	}
}

// newTestPumpOn creates a pump at addr on bus with fast polling.
func newTestPumpOn(t *testing.T, reg *transport.Registry, addr int, model *Model, opts ...Option) *Pump {
	t.Helper()

	link, err := transport.NewSerialLink(reg, simPath, addr, newTestLinkConfig(t))
	if err != nil {
		t.Fatalf("NewSerialLink: %v", err)
	}

	defaults := []Option{
		WithPollInterval(MinPollInterval),
		WithReadyTimeout(time.Second),
	}
	cfg, err := NewConfig(model, append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}

	p, err := New(link, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	return p
}

// newTestPump creates an XCaliburD pump wired to sim and returns the bus.
func newTestPump(t *testing.T, sim *simPump, opts ...Option) (*Pump, *simBus) {
	t.Helper()

	return newTestModelPump(t, XCaliburD, sim, opts...)
}

func newTestModelPump(t *testing.T, model *Model, sim *simPump, opts ...Option) (*Pump, *simBus) {
	t.Helper()

	bus := newSimBus(map[int]*simPump{0: sim})
	reg := transport.NewRegistry(transport.WithPortOpener(busOpener(bus, nil)))

	return newTestPumpOn(t, reg, 0, model, opts...), bus
}

// travel returns the number of port positions a valve passes moving from
// one port to another in direction d on an n-port valve.
func travel(from, to, n int, d Direction) int {
	if d == CW {
		return ((to-from)%n + n) % n
	}

	return ((from-to)%n + n) % n
}
