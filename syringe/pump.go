package syringe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-cavro/internal/pool"
	"github.com/arloliu/go-cavro/logger"
	"github.com/arloliu/go-cavro/tecanapi"
	"github.com/arloliu/go-cavro/transport"
)

// Device is the command surface of a Cavro pump.
type Device interface {
	// Init homes the plunger and valve, then synchronizes state.
	Init(ctx context.Context) error

	// chainable operations
	ChangePort(ctx context.Context, to int, opts ...ChainOption) (time.Duration, error)
	MovePlungerAbs(ctx context.Context, pos int, opts ...ChainOption) (time.Duration, error)
	MovePlungerRel(ctx context.Context, steps int, opts ...ChainOption) (time.Duration, error)
	SetSpeed(ctx context.Context, code int, opts ...ChainOption) (time.Duration, error)
	SetStartSpeed(ctx context.Context, pps int, opts ...ChainOption) (time.Duration, error)
	SetTopSpeed(ctx context.Context, pps int, opts ...ChainOption) (time.Duration, error)
	SetCutoffSpeed(ctx context.Context, pps int, opts ...ChainOption) (time.Duration, error)
	SetSlope(ctx context.Context, slope int, opts ...ChainOption) (time.Duration, error)
	SetMicrostep(ctx context.Context, on bool, opts ...ChainOption) (time.Duration, error)
	DelayExec(ctx context.Context, d time.Duration, opts ...ChainOption) (time.Duration, error)
	MarkRepeatStart(ctx context.Context, opts ...ChainOption) (time.Duration, error)
	RepeatCmdSeq(ctx context.Context, n int, opts ...ChainOption) (time.Duration, error)
	HaltExec(ctx context.Context, input int, opts ...ChainOption) (time.Duration, error)

	// composite operations
	Extract(ctx context.Context, port int, volumeUL float64, opts ...ChainOption) (time.Duration, error)
	Dispense(ctx context.Context, port int, volumeUL float64, opts ...ChainOption) (time.Duration, error)
	ExtractToWaste(ctx context.Context, inPort int, volumeUL float64, outPort int, opts ...ChainOption) (time.Duration, error)

	ExecuteChain(ctx context.Context, minimalReset bool) (time.Duration, error)
	ResetChain(ctx context.Context, onExecute, minimalReset bool) error
	Terminate(ctx context.Context) error
	WaitReady(ctx context.Context) error

	// report commands
	PlungerPos(ctx context.Context) (int, error)
	StartSpeed(ctx context.Context) (int, error)
	TopSpeed(ctx context.Context) (int, error)
	CutoffSpeed(ctx context.Context) (int, error)
	EncoderPos(ctx context.Context) (int, error)
	CurrentPort(ctx context.Context) (int, error)
	BufferStatus(ctx context.Context) (int, error)
	UpdateSpeeds(ctx context.Context) error
	SyncState(ctx context.Context) error

	State() DeviceState
	Forecast() Forecast
	Close() error
}

// Pump drives one Cavro pump over a transport link.
//
// All exported methods are goroutine-safe; they are serialized by a per-pump
// mutex. Unexported helpers expect the mutex to be held.
type Pump struct {
	mu     sync.Mutex
	link   transport.Link
	cfg    *Config
	model  *Model
	logger logger.Logger

	state   DeviceState
	chain   chain
	lastCmd string

	// recovered is set when sendRcv re-initialized the pump and resent.
	recovered bool
}

var _ Device = (*Pump)(nil)

// New creates a pump driving link. It performs no I/O; call Init or
// SyncState to read the device state. Until then the factory defaults of the
// model are assumed.
func New(link transport.Link, cfg *Config) (*Pump, error) {
	if link == nil {
		return nil, errors.New("syringe: link must not be nil")
	}
	if cfg == nil {
		return nil, errors.New("syringe: config must not be nil")
	}

	m := cfg.model
	p := &Pump{
		link:   link,
		cfg:    cfg,
		model:  m,
		logger: cfg.logger.With("model", m.Name, "address", link.Address()),
		state: DeviceState{
			StartSpeed:  m.DefaultStartSpeed,
			TopSpeed:    m.DefaultTopSpeed,
			CutoffSpeed: m.DefaultCutoffSpeed,
			Slope:       cfg.slope,
			Microstep:   cfg.microstep,
		},
	}
	p.chain = newChain(p.state)

	for _, issue := range m.CheckSpeedTable() {
		p.logger.Warn("syringe: speed table discrepancy", "issue", issue)
	}
	for _, note := range m.SpeedTableNotes {
		p.logger.Debug("syringe: speed table note", "note", note)
	}

	return p, nil
}

// Config returns the pump configuration.
func (p *Pump) Config() *Config { return p.cfg }

// State returns the confirmed device state.
func (p *Pump) State() DeviceState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Forecast returns the predicted state after the pending chain executes.
func (p *Pump) Forecast() Forecast {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.chain.sim
}

// LastCommand returns the last command string sent to the pump.
func (p *Pump) LastCommand() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastCmd
}

// Close releases the link. The pump is not terminated.
func (p *Pump) Close() error {
	return p.link.Close()
}

// exchange sends cmd once and decodes the status byte. It does not recover.
func (p *Pump) exchange(ctx context.Context, cmd string) (*tecanapi.Response, error) {
	resp, err := p.link.SendRcv(ctx, []byte(cmd))
	if err != nil {
		return nil, err
	}

	if code := resp.Status.ErrorCode(); code != 0 {
		return resp, p.model.Error(code)
	}

	return resp, nil
}

// sendRcv sends cmd and applies the recovery policy: any error discards the
// pending chain; a recoverable device error re-initializes the pump once and
// resends cmd once.
func (p *Pump) sendRcv(ctx context.Context, cmd string) (*tecanapi.Response, error) {
	p.lastCmd = cmd

	resp, err := p.exchange(ctx, cmd)
	if err == nil {
		return resp, nil
	}

	p.discardChain()

	if !p.model.IsRecoverable(err) {
		p.logger.Debug("syringe: command failed", "cmd", cmd, "error", err)
		return nil, err
	}

	p.logger.Warn("syringe: recoverable device error, reinitializing", "cmd", cmd, "error", err)

	if ierr := p.reinit(ctx); ierr != nil {
		if !p.model.IsRecoverable(ierr) {
			return nil, ierr
		}
		p.logger.Warn("syringe: reinitialization failed, resending anyway", "error", ierr)
	}

	p.lastCmd = cmd
	p.recovered = true
	resp, err = p.exchange(ctx, cmd)
	if err != nil {
		p.discardChain()
		return nil, err
	}

	return resp, nil
}

// reinit sends the initialization command and waits for the pump to settle,
// without recovery.
func (p *Pump) reinit(ctx context.Context) error {
	if _, err := p.exchange(ctx, p.initCommand()); err != nil {
		return err
	}
	// initialization homes the plunger
	p.state.PlungerPos = 0
	p.refreshForecast()

	return p.waitReady(ctx)
}

func (p *Pump) initCommand() string {
	d := p.cfg.initDirection
	if p.model.Distributor {
		return fmt.Sprintf("%c%d,%d,%d%c", d.initLetter(), p.cfg.initForce, p.cfg.initInPort, p.cfg.initOutPort, tecanapi.ExecuteCommand)
	}

	return fmt.Sprintf("%c%d%c", d.initLetter(), p.cfg.initForce, tecanapi.ExecuteCommand)
}

// Init initializes the plunger and valve drives, waits until the pump is
// ready and reads back its state. The pending chain is discarded.
func (p *Pump) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.discardChain()
	cmd := p.initCommand()
	p.lastCmd = cmd

	if _, err := p.exchange(ctx, cmd); err != nil {
		return err
	}
	p.logger.Info("syringe: initializing", "cmd", cmd)

	if err := p.waitReady(ctx); err != nil {
		return err
	}

	if p.cfg.slope != p.model.DefaultSlope {
		if _, err := p.exchange(ctx, fmt.Sprintf("L%d%c", p.cfg.slope, tecanapi.ExecuteCommand)); err != nil {
			return err
		}
	}
	p.state.Slope = p.cfg.slope

	return p.syncState(ctx)
}

// WaitReady polls the pump until it is ready to accept commands.
func (p *Pump) WaitReady(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.waitReady(ctx)
}

// waitReady polls the status query at the configured interval. A device error
// reported while busy ends the wait with that error.
func (p *Pump) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(p.cfg.readyTimeout)

	for {
		resp, err := p.exchange(ctx, string(tecanapi.QueryStatus))
		if err != nil {
			return err
		}
		if resp.Status.Ready() {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w [%v]", ErrSyringeTimeout, p.cfg.readyTimeout)
		}

		if err := pool.Sleep(ctx, min(p.cfg.pollInterval, remaining)); err != nil {
			return err
		}
	}
}

// Terminate stops the command currently executing on the pump.
func (p *Pump) Terminate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.sendRcv(ctx, "T")

	return err
}

// reportInt sends a report command and parses the integer reply.
func (p *Pump) reportInt(ctx context.Context, cmd string) (int, error) {
	resp, err := p.sendRcv(ctx, cmd)
	if err != nil {
		return 0, err
	}

	v, err := strconv.Atoi(strings.TrimSpace(resp.Text()))
	if err != nil {
		return 0, fmt.Errorf("%w: %q for %q", ErrBadReply, resp.Text(), cmd)
	}

	return v, nil
}

// PlungerPos returns the absolute plunger position.
func (p *Pump) PlungerPos(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.reportInt(ctx, "?")
}

// StartSpeed reads the start speed and records it in the device state.
func (p *Pump) StartSpeed(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.reportSpeed(ctx, "?1", &p.state.StartSpeed)
}

// TopSpeed reads the top speed and records it in the device state.
func (p *Pump) TopSpeed(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.reportSpeed(ctx, "?2", &p.state.TopSpeed)
}

// CutoffSpeed reads the cutoff speed and records it in the device state.
func (p *Pump) CutoffSpeed(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.reportSpeed(ctx, "?3", &p.state.CutoffSpeed)
}

func (p *Pump) reportSpeed(ctx context.Context, cmd string, dst *int) (int, error) {
	v, err := p.reportInt(ctx, cmd)
	if err != nil {
		return 0, err
	}
	*dst = v
	p.refreshForecast()

	return v, nil
}

// EncoderPos returns the encoder count of the plunger axis.
func (p *Pump) EncoderPos(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.reportInt(ctx, "?4")
}

// CurrentPort returns the current valve position.
func (p *Pump) CurrentPort(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.currentPort(ctx)
}

func (p *Pump) currentPort(ctx context.Context) (int, error) {
	resp, err := p.sendRcv(ctx, "?6")
	if err != nil {
		return 0, err
	}

	text := strings.TrimSpace(resp.Text())
	if v, err := strconv.Atoi(text); err == nil {
		return v, nil
	}

	// three-way valves report a letter
	switch strings.ToLower(text) {
	case "i":
		return ValveInput, nil
	case "o":
		return ValveOutput, nil
	case "b":
		return ValveBypass, nil
	}

	return 0, fmt.Errorf("%w: %q for %q", ErrBadReply, resp.Text(), "?6")
}

// BufferStatus reports whether the command buffer holds commands (1) or is
// empty (0).
func (p *Pump) BufferStatus(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.reportInt(ctx, "?10")
}

// UpdateSpeeds reads the start, top and cutoff speeds.
func (p *Pump) UpdateSpeeds(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.updateSpeeds(ctx)
}

func (p *Pump) updateSpeeds(ctx context.Context) error {
	for _, r := range []struct {
		cmd string
		dst *int
	}{
		{"?1", &p.state.StartSpeed},
		{"?2", &p.state.TopSpeed},
		{"?3", &p.state.CutoffSpeed},
	} {
		if _, err := p.reportSpeed(ctx, r.cmd, r.dst); err != nil {
			return err
		}
	}

	return nil
}

// SyncState reads plunger position, valve port and speeds from the pump.
func (p *Pump) SyncState(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.syncState(ctx)
}

func (p *Pump) syncState(ctx context.Context) error {
	pos, err := p.reportInt(ctx, "?")
	if err != nil {
		return err
	}
	port, err := p.currentPort(ctx)
	if err != nil {
		return err
	}
	p.state.PlungerPos = pos
	p.state.ValvePort = port
	p.refreshForecast()

	return p.updateSpeeds(ctx)
}
