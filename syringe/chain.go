package syringe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-cavro/tecanapi"
)

// chain is the buffer of commands not yet sent, with the forecast of the
// state after they execute.
type chain struct {
	cmds []string
	// execTime is the estimated execution time in seconds.
	execTime    float64
	sim         Forecast
	speedChange bool

	// start of the current repeat segment (MarkRepeatStart)
	markTime float64
	markPos  int
}

func newChain(s DeviceState) chain {
	return chain{sim: Forecast(s), markPos: s.PlungerPos}
}

func (c *chain) empty() bool { return len(c.cmds) == 0 }

func (c *chain) command() string { return strings.Join(c.cmds, "") }

func (c *chain) add(cmd string, secs float64) {
	c.cmds = append(c.cmds, cmd)
	c.execTime += secs
}

// discardChain drops pending commands and resets the forecast to the
// confirmed state.
func (p *Pump) discardChain() {
	p.chain = newChain(p.state)
}

// refreshForecast follows state changes while no chain is pending.
func (p *Pump) refreshForecast() {
	if p.chain.empty() {
		p.chain = newChain(p.state)
	}
}

// PendingCommands returns the command string that ExecuteChain would send,
// without the execute suffix.
func (p *Pump) PendingCommands() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.chain.command()
}

// Estimate returns the estimated execution time of the pending chain.
func (p *Pump) Estimate() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return seconds(p.chain.execTime)
}

type chainOptions struct {
	execute   bool
	minimal   bool
	from      int
	hasFrom   bool
	direction Direction
	hasDir    bool
}

// ChainOption modifies a chainable operation.
type ChainOption func(*chainOptions)

// Execute flushes the chain right after the operation is appended. The
// operation then returns the estimated remaining execution time.
func Execute() ChainOption {
	return func(o *chainOptions) { o.execute = true }
}

// MinimalReset makes an executed chain adopt the forecast as confirmed state
// instead of polling the pump.
func MinimalReset() ChainOption {
	return func(o *chainOptions) { o.minimal = true }
}

// FromPort sets the port a valve move starts from, used to pick the
// rotation direction. By default the forecast port is used.
func FromPort(port int) ChainOption {
	return func(o *chainOptions) {
		o.from = port
		o.hasFrom = true
	}
}

// WithDirection forces the rotation direction of a valve move.
func WithDirection(d Direction) ChainOption {
	return func(o *chainOptions) {
		o.direction = d
		o.hasDir = true
	}
}

func newChainOptions(opts []ChainOption) *chainOptions {
	o := &chainOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// run appends to the chain under the pump lock and executes it if requested.
// add must validate everything before appending anything.
func (p *Pump) run(ctx context.Context, opts []ChainOption, add func(o *chainOptions) error) (time.Duration, error) {
	o := newChainOptions(opts)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := add(o); err != nil {
		return 0, err
	}
	if !o.execute {
		return 0, nil
	}

	return p.executeChain(ctx, o.minimal)
}

// PortDirection returns the rotation direction for a move between two ports:
// clockwise unless the port distance reaches threshold, in which case the
// opposite direction is shorter.
func PortDirection(from, to, threshold int) Direction {
	diff := to - from
	if diff >= threshold || -diff >= threshold {
		diff = -diff
	}
	if diff < 0 {
		return CCW
	}

	return CW
}

var threeWayLetters = map[int]byte{ValveInput: 'I', ValveOutput: 'O', ValveBypass: 'B'}

func (p *Pump) validatePort(param string, port int) error {
	if port < 1 || port > p.cfg.numPorts {
		return newValidationError(param, port, 1, p.cfg.numPorts)
	}

	return nil
}

// ChangePort moves the valve to port to.
//
// On distribution valves the direction minimizes travel from the forecast
// port (or FromPort); WithDirection overrides it. On three-way valves to is
// ValveInput, ValveOutput or ValveBypass and WithDirection is unsupported.
func (p *Pump) ChangePort(ctx context.Context, to int, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(o *chainOptions) error {
		return p.changePort(to, o)
	})
}

func (p *Pump) changePort(to int, o *chainOptions) error {
	if err := p.validatePort("port", to); err != nil {
		return err
	}

	var cmd string
	if p.model.Distributor {
		from := p.chain.sim.ValvePort
		if o.hasFrom {
			if err := p.validatePort("from port", o.from); err != nil {
				return err
			}
			from = o.from
		}
		if from == 0 {
			from = 1
		}

		dir := PortDirection(from, to, p.cfg.dirThreshold)
		if o.hasDir {
			dir = o.direction
		}
		cmd = fmt.Sprintf("%c%d", dir.portLetter(), to)
	} else {
		if o.hasDir {
			return fmt.Errorf("%w: %s valve has no rotation direction", ErrUnsupported, p.model.Name)
		}
		cmd = string(threeWayLetters[to])
	}

	p.chain.add(cmd, p.model.PortChangeTime.Seconds())
	p.chain.sim.ValvePort = to

	return nil
}

// MovePlungerAbs moves the plunger to the absolute position pos.
func (p *Pump) MovePlungerAbs(ctx context.Context, pos int, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		return p.movePlungerAbs(pos)
	})
}

func (p *Pump) movePlungerAbs(pos int) error {
	r := p.model.PlungerRange(p.chain.sim.Microstep)
	if !r.Contains(pos) {
		return newValidationError("plunger position", pos, r.Min, r.Max)
	}

	delta := pos - p.chain.sim.PlungerPos
	p.chain.add(fmt.Sprintf("A%d", pos), PlungerMoveTime(delta, p.chain.sim.Profile()))
	p.chain.sim.PlungerPos = pos

	return nil
}

// MovePlungerRel moves the plunger by steps: positive extracts (P),
// negative dispenses (D). The move is not range checked; the firmware
// rejects moves beyond the stroke with error 3.
func (p *Pump) MovePlungerRel(ctx context.Context, steps int, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		p.movePlungerRel(steps)
		return nil
	})
}

func (p *Pump) movePlungerRel(steps int) {
	cmd := fmt.Sprintf("P%d", steps)
	if steps < 0 {
		cmd = fmt.Sprintf("D%d", -steps)
	}

	p.chain.add(cmd, PlungerMoveTime(steps, p.chain.sim.Profile()))
	p.chain.sim.PlungerPos += steps
}

// SetSpeed selects the top speed by speed code (0 fastest, 40 slowest).
func (p *Pump) SetSpeed(ctx context.Context, code int, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		return p.setSpeed(code)
	})
}

func (p *Pump) setSpeed(code int) error {
	top, err := p.model.SpeedForCode(code)
	if err != nil {
		return err
	}

	sim := &p.chain.sim
	p.chain.add(fmt.Sprintf("S%d", code), 0)
	sim.TopSpeed = top
	sim.StartSpeed = min(sim.StartSpeed, top)
	sim.CutoffSpeed = min(sim.CutoffSpeed, top)
	p.chain.speedChange = true

	return nil
}

// SetStartSpeed sets the start speed in pulses/sec.
func (p *Pump) SetStartSpeed(ctx context.Context, pps int, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		return p.setSpeedParam('v', "start speed", pps, p.model.StartSpeed, &p.chain.sim.StartSpeed)
	})
}

// SetTopSpeed sets the top speed in pulses/sec.
func (p *Pump) SetTopSpeed(ctx context.Context, pps int, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		return p.setSpeedParam('V', "top speed", pps, p.model.TopSpeed, &p.chain.sim.TopSpeed)
	})
}

// SetCutoffSpeed sets the cutoff speed in pulses/sec.
func (p *Pump) SetCutoffSpeed(ctx context.Context, pps int, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		return p.setSpeedParam('c', "cutoff speed", pps, p.model.CutoffSpeed, &p.chain.sim.CutoffSpeed)
	})
}

// SetSlope sets the acceleration slope code.
func (p *Pump) SetSlope(ctx context.Context, slope int, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		return p.setSpeedParam('L', "slope", slope, p.model.Slope, &p.chain.sim.Slope)
	})
}

func (p *Pump) setSpeedParam(letter byte, param string, v int, r Range, dst *int) error {
	if !r.Contains(v) {
		return newValidationError(param, v, r.Min, r.Max)
	}

	p.chain.add(fmt.Sprintf("%c%d", letter, v), 0)
	*dst = v
	p.chain.speedChange = true

	return nil
}

// SetMicrostep switches microstep mode. Forecast positions are rescaled.
func (p *Pump) SetMicrostep(ctx context.Context, on bool, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		p.setMicrostep(on)
		return nil
	})
}

func (p *Pump) setMicrostep(on bool) {
	sim := &p.chain.sim
	cmd := "N0"
	if on {
		cmd = "N1"
	}
	p.chain.add(cmd, 0)

	if sim.Microstep != on {
		if on {
			sim.PlungerPos *= p.model.MicrostepFactor
		} else {
			sim.PlungerPos /= p.model.MicrostepFactor
		}
	}
	sim.Microstep = on
	p.chain.speedChange = true
}

// DelayExec pauses execution for d, in whole milliseconds.
func (p *Pump) DelayExec(ctx context.Context, d time.Duration, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		ms := int(d / time.Millisecond)
		maxMS := int(p.model.MaxDelay / time.Millisecond)
		if ms < 1 || ms > maxMS {
			return newValidationError("delay ms", ms, 1, maxMS)
		}
		p.chain.add(fmt.Sprintf("M%d", ms), float64(ms)/1000)

		return nil
	})
}

// MarkRepeatStart marks the start of a command sequence repeated by
// RepeatCmdSeq.
func (p *Pump) MarkRepeatStart(ctx context.Context, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		p.chain.add("g", 0)
		p.chain.markTime = p.chain.execTime
		p.chain.markPos = p.chain.sim.PlungerPos

		return nil
	})
}

// RepeatCmdSeq runs the commands since MarkRepeatStart (or the chain start)
// n times in total. The time estimate and plunger forecast of that segment
// are scaled accordingly.
func (p *Pump) RepeatCmdSeq(ctx context.Context, n int, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		if n < 1 || n > p.model.MaxRepeats {
			return newValidationError("repeats", n, 1, p.model.MaxRepeats)
		}

		c := &p.chain
		segment := c.execTime - c.markTime
		delta := c.sim.PlungerPos - c.markPos
		c.add(fmt.Sprintf("G%d", n), 0)
		c.execTime = c.markTime + segment*float64(n)
		c.sim.PlungerPos = c.markPos + delta*n

		return nil
	})
}

// HaltExec halts execution until the given input goes low
// (0 either input, 1 input 1, 2 input 2).
func (p *Pump) HaltExec(ctx context.Context, input int, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(*chainOptions) error {
		if input < 0 || input > 2 {
			return newValidationError("halt input", input, 0, 2)
		}
		p.chain.add(fmt.Sprintf("H%d", input), 0)

		return nil
	})
}

// ExecuteChain sends the pending chain as one command with the execute suffix
// and returns the estimated time until the pump finishes.
//
// With minimalReset the forecast becomes the confirmed state. Otherwise, or
// when the pump had to be re-initialized to accept the chain, the pump is
// polled until ready and its state is read back. On any error the chain is
// discarded.
func (p *Pump) ExecuteChain(ctx context.Context, minimalReset bool) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.executeChain(ctx, minimalReset)
}

func (p *Pump) executeChain(ctx context.Context, minimal bool) (time.Duration, error) {
	c := p.chain
	p.discardChain()

	start := time.Now()
	p.recovered = false
	if _, err := p.sendRcv(ctx, c.command()+string(tecanapi.ExecuteCommand)); err != nil {
		return 0, err
	}

	// the forecast was computed from the position before re-initialization
	if minimal && !p.recovered {
		p.state = DeviceState(c.sim)
		p.discardChain()
	} else {
		if c.speedChange {
			p.state.Slope = c.sim.Slope
			p.state.Microstep = c.sim.Microstep
		}
		err := p.waitReady(ctx)
		if err == nil {
			err = p.syncState(ctx)
		}
		p.discardChain()
		if err != nil {
			return 0, err
		}
	}

	return max(seconds(c.execTime)-time.Since(start), 0), nil
}

// ResetChain discards the pending chain and resets the forecast to the
// confirmed state.
//
// onExecute declares that the discarded chain was executed by the pump
// (for example through a raw command). Its speed, slope and microstep changes
// are then committed: taken from the forecast when minimalReset is set, else
// read back from the pump.
func (p *Pump) ResetChain(ctx context.Context, onExecute, minimalReset bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.chain
	p.discardChain()
	if !onExecute || !c.speedChange {
		return nil
	}
	defer p.discardChain()

	p.state.Slope = c.sim.Slope
	p.state.Microstep = c.sim.Microstep
	if minimalReset {
		p.state.StartSpeed = c.sim.StartSpeed
		p.state.TopSpeed = c.sim.TopSpeed
		p.state.CutoffSpeed = c.sim.CutoffSpeed

		return nil
	}

	return p.updateSpeeds(ctx)
}
