package syringe

import (
	"context"
	"math"
	"time"
)

// VolumeToSteps converts a volume in µL to plunger steps.
func (cfg *Config) VolumeToSteps(volumeUL float64, microstep bool) int {
	stroke := cfg.model.PlungerRange(microstep).Max
	return int(math.Round(volumeUL * float64(stroke) / float64(cfg.syringeUL)))
}

// volumeSteps validates a volume and converts it using the forecast step mode.
func (p *Pump) volumeSteps(volumeUL float64) (int, error) {
	if math.IsNaN(volumeUL) || volumeUL < 0 || volumeUL > float64(p.cfg.syringeUL) {
		return 0, &ValidationError{Param: "volume ul", Value: volumeUL, Min: 0, Max: float64(p.cfg.syringeUL)}
	}

	return p.cfg.VolumeToSteps(volumeUL, p.chain.sim.Microstep), nil
}

// Extract draws volumeUL through port.
func (p *Pump) Extract(ctx context.Context, port int, volumeUL float64, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(o *chainOptions) error {
		steps, err := p.volumeSteps(volumeUL)
		if err != nil {
			return err
		}
		if err := p.changePort(port, o); err != nil {
			return err
		}
		p.movePlungerRel(steps)

		return nil
	})
}

// Dispense pushes volumeUL out through port.
func (p *Pump) Dispense(ctx context.Context, port int, volumeUL float64, opts ...ChainOption) (time.Duration, error) {
	return p.run(ctx, opts, func(o *chainOptions) error {
		steps, err := p.volumeSteps(volumeUL)
		if err != nil {
			return err
		}
		if err := p.changePort(port, o); err != nil {
			return err
		}
		p.movePlungerRel(-steps)

		return nil
	})
}

// ExtractToWaste draws volumeUL through inPort and always executes.
//
// If the extract would run past the end of the stroke, or the pump rejects it
// with a transient error, the syringe is first emptied through outPort (the
// configured waste port when 0) at full speed, then refilled from inPort with
// the previous speeds.
//
// Execute has no effect. FromPort and WithDirection apply to the first valve
// move of the chain; after a transient rejection the valve is known to sit at
// inPort and the direction of the retry is picked from the port distance.
func (p *Pump) ExtractToWaste(ctx context.Context, inPort int, volumeUL float64, outPort int, opts ...ChainOption) (time.Duration, error) {
	o := newChainOptions(opts)

	p.mu.Lock()
	defer p.mu.Unlock()

	if outPort == 0 {
		outPort = p.cfg.wastePort
	}

	steps, err := p.volumeSteps(volumeUL)
	if err != nil {
		return 0, err
	}
	if err := p.validatePort("in port", inPort); err != nil {
		return 0, err
	}
	if err := p.validatePort("out port", outPort); err != nil {
		return 0, err
	}

	first := &chainOptions{from: o.from, hasFrom: o.hasFrom, direction: o.direction, hasDir: o.hasDir}
	stroke := p.model.PlungerRange(p.chain.sim.Microstep).Max
	if p.chain.sim.PlungerPos+steps <= stroke {
		if err := p.changePort(inPort, first); err != nil {
			return 0, err
		}
		p.movePlungerRel(steps)

		wait, err := p.executeChain(ctx, o.minimal)
		if err == nil || !p.model.IsTransient(err) {
			return wait, err
		}

		p.logger.Info("syringe: extract rejected, emptying to waste", "inPort", inPort, "outPort", outPort, "error", err)
		p.discardChain()
		if err := p.waitReady(ctx); err != nil {
			return 0, err
		}
		first = &chainOptions{from: inPort, hasFrom: true}
	}

	if err := p.emptyAndRefill(inPort, outPort, steps, first); err != nil {
		p.discardChain()
		return 0, err
	}

	return p.executeChain(ctx, o.minimal)
}

// emptyAndRefill appends: dump to outPort at full speed, home the plunger,
// return to inPort with the previous speeds and extract steps.
func (p *Pump) emptyAndRefill(inPort, outPort, steps int, first *chainOptions) error {
	if err := p.changePort(outPort, first); err != nil {
		return err
	}

	sim := p.chain.sim
	cached := speedSettings{start: sim.StartSpeed, top: sim.TopSpeed, cutoff: sim.CutoffSpeed}

	if err := p.setSpeed(0); err != nil {
		return err
	}
	if err := p.movePlungerAbs(0); err != nil {
		return err
	}
	if err := p.changePort(inPort, &chainOptions{from: outPort, hasFrom: true}); err != nil {
		return err
	}
	if err := p.restoreSpeeds(cached); err != nil {
		return err
	}
	p.movePlungerRel(steps)

	return nil
}

func (p *Pump) restoreSpeeds(s speedSettings) error {
	m := p.model
	if err := p.setSpeedParam('V', "top speed", s.top, m.TopSpeed, &p.chain.sim.TopSpeed); err != nil {
		return err
	}
	if err := p.setSpeedParam('c', "cutoff speed", s.cutoff, m.CutoffSpeed, &p.chain.sim.CutoffSpeed); err != nil {
		return err
	}

	return p.setSpeedParam('v', "start speed", s.start, m.StartSpeed, &p.chain.sim.StartSpeed)
}
