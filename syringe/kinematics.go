package syringe

import (
	"math"
	"time"
)

// SpeedProfile holds the parameters of the plunger velocity profile.
type SpeedProfile struct {
	StartSpeed  int // pulses/sec
	TopSpeed    int // pulses/sec
	CutoffSpeed int // pulses/sec
	Slope       int // slope code; acceleration is Slope*2500 pulses/sec²
	Microstep   bool
}

// slopeUnit is the acceleration per slope code in pulses/sec².
const slopeUnit = 2500.0

// PlungerMoveTime estimates the time in seconds for a plunger move of steps
// using Tecan's kinematic model.
//
// The plunger ramps from the start speed towards the top speed and ramps down
// to the cutoff speed before stopping. Three cases exist:
//
//  1. the theoretical peak speed stays below the cutoff speed: the plunger
//     accelerates for the whole move and stops at the cutoff;
//  2. the peak exceeds the cutoff but not the top speed: a triangular profile
//     ramping up and then down to the cutoff;
//  3. the top speed is reached: a trapezoid with a constant-speed phase.
//
// Distances are in half-steps (two per step). In microstep mode steps are
// divided by 8 first. Invalid profiles yield 0.
func PlungerMoveTime(steps int, sp SpeedProfile) float64 {
	s := math.Abs(float64(steps))
	if sp.Microstep {
		s /= 8
	}
	if s == 0 || sp.Slope <= 0 || sp.TopSpeed <= 0 || sp.StartSpeed <= 0 || sp.CutoffSpeed <= 0 {
		return 0
	}

	a := float64(sp.Slope) * slopeUnit
	top := float64(sp.TopSpeed)
	// the firmware never starts or stops faster than the top speed
	start := math.Min(float64(sp.StartSpeed), top)
	cutoff := math.Min(float64(sp.CutoffSpeed), top)

	if start == top && cutoff == top {
		return 2 * s / top
	}

	peak := math.Sqrt(4*s*a + start*start)
	if peak < cutoff {
		return (peak - start) / a
	}

	peak = math.Sqrt(2*s*a + (start*start+cutoff*cutoff)/2)
	if peak < top {
		return (2*peak - start - cutoff) / a
	}

	rampUp := (top*top - start*start) / (2 * a)
	rampDown := (top*top - cutoff*cutoff) / (2 * a)
	constant := math.Max(0, 2*s-rampUp-rampDown)

	return (top-start)/a + (top-cutoff)/a + constant/top
}

// seconds converts a float second count to a Duration.
func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
