package syringe

import "fmt"

// Direction is the rotation direction of a distribution valve.
// CW moves towards increasing port numbers.
type Direction int

const (
	// CW rotates clockwise. Port changes use 'I', initialization uses 'Z'.
	CW Direction = iota
	// CCW rotates counterclockwise. Port changes use 'O', initialization uses 'Y'.
	CCW
)

func (d Direction) String() string {
	switch d {
	case CW:
		return "CW"
	case CCW:
		return "CCW"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// portLetter is the valve command letter for a move in direction d.
func (d Direction) portLetter() byte {
	if d == CCW {
		return 'O'
	}

	return 'I'
}

// initLetter is the initialization command letter for direction d.
func (d Direction) initLetter() byte {
	if d == CCW {
		return 'Y'
	}

	return 'Z'
}

// DeviceState is the confirmed state of a pump, as last reported by the
// device or adopted after a successful execution.
type DeviceState struct {
	PlungerPos int
	// ValvePort is 1..NumPorts, or ValveInput/ValveOutput/ValveBypass on
	// three-way valves. 0 means unknown.
	ValvePort   int
	StartSpeed  int
	TopSpeed    int
	CutoffSpeed int
	Slope       int
	Microstep   bool
}

// Forecast is the predicted state of a pump after the pending command chain
// executes. It shares DeviceState's layout but is a distinct type, so a
// forecast is never used as confirmed state without an explicit conversion.
type Forecast DeviceState

// Profile returns the speed profile used for move time estimates.
func (s DeviceState) Profile() SpeedProfile {
	return SpeedProfile{
		StartSpeed:  s.StartSpeed,
		TopSpeed:    s.TopSpeed,
		CutoffSpeed: s.CutoffSpeed,
		Slope:       s.Slope,
		Microstep:   s.Microstep,
	}
}

// Profile returns the speed profile used for move time estimates.
func (f Forecast) Profile() SpeedProfile {
	return DeviceState(f).Profile()
}

// speedSettings is a snapshot of the three speeds, used to restore them after
// a temporary speed change.
type speedSettings struct {
	start, top, cutoff int
}
