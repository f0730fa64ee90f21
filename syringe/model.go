package syringe

import (
	"fmt"
	"slices"
	"time"
)

// Range is an inclusive integer range.
type Range struct {
	Min int
	Max int
}

// Contains reports whether v lies within r.
func (r Range) Contains(v int) bool { return v >= r.Min && v <= r.Max }

// Valve positions of three-way (non-distributor) valves.
const (
	ValveInput  = 1
	ValveOutput = 2
	ValveBypass = 3
)

// Device error codes shared by the XCalibur family.
const (
	ErrCodeInitialization     = 1
	ErrCodeInvalidCommand     = 2
	ErrCodeInvalidOperand     = 3
	ErrCodeInvalidSequence    = 4
	ErrCodeEEPROMFailure      = 6
	ErrCodeNotInitialized     = 7
	ErrCodePlungerOverload    = 9
	ErrCodeValveOverload      = 10
	ErrCodePlungerMoveBlocked = 11
	ErrCodeCommandOverflow    = 15
)

// NumSpeedCodes is the number of entries of a speed code table (codes 0..40).
const NumSpeedCodes = 41

// Model holds the constant tables of one pump model.
//
// The built-in models are shared values; treat them as read-only and copy a
// Model before altering it.
type Model struct {
	Name string
	// Distributor is true for N-port distribution valves and false for
	// three-way valves addressed by ValveInput/ValveOutput/ValveBypass.
	Distributor  bool
	DefaultPorts int
	AllowedPorts []int

	// SpeedTable maps speed codes to top speeds in pulses/sec.
	SpeedTable [NumSpeedCodes]int
	// SpeedTableNotes records entries that were reconstructed rather than
	// taken verbatim from the OEM documentation.
	SpeedTableNotes []string

	StartSpeed  Range
	TopSpeed    Range
	CutoffSpeed Range
	Slope       Range

	// PlungerSteps is the full stroke in standard mode; microstep mode
	// multiplies it by MicrostepFactor.
	PlungerSteps    int
	MicrostepFactor int

	// factory defaults
	DefaultStartSpeed  int
	DefaultTopSpeed    int
	DefaultCutoffSpeed int
	DefaultSlope       int

	PortChangeTime time.Duration
	MaxDelay       time.Duration
	MaxRepeats     int
	MaxInitForce   int

	Errors map[int]string
	// RecoverableCodes trigger an automatic re-initialization and resend.
	RecoverableCodes []int
	// TransientCodes make ExtractToWaste switch to its fallback path.
	TransientCodes []int
}

// xcaliburSpeeds is the XCalibur speed code table in pulses/sec.
var xcaliburSpeeds = [NumSpeedCodes]int{
	6000, 5600, 5000, 4400, 3800, 3200, 2600, 2200, 2000, 1800,
	1600, 1400, 1200, 1000, 800, 600, 400, 200, 190, 180,
	170, 160, 150, 140, 130, 120, 110, 100, 90, 80,
	70, 60, 50, 40, 30, 20, 18, 16, 14, 12,
	10,
}

var xcaliburErrors = map[int]string{
	ErrCodeInitialization:     "Initialization Error",
	ErrCodeInvalidCommand:     "Invalid Command",
	ErrCodeInvalidOperand:     "Invalid Operand",
	ErrCodeInvalidSequence:    "Invalid Command Sequence",
	ErrCodeEEPROMFailure:      "EEPROM Failure",
	ErrCodeNotInitialized:     "Device Not Initialized",
	ErrCodePlungerOverload:    "Plunger Overload",
	ErrCodeValveOverload:      "Valve Overload",
	ErrCodePlungerMoveBlocked: "Plunger Move Not Allowed",
	ErrCodeCommandOverflow:    "Command Overflow",
}

func xcaliburBase() Model {
	return Model{
		SpeedTable:      xcaliburSpeeds,
		SpeedTableNotes: []string{"code 27 (100 pulses/sec) reconstructed; older tables list code 17 twice and omit 27"},

		StartSpeed:  Range{50, 1000},
		TopSpeed:    Range{5, 6000},
		CutoffSpeed: Range{50, 2700},
		Slope:       Range{1, 20},

		PlungerSteps:    3000,
		MicrostepFactor: 8,

		DefaultStartSpeed:  900,
		DefaultTopSpeed:    1400,
		DefaultCutoffSpeed: 900,
		DefaultSlope:       7,

		PortChangeTime: 200 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		MaxRepeats:     29999,
		MaxInitForce:   40,

		Errors:           xcaliburErrors,
		RecoverableCodes: []int{ErrCodeNotInitialized, ErrCodePlungerOverload, ErrCodeValveOverload},
		TransientCodes:   []int{ErrCodeInvalidOperand, ErrCodePlungerOverload, ErrCodeValveOverload, ErrCodeCommandOverflow},
	}
}

// XCaliburD is an XCalibur pump with a distribution valve.
var XCaliburD = func() *Model {
	m := xcaliburBase()
	m.Name = "XCaliburD"
	m.Distributor = true
	m.DefaultPorts = 9
	m.AllowedPorts = []int{3, 4, 6, 9, 12}

	return &m
}()

// XCalibur is an XCalibur pump with a three-way valve.
var XCalibur = func() *Model {
	m := xcaliburBase()
	m.Name = "XCalibur"
	m.DefaultPorts = 3
	m.AllowedPorts = []int{3}

	return &m
}()

// Models lists the built-in models by name.
var Models = map[string]*Model{
	XCaliburD.Name: XCaliburD,
	XCalibur.Name:  XCalibur,
}

// PlungerRange returns the absolute plunger range for the given step mode.
func (m *Model) PlungerRange(microstep bool) Range {
	if microstep {
		return Range{0, m.PlungerSteps * m.MicrostepFactor}
	}

	return Range{0, m.PlungerSteps}
}

// SpeedForCode returns the top speed selected by a speed code.
func (m *Model) SpeedForCode(code int) (int, error) {
	if code < 0 || code >= NumSpeedCodes {
		return 0, newValidationError("speed code", code, 0, NumSpeedCodes-1)
	}

	return m.SpeedTable[code], nil
}

// Recoverable reports whether an error code triggers re-initialization.
func (m *Model) Recoverable(code int) bool {
	return slices.Contains(m.RecoverableCodes, code)
}

// IsRecoverable reports whether err carries a recoverable device error code.
func (m *Model) IsRecoverable(err error) bool {
	code := ErrorCode(err)
	return code != 0 && m.Recoverable(code)
}

// IsTransient reports whether err carries a device error code that
// ExtractToWaste handles by switching to its fallback path.
func (m *Model) IsTransient(err error) bool {
	code := ErrorCode(err)
	return code != 0 && slices.Contains(m.TransientCodes, code)
}

// Error returns the SyringeError for a status error code.
func (m *Model) Error(code int) *SyringeError {
	return newSyringeError(code, m.Errors)
}

// CheckSpeedTable reports entries of the speed table that are not strictly
// slower than the previous code. A well-formed table returns nil.
func (m *Model) CheckSpeedTable() []string {
	var issues []string
	for code := 1; code < NumSpeedCodes; code++ {
		prev, cur := m.SpeedTable[code-1], m.SpeedTable[code]
		if cur >= prev {
			issues = append(issues, fmt.Sprintf("speed code %d (%d pulses/sec) is not slower than code %d (%d pulses/sec)", code, cur, code-1, prev))
		}
	}

	for code, speed := range m.SpeedTable {
		if speed <= 0 {
			issues = append(issues, fmt.Sprintf("speed code %d has non-positive speed %d", code, speed))
		}
	}

	return issues
}
