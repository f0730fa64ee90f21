package syringe

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrSyringeTimeout is returned when a pump did not become ready within
	// the ready timeout. It is distinct from transport.ErrTimeout, which means
	// the pump did not answer at all.
	ErrSyringeTimeout = errors.New("syringe: timeout while waiting for syringe to be ready to accept commands")
	// ErrUnsupported is returned for operations the pump model cannot express.
	ErrUnsupported = errors.New("syringe: operation not supported by model")
	// ErrBadReply is returned when a report command answers with data that
	// cannot be parsed.
	ErrBadReply = errors.New("syringe: unexpected reply data")
)

// ValidationError reports a parameter outside its documented range. It is
// returned before anything is sent to the pump.
type ValidationError struct {
	Param string
	Value float64
	Min   float64
	Max   float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("syringe: %s [%g] must be between %g and %g", e.Param, e.Value, e.Min, e.Max)
}

func newValidationError(param string, value, lo, hi int) *ValidationError {
	return &ValidationError{Param: param, Value: float64(value), Min: float64(lo), Max: float64(hi)}
}

// SyringeError is a non-zero error code reported in a pump's status byte.
type SyringeError struct {
	Code    int
	Message string
}

func (e *SyringeError) Error() string {
	return "syringe: " + e.Message
}

// newSyringeError looks code up in table. Unknown codes get a generic message.
func newSyringeError(code int, table map[int]string) *SyringeError {
	msg, ok := table[code]
	if !ok {
		return &SyringeError{Code: code, Message: "Unknown Error [" + strconv.Itoa(code) + "]"}
	}

	return &SyringeError{Code: code, Message: msg + " [" + strconv.Itoa(code) + "]"}
}

// ErrorCode returns the device error code carried by err, or 0.
func ErrorCode(err error) int {
	var serr *SyringeError
	if errors.As(err, &serr) {
		return serr.Code
	}

	return 0
}
