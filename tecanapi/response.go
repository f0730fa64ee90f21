package tecanapi

import "fmt"

const (
	statusReadyBit  byte = 0x20
	statusErrorMask byte = 0x0F
)

// Status is the status byte of a pump reply.
type Status byte

// StatusReady is a ready, error-free status byte ('`').
const StatusReady Status = 0x60

// StatusBusy is a busy, error-free status byte ('@').
const StatusBusy Status = 0x40

// Ready reports whether the pump is idle and accepting commands.
func (s Status) Ready() bool { return byte(s)&statusReadyBit != 0 }

// ErrorCode returns the 4-bit error code; 0 means no error.
func (s Status) ErrorCode() int { return int(byte(s) & statusErrorMask) }

// WithError returns s with its error nibble replaced by code.
func (s Status) WithError(code int) Status {
	return Status(byte(s)&^statusErrorMask | byte(code)&statusErrorMask)
}

// String returns the 8-bit binary representation, e.g. "01100000".
func (s Status) String() string { return fmt.Sprintf("%08b", byte(s)) }

// Response is a parsed reply frame.
type Response struct {
	Address byte
	Status  Status
	// Data is nil when the reply carries no payload.
	Data []byte
}

// Text returns the payload as a string.
func (r *Response) Text() string { return string(r.Data) }
