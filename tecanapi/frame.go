package tecanapi

import (
	"bytes"
	"errors"
	"fmt"
)

// Protocol control bytes.
const (
	// StartByte (STX) opens every frame.
	StartByte byte = 0x02
	// StopByte (ETX) terminates the payload; the checksum follows it.
	StopByte byte = 0x03

	// AddressOffset is added to a logical device address to form the wire address.
	AddressOffset = 0x31
	// MasterAddress is the address pumps use in their replies.
	MasterAddress byte = 0x30

	// MaxDeviceAddress is the highest single-device logical address ('?' on the wire).
	MaxDeviceAddress = 14

	// MinFrameLength is STX + address + status + ETX + checksum.
	MinFrameLength = 5

	// ExecuteCommand is appended to a command string to run it immediately.
	ExecuteCommand byte = 'R'
	// QueryStatus asks for the status byte only.
	QueryStatus byte = 'Q'
)

const (
	seqFresh  byte = 0x30 // 0b00110000
	seqRepeat byte = 0x38 // 0b00111000
	seqMask   byte = 0x07
	maxSeq    byte = 7
)

// Frame errors. All of them match ErrFrame with errors.Is.
var (
	ErrFrame            = errors.New("tecanapi: invalid frame")
	ErrNoStartByte      = fmt.Errorf("%w: start byte not found", ErrFrame)
	ErrNoStopByte       = fmt.Errorf("%w: stop byte not found", ErrFrame)
	ErrShortFrame       = fmt.Errorf("%w: frame too short", ErrFrame)
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrFrame)

	ErrInvalidAddress = errors.New("tecanapi: invalid device address")
)

// Checksum returns the XOR of all bytes in b.
func Checksum(b []byte) byte {
	var cs byte
	for _, v := range b {
		cs ^= v
	}

	return cs
}

// BuildFrame assembles a complete frame around payload. The checksum is
// computed over STX through ETX.
func BuildFrame(address, seqOrStatus byte, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+MinFrameLength)
	buf = append(buf, StartByte, address, seqOrStatus)
	buf = append(buf, payload...)
	buf = append(buf, StopByte)

	return append(buf, Checksum(buf))
}

// BuildReply builds a reply frame as a pump would send it to the master.
func BuildReply(status Status, data []byte) []byte {
	return BuildFrame(MasterAddress, byte(status), data)
}

// ParseFrame locates and validates one frame inside raw.
//
// Leading bytes before the start byte are ignored. It returns an error
// wrapping ErrFrame when the stop byte or checksum is missing, when the frame
// is shorter than MinFrameLength, or when the checksum does not verify.
// ParseFrame never panics on malformed input.
func ParseFrame(raw []byte) (*Response, error) {
	start := bytes.IndexByte(raw, StartByte)
	if start < 0 {
		return nil, ErrNoStartByte
	}

	rel := bytes.IndexByte(raw[start:], StopByte)
	if rel < 0 {
		return nil, ErrNoStopByte
	}

	etx := start + rel
	if etx+1 >= len(raw) {
		// checksum byte not received yet
		return nil, ErrShortFrame
	}

	frame := raw[start : etx+2]
	if len(frame) < MinFrameLength {
		return nil, fmt.Errorf("%w: got %d bytes, want at least %d", ErrShortFrame, len(frame), MinFrameLength)
	}

	body, cs := frame[:len(frame)-1], frame[len(frame)-1]
	if calc := Checksum(body); calc != cs {
		return nil, fmt.Errorf("%w: wire=0x%02X, computed=0x%02X", ErrChecksumMismatch, cs, calc)
	}

	resp := &Response{
		Address: frame[1],
		Status:  Status(frame[2]),
	}
	if payload := frame[3 : len(frame)-2]; len(payload) > 0 {
		resp.Data = bytes.Clone(payload)
	}

	return resp, nil
}

// Framer builds request frames for one logical device and owns its
// sequence number rotation.
//
// Framer is not goroutine-safe; transports serialize access per device.
type Framer struct {
	addr byte
	seq  byte
	cmd  []byte
}

// NewFramer creates a Framer for logical address deviceAddr (0..MaxDeviceAddress).
func NewFramer(deviceAddr int) (*Framer, error) {
	if deviceAddr < 0 || deviceAddr > MaxDeviceAddress {
		return nil, fmt.Errorf("%w: %d out of range [0, %d]", ErrInvalidAddress, deviceAddr, MaxDeviceAddress)
	}

	// seq starts at 7 so the first fresh frame carries 1
	return &Framer{addr: byte(deviceAddr) + AddressOffset, seq: maxSeq}, nil
}

// Address returns the wire address byte.
func (f *Framer) Address() byte { return f.addr }

// Seq returns the sequence number used by the most recent frame.
func (f *Framer) Seq() byte { return f.seq }

// Emit builds a fresh frame for cmd, advancing the sequence number.
// An empty cmd is legal and produces a status-only request.
func (f *Framer) Emit(cmd []byte) []byte {
	f.cmd = bytes.Clone(cmd)
	f.seq = f.seq%maxSeq + 1

	return BuildFrame(f.addr, seqFresh|f.seq, f.cmd)
}

// EmitByte builds a fresh frame whose payload is the single byte b.
func (f *Framer) EmitByte(b byte) []byte {
	return f.Emit([]byte{b})
}

// EmitRepeat rebuilds the previous command with the repeat flag set and the
// same sequence number.
func (f *Framer) EmitRepeat() []byte {
	return BuildFrame(f.addr, seqRepeat|(f.seq&seqMask), f.cmd)
}

// SeqNumber extracts the 3-bit sequence number from a request sequence byte.
func SeqNumber(seqByte byte) byte { return seqByte & seqMask }

// IsRepeat reports whether a request sequence byte has the repeat flag set.
func IsRepeat(seqByte byte) bool { return seqByte&seqRepeat == seqRepeat }
