// Package tecanapi implements the framing layer of the Tecan OEM
// communication protocol used by Cavro syringe pumps.
//
// # Frame Layout
//
// Every request and reply on the wire has the same shape:
//
//	[STX 0x02][address][sequence/status][payload...][ETX 0x03][checksum]
//
// The checksum is the XOR of every byte from STX through ETX inclusive.
//
// Requests carry the device address (logical address + 0x31) and a sequence
// byte. The sequence byte packs a 3-bit sequence number that rotates through
// 1..7 and a repeat flag:
//
//   - 0b00110sss for a fresh command
//   - 0b00111sss for a repeat of the previous command (the sender did not get
//     an answer and asks the pump to resend it)
//
// Replies are addressed to the master (0x30) and carry a status byte in place
// of the sequence byte. Bit 5 (the third bit of the binary string) is the
// ready flag and the low nibble is the error code.
//
// Framer owns the per-device sequence rotation; ParseFrame validates replies
// and tolerates leading noise on the line.
package tecanapi
