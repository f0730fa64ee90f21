// Package transport moves Tecan OEM frames between the host and Cavro pumps.
//
// A Link sends one command string and blocks until a valid reply frame
// arrives. Every implementation shares the same retry contract: the first
// attempt carries a fresh frame (new sequence number); when no valid reply
// arrives within the attempt's read window, later attempts carry a repeat
// frame (same sequence number, repeat flag set) with a backoff that grows with
// the attempt count. When all attempts are exhausted SendRcv returns an error
// wrapping ErrTimeout.
//
// # Serial Links
//
// Pumps on one RS-232 line are daisy-chained and distinguished by address.
// SerialLink instances for different addresses share one underlying port
// through a Registry. The Registry is reference counted: the port is opened by
// the first link and closed when the last link is closed. Opening a second
// link on the same path with different serial parameters fails with
// ErrPortConflict. Only one request is in flight on a shared port at a time.
//
// # Node Links
//
// NodeLink tunnels frames through an HTTP bridge:
//
//	GET http://<node>/syringe?LENGTH=<n>&SYRINGE=<hex frame>
//
// The bridge answers with a JSON envelope {"MSG": "<hex reply frame>"}.
//
// # Discovery
//
// Scan enumerates local serial ports and probes each with a status query,
// returning the ports and addresses that answered.
package transport
