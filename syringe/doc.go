// Package syringe models Tecan Cavro XCalibur pumps on top of a transport
// link.
//
// A Pump keeps two views of the device: the confirmed DeviceState, refreshed
// by report commands, and a Forecast of the state after the pending command
// chain executes. Chainable operations validate their arguments against the
// Forecast, append a command fragment to the chain, update the Forecast and
// add to the chain's execution time estimate. Nothing reaches the pump until
// the chain is executed:
//
//	pump.ChangePort(ctx, 3)
//	pump.MovePlungerAbs(ctx, 1500)
//	wait, err := pump.ExecuteChain(ctx, false) // sends "I3A1500R"
//
// Passing Execute() to any chainable operation flushes the chain right after
// the operation is appended.
//
// Every command goes through a recovery wrapper: device errors discard the
// pending chain, and the recoverable codes of the model (not initialized,
// plunger overload, valve overload) re-initialize the pump once and resend
// the failed command once.
package syringe
