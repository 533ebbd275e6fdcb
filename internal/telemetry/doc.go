// Package telemetry implements the engine event model and its fan-out: a hub
// with in-process subscriber channels, a replay ring buffer, server-sent
// events and a websocket bridge.
//
// Event types mirror what the engine reports: connection changes, frames
// sent and received, state changes, refresh progress, measurement updates
// and diagnostics for locally recoverable errors.
package telemetry
