// Package dispatch serializes outbound frames.
//
// A single goroutine pulls frames from a FIFO queue and writes them to the
// attached transport session one at a time, pausing for a fixed settle
// delay after each write so the device can answer before the next frame.
// Enqueue never blocks; Submit waits for the write and the settle delay.
// With no session attached frames are rejected with a NotConnectedError and
// are not kept for a later link.
package dispatch
