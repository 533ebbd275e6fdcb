// Package emulator simulates the generator on a TCP line link.
//
// A Device holds the register file: the raw wire fields last written to
// every code. Frames are executed one at a time by a single worker in
// arrival order. Reads are answered from the registers, writes are stored,
// and measurement readings are derived from the channel 1 output signal.
// The Server accepts line-oriented clients, one frame per line, so the
// controller can use it as a "tcp" transport target.
package emulator
