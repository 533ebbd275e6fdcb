// Package command implements the controller that sits between the outer
// surfaces and the protocol engine.
//
// The controller validates requests, composes frames (including two-field
// frames that also carry the other channel's value), hands them to the
// dispatcher, writes audit records and owns the connection lifecycle:
// connect, initial refresh, link-loss detection and disconnect.
package command
