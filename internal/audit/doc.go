// Package audit writes the append-only audit trail: one JSON line per
// control action and per frame crossing the link. The file is rotated with
// lumberjack.
package audit
