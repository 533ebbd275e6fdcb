// Package config implements layered configuration for the controller service
// and the emulator.
//
// Precedence, lowest first: built-in defaults, a YAML file, then environment
// variables (PSG_* for the controller, PSGEMU_* for the emulator). The merged
// result is validated section by section.
package config
