// Package auth verifies bearer tokens and enforces scopes on the control API.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public key
// or a JWKS endpoint). Every request except the health check needs a token
// when auth is enabled:
//   - read: state, status and capabilities
//   - control: connect, disconnect, parameter writes, raw frames, refresh
//   - telemetry: the event streams
//
// With auth disabled every request runs as the local operator with all
// scopes.
package auth
