// Package relayerr defines the sentinel error kinds used across the relay
// core: inbound routing errors terminate the offending connection,
// outbound-filter drops are silent, and registry misses reported to
// non-core callers are non-fatal signals rather than failures.
package relayerr

import "errors"

var (
	// ErrMalformed signals a frame that failed to decode: invalid JSON, an
	// empty kind/name, or a kind outside the five recognized values.
	// Policy: close the connection.
	ErrMalformed = errors.New("malformed frame")

	// ErrUnknownKind signals a frame whose kind the dispatch table has no
	// entry for at all (as opposed to a recognized kind with no matching
	// name and no wildcard, which is dropped silently).
	// Policy: close the connection.
	ErrUnknownKind = errors.New("unknown frame kind")

	// ErrAuthFailure signals a login attempt with a missing or invalid
	// bearer token. Policy: reply login-failed, stop the connection.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrAlreadyConnected signals a registry.add for an agent uuid that
	// already has a live connection. Policy: reply login-failed, stop.
	ErrAlreadyConnected = errors.New("agent already connected")

	// ErrNotConnected signals a registry operation against an agent uuid
	// with no live connection. Policy: non-fatal, returned to the caller
	// (the admin API collaborator decides what to do with it).
	ErrNotConnected = errors.New("agent not connected")

	// ErrBusUnavailable signals a publish/subscribe failure on the pub/sub
	// transport. Policy: stop the connection; removal from the registry
	// still runs.
	ErrBusUnavailable = errors.New("pub/sub bus unavailable")
)
