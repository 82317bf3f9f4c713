// Package bperr defines the error kinds the engine recognizes, spec.md §7.
// They are sentinels wrapped with fmt.Errorf("%w: ...", ...) the way the
// teacher project wraps errors (no custom error framework anywhere in the
// pack), so callers match with errors.Is.
package bperr

import "errors"

var (
	// ErrInvalidArgs: malformed configuration dictionary, non-16-byte
	// broadcast code, unknown QoS key, or non-dict properties value.
	// Surfaced synchronously on SetConfiguration.
	ErrInvalidArgs = errors.New("invalid-args")

	// ErrUnableToConfigure: downstream transport rejected configure/qos.
	// Surfaced asynchronously on the pending request; stream is released.
	ErrUnableToConfigure = errors.New("failed: Unable to configure")

	// ErrCanceled: the Setup was torn down while a request was pending.
	ErrCanceled = errors.New("failed: Canceled")

	// ErrTransportIO: I/O channel HUP/ERR/NVAL before STREAMING. Treated as
	// disconnect; never surfaced to EIL except via a property change.
	ErrTransportIO = errors.New("transport-io")

	// ErrParse: BASE too short to hold its header. A length overrun inside a
	// subgroup does not produce this error: ParseBASE drops the remaining
	// subgroups and reports the drop through its onDrop callback.
	ErrParse = errors.New("parse-error")

	// ErrNotSupported: host lacks the ISO transport feature. Surfaced once
	// at engine initialization.
	ErrNotSupported = errors.New("not-supported")
)
