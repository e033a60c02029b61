package relay

import (
	"github.com/cockroachdb/errors"
)

// Error taxonomy:
//
//   - Configuration errors are fatal at startup (exit 1 in cmd/relay-server).
//   - Protocol errors are logged; the offending packet is dropped; no
//     state is mutated.
//   - Transport errors arrive as typed Events and drive the cleanup state
//     machine; they are never fatal.
//   - Pool exhaustion is reported in-band (assignedPort == 0), not an error.
//   - Invariant drift is logged with best-effort recovery at the call site.
//
// cockroachdb/errors gives every wrapped error a recorded stack and safe
// structured fields without pulling in a bespoke error type per site.

// ErrKind distinguishes the configuration and protocol kinds of the
// taxonomy above for callers that branch on it.
type ErrKind int

const (
	ErrKindConfig ErrKind = iota
	ErrKindProtocol
)

type kindedError struct {
	kind ErrKind
	error
}

// Kind extracts the ErrKind attached by errConfigf/errProtocolf, or
// ErrKindProtocol as the default for errors without an attached kind.
func Kind(err error) ErrKind {
	var ke *kindedError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return ErrKindProtocol
}

func errConfigf(format string, args ...any) error {
	return &kindedError{kind: ErrKindConfig, error: errors.Newf(format, args...)}
}

// NewConfigError and WrapConfigError let cmd/relay-server report its own
// startup-time configuration failures (flag parsing, PID file setup)
// through the same kinded taxonomy as Config.Validate.
func NewConfigError(format string, args ...any) error {
	return errConfigf(format, args...)
}

func WrapConfigError(err error, format string, args ...any) error {
	return &kindedError{kind: ErrKindConfig, error: errors.Wrapf(err, format, args...)}
}

func errProtocolf(format string, args ...any) error {
	return &kindedError{kind: ErrKindProtocol, error: errors.Newf(format, args...)}
}

// wrapProtocol annotates err as a protocol-layer failure (logged, packet
// dropped, no state mutation) without discarding its cause.
func wrapProtocol(err error, format string, args ...any) error {
	return &kindedError{kind: ErrKindProtocol, error: errors.Wrapf(err, format, args...)}
}
