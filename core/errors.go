package core

// Error taxonomy shared across the stack. Errors cross subsystem boundaries
// by kind only; descriptive detail is logged at the site of failure and not
// leaked to untrusted callers.

import "errors"

var (
	// ErrUnauthorized – identity mismatch, non-owner mutation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound – unknown domain, missing contract, missing peer.
	ErrNotFound = errors.New("not found")
	// ErrConflict – CAS mismatch; recoverable by re-reading and retrying.
	ErrConflict = errors.New("conflict")
	// ErrOutOfGas – gas limit would be exceeded; state is left untouched.
	ErrOutOfGas = errors.New("out of gas")
	// ErrResourceExhausted – rate limit, daily limit, cache full.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrTransient – storage or network hiccup; retry with backoff at the
	// boundary layer only.
	ErrTransient = errors.New("transient failure")
)

// isKind reports whether err wraps the given taxonomy sentinel.
func isKind(err, kind error) bool { return errors.Is(err, kind) }
