// Package bferrors declares the error kinds shared across the compiler,
// interpreter, emitter, and CLI.
package bferrors

import "github.com/pkg/errors"

// Sentinel error kinds. Call sites wrap these with errors.Wrap/Wrapf so
// errors.Cause(err) recovers the kind while the message carries the
// positional or contextual detail.
var (
	// ErrUnmatchedBracket: compiler-time, an unmatched '[' or ']'.
	ErrUnmatchedBracket = errors.New("unmatched bracket")
	// ErrIOFailure: a source file could not be opened, or an output sink
	// write failed.
	ErrIOFailure = errors.New("i/o failure")
	// ErrBadOption: malformed CLI option.
	ErrBadOption = errors.New("bad option")
	// ErrInvalidTarget: unrecognized -t target name.
	ErrInvalidTarget = errors.New("invalid target")
)

// Is reports whether err's cause is kind.
func Is(err error, kind error) bool {
	return errors.Cause(err) == kind
}
