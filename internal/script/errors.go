package script

import (
	"errors"
	"strings"
)

var (
	// ErrFileNotFound is returned when a Read target cannot be resolved.
	ErrFileNotFound = errors.New("file not found")
	// ErrSelfRead is returned when a file tries to read itself.
	ErrSelfRead = errors.New("file reads itself")
	// ErrDeadLoop is returned when a Read descriptor repeats on the inclusion stack.
	ErrDeadLoop = errors.New("read commands lead to dead loop")
)

// LoadError is a load failure with the text shown to the player.
type LoadError struct {
	// Toast is the short on-screen message.
	Toast string
	// Log is the detailed message. Empty means Toast is logged.
	Log string
	// Stack holds the inclusion stack for dead loops, innermost last.
	Stack []string
	Err   error
}

func (e *LoadError) Error() string {
	msg := e.Log
	if msg == "" {
		msg = e.Toast
	}
	return strings.ReplaceAll(msg, "\n", ": ")
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
