package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable means the engine process failed or exited. It is
	// fatal to the session that produced it.
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrCancelled means a request was cancelled or superseded.
	ErrCancelled = errors.New("engine request cancelled")
	// ErrProtocolTimeout means the engine never concluded a stopped search
	// and the job was force-cleared.
	ErrProtocolTimeout = errors.New("engine did not answer stop")
	// ErrClosed marks the end of a session that was closed on purpose. It
	// is always joined with ErrEngineUnavailable.
	ErrClosed = errors.New("engine session closed")
)

// OpError reports a failed session command.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
