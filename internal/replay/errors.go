package replay

import (
	"errors"
	"fmt"
)

// ReplayError reports a network or protocol failure while replaying a flow.
// Its message is attached to the flow.
type ReplayError struct {
	Msg string
	Err error
}

func (e *ReplayError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *ReplayError) Unwrap() error { return e.Err }

func replayErrorf(err error, format string, args ...interface{}) *ReplayError {
	return &ReplayError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// CommandError is returned to command callers, e.g. when a capture file
// cannot be read.
type CommandError struct {
	Msg string
	Err error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// OptionsError is returned when applying the client_replay option fails.
type OptionsError struct {
	Msg string
	Err error
}

func (e *OptionsError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *OptionsError) Unwrap() error { return e.Err }

// errKilled signals a hook abort through the worker.
var errKilled = errors.New("killed")
