package device

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by session operations before Connect succeeds
// or after Close.
var ErrNotConnected = errors.New("device is not connected")

// ProtocolError reports a response line that does not match what the
// command's declared type requires. Line carries the offending response for
// diagnostics.
type ProtocolError struct {
	Line string
	Want string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected response %q (want %q)", e.Line, e.Want)
}

// UnknownCommandError reports a logical command name missing from the
// session's command table.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}
