package dbus

import (
	"errors"
	"fmt"
)

// ErrClosed indicates an operation on a closed connection. Pending calls
// and subscriptions outstanding at close time are resolved with an error
// wrapping ErrClosed.
var ErrClosed = errors.New("connection closed")

// FatalError reports a local failure: the request never reached the
// daemon, or a structural violation was found while encoding or decoding
// a message. Fatal errors are never retried; a decode-side FatalError
// aborts the current decode because a misparsed variant stream corrupts
// every subsequent read on the same message.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("dbus: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// CallError is an error reply from the daemon. Name is the D-Bus error
// name (e.g. "org.bluez.Error.Failed"), Message the daemon-supplied text.
type CallError struct {
	Name    string
	Message string
}

func (e *CallError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}
