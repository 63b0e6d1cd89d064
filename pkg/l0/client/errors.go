package client

import (
	"errors"
	"fmt"

	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

var (
	// ErrNoReply indicates no reply received from the instrument.
	// This happens when a reply is received for a latter command, and all
	// previous commands fail with this error.
	ErrNoReply = errors.New("no reply")
	// ErrClosed indicates the connection is gone.
	ErrClosed = errors.New("closed")
	// ErrNotRunning is the error reply of a voltmeter that is not logging.
	ErrNotRunning = errors.New("voltmeter not running")
)

// UnexpectedReplyError reports a reply not matching the request.
type UnexpectedReplyError struct {
	Code byte
	Arg  packet.Tag
}

// Error implements error.
func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("unexpected reply %q %q", e.Code, e.Arg.String())
}
