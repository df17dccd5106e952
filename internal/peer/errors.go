package peer

import (
	"errors"
	"fmt"
)

var (
	ErrChannelNotOpen = errors.New("channel not open")
	ErrNotInRoom      = errors.New("not in a room")
	ErrServer         = errors.New("server error")
)

// OpError tags a failure with the operation and, when known, the peer.
type OpError struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *OpError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *OpError {
	return &OpError{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *OpError {
	return &OpError{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *OpError {
	return &OpError{Op: op, Err: err, Details: details}
}
