package btconn

import (
	"errors"
	"fmt"
	"net"
)

var (
	errInvalidProtocol = errors.New("invalid protocol string")
	errInvalidInfoHash = errors.New("invalid info hash")
	errOwnConnection   = errors.New("dropped own connection")
)

// ConnectError is returned when the TCP connection to a peer cannot be established.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %s", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Timeout reports whether the dial timed out.
func (e *ConnectError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// HandshakeError is returned when the peer sends a handshake that does not match ours
// or the connection ends before the handshake is complete.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return "handshake failed: " + e.Err.Error()
}

func (e *HandshakeError) Unwrap() error { return e.Err }
