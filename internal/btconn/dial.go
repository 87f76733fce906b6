// Package btconn provides support for dialing and accepting BitTorrent connections.
package btconn

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/drizzle/internal/logger"
)

// Dial new connection to the address. Does the BitTorrent protocol handshake.
// Returns a net.Conn that is ready for sending/receiving BitTorrent peer protocol messages.
// Errors are *ConnectError or *HandshakeError.
func Dial(
	ctx context.Context,
	addr string,
	dialTimeout, gapTimeout time.Duration,
	ih [20]byte,
	ourID [20]byte) (
	conn net.Conn, peerID [20]byte, err error) {
	conn, err = Connect(ctx, addr, dialTimeout)
	if err != nil {
		return
	}
	peerID, err = Handshake(ctx, conn, gapTimeout, ih, ourID)
	if err != nil {
		conn.Close()
		conn = nil
	}
	return
}

// Connect opens a TCP connection to addr. Errors are *ConnectError.
func Connect(ctx context.Context, addr string, dialTimeout time.Duration) (net.Conn, error) {
	log := logger.New("conn -> " + addr)
	log.Debug("Connecting to peer...")
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	log.Debug("Connected")
	return conn, nil
}

// Handshake sends our handshake on an outgoing connection and reads the response
// with a byte-gap timeout of gapTimeout.
// The info hash in the response must match ours. Returns the id of the remote peer.
// The connection is closed if ctx is cancelled before the handshake completes.
func Handshake(ctx context.Context, conn net.Conn, gapTimeout time.Duration, ih [20]byte, ourID [20]byte) (peerID [20]byte, err error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if gapTimeout > 0 {
		if err = conn.SetWriteDeadline(time.Now().Add(gapTimeout)); err != nil {
			return
		}
	}
	if err = writeHandshake(conn, ih, ourID); err != nil {
		err = &ConnectError{Addr: conn.RemoteAddr().String(), Err: err}
		return
	}

	var ihRead [20]byte
	ihRead, peerID, err = readHandshake(conn, gapTimeout)
	if err != nil {
		return
	}
	if ihRead != ih {
		err = &HandshakeError{Err: errInvalidInfoHash}
		return
	}
	if peerID == ourID {
		err = &HandshakeError{Err: errOwnConnection}
		return
	}
	err = conn.SetDeadline(time.Time{})
	return
}
