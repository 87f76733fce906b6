package btconn

import (
	"net"
	"time"

	"github.com/cenkalti/drizzle/internal/logger"
)

// Accept BitTorrent handshake from the connection.
// hasInfoHash decides whether we serve the torrent requested by the remote peer.
func Accept(
	conn net.Conn,
	gapTimeout time.Duration,
	hasInfoHash func([20]byte) bool,
	ourID [20]byte) (
	peerID [20]byte, infoHash [20]byte, err error) {
	log := logger.New("conn <- " + conn.RemoteAddr().String())

	infoHash, peerID, err = readHandshake(conn, gapTimeout)
	if err != nil {
		return
	}
	if !hasInfoHash(infoHash) {
		err = &HandshakeError{Err: errInvalidInfoHash}
		return
	}
	if peerID == ourID {
		err = &HandshakeError{Err: errOwnConnection}
		return
	}
	if err = writeHandshake(conn, infoHash, ourID); err != nil {
		return
	}
	log.Debug("Handshake accepted")
	err = conn.SetDeadline(time.Time{})
	return
}
