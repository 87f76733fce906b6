package btconn

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/cenkalti/drizzle/internal/gapreader"
)

// HandshakeLength is the size of the handshake message in bytes.
const HandshakeLength = 68

var pstr = [20]byte{19, 'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l'}

type handshake struct {
	Pstr     [20]byte
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

func writeHandshake(w io.Writer, ih [20]byte, id [20]byte) error {
	h := handshake{
		Pstr:     pstr,
		InfoHash: ih,
		PeerID:   id,
	}
	buf := bytes.NewBuffer(make([]byte, 0, HandshakeLength))
	_ = binary.Write(buf, binary.BigEndian, h)
	_, err := w.Write(buf.Bytes())
	return err
}

// readHandshake reads the whole handshake with a byte-gap timeout and checks the protocol string.
func readHandshake(r gapreader.DeadlineReader, gap time.Duration) (ih [20]byte, id [20]byte, err error) {
	var buf [HandshakeLength]byte
	_, err = gapreader.ReadFull(r, buf[:], gap)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		err = &HandshakeError{Err: err}
		return
	}
	var h handshake
	_ = binary.Read(bytes.NewReader(buf[:]), binary.BigEndian, &h)
	if h.Pstr != pstr {
		err = &HandshakeError{Err: errInvalidProtocol}
		return
	}
	return h.InfoHash, h.PeerID, nil
}
