package btconn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	id1      = [20]byte{0x0C}
	id2      = [20]byte{0x0D}
	infoHash = [20]byte{0x0E}
)

func listen(t *testing.T) (*net.TCPListener, string) {
	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	return l, l.Addr().String()
}

func TestDialAccept(t *testing.T) {
	defer leaktest.Check(t)()
	l, addr := listen(t)
	defer l.Close()

	done := make(chan struct{})
	var gerr error
	go func() {
		defer close(done)
		conn, id, err2 := Dial(context.Background(), addr, time.Second, time.Second, infoHash, id1)
		if err2 != nil {
			gerr = err2
			return
		}
		conn.Close()
		if id != id2 {
			t.Errorf("id: %s", id)
		}
	}()
	conn, err := l.Accept()
	require.NoError(t, err)
	defer conn.Close()
	id, ih, err := Accept(conn, time.Second, func(ih [20]byte) bool { return ih == infoHash }, id2)
	require.NoError(t, err)
	<-done
	require.NoError(t, gerr)
	assert.Equal(t, infoHash, ih)
	assert.Equal(t, id1, id)
}

func TestHandshakeBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeHandshake(&buf, infoHash, id1))
	b := buf.Bytes()
	require.Len(t, b, HandshakeLength)
	assert.Equal(t, byte(19), b[0])
	assert.Equal(t, "BitTorrent protocol", string(b[1:20]))
	assert.Equal(t, make([]byte, 8), b[20:28])
	assert.Equal(t, infoHash[:], b[28:48])
	assert.Equal(t, id1[:], b[48:68])
}

// serve accepts one connection and replies with the given bytes after reading a handshake.
func serve(t *testing.T, l net.Listener, reply []byte) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := l.Accept()
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		if _, err = io.ReadFull(conn, make([]byte, HandshakeLength)); err != nil {
			t.Error(err)
			return
		}
		_, _ = conn.Write(reply)
		_, _ = io.Copy(io.Discard, conn)
	}()
	return done
}

func TestDialInfoHashMismatch(t *testing.T) {
	defer leaktest.Check(t)()
	l, addr := listen(t)
	defer l.Close()

	var reply bytes.Buffer
	require.NoError(t, writeHandshake(&reply, [20]byte{0xFF}, id2))
	done := serve(t, l, reply.Bytes())

	_, _, err := Dial(context.Background(), addr, time.Second, time.Second, infoHash, id1)
	var herr *HandshakeError
	require.True(t, errors.As(err, &herr), "%v", err)
	assert.Equal(t, errInvalidInfoHash, herr.Err)
	<-done
}

func TestDialInvalidProtocol(t *testing.T) {
	defer leaktest.Check(t)()
	l, addr := listen(t)
	defer l.Close()

	reply := bytes.Repeat([]byte{'x'}, HandshakeLength)
	done := serve(t, l, reply)

	_, _, err := Dial(context.Background(), addr, time.Second, time.Second, infoHash, id1)
	var herr *HandshakeError
	require.True(t, errors.As(err, &herr), "%v", err)
	assert.Equal(t, errInvalidProtocol, herr.Err)
	<-done
}

func TestDialShortHandshake(t *testing.T) {
	defer leaktest.Check(t)()
	l, addr := listen(t)
	defer l.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := l.Accept()
		if err != nil {
			return
		}
		_, _ = io.ReadFull(conn, make([]byte, HandshakeLength))
		_, _ = conn.Write(pstr[:])
		conn.Close()
	}()

	_, _, err := Dial(context.Background(), addr, time.Second, time.Second, infoHash, id1)
	var herr *HandshakeError
	require.True(t, errors.As(err, &herr), "%v", err)
	assert.Equal(t, io.ErrUnexpectedEOF, herr.Err)
	<-done
}

func TestDialGapTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	l, addr := listen(t)
	defer l.Close()

	done := serve(t, l, pstr[:5])

	start := time.Now()
	_, _, err := Dial(context.Background(), addr, time.Second, 100*time.Millisecond, infoHash, id1)
	var herr *HandshakeError
	require.True(t, errors.As(err, &herr), "%v", err)
	assert.True(t, time.Since(start) < time.Second)
	<-done
}

func TestDialRefused(t *testing.T) {
	l, addr := listen(t)
	l.Close()

	_, _, err := Dial(context.Background(), addr, time.Second, time.Second, infoHash, id1)
	var cerr *ConnectError
	require.True(t, errors.As(err, &cerr), "%v", err)
	assert.Equal(t, addr, cerr.Addr)
}
