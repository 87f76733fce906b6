package peerconn

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/cenkalti/drizzle/internal/btconn"
	"github.com/cenkalti/drizzle/internal/peerprotocol"
	"github.com/cenkalti/drizzle/internal/peertest"
	"github.com/cenkalti/drizzle/internal/piece"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ourID = [20]byte{'-', 'D', 'Z', '0', '0', '0', '1', '-'}

var testConfig = Config{
	DialTimeout: time.Second,
	GapTimeout:  100 * time.Millisecond,
	MaxBacklog:  5,
}

func newTorrent(t *testing.T, size int, pieceLength uint32) ([]byte, piece.Pieces, *peertest.Seeder) {
	data := make([]byte, size)
	rand.New(rand.NewSource(1)).Read(data)
	info, err := peertest.Torrent(data, pieceLength)
	require.NoError(t, err)
	return data, piece.NewPieces(info), peertest.NewSeeder(info, data)
}

func connect(t *testing.T, s *peertest.Seeder, pieces piece.Pieces) *Conn {
	addr, err := s.Start()
	require.NoError(t, err)
	c := New(addr, pieces, s.Info.InfoHash, ourID, testConfig)
	assert.Equal(t, Connecting, c.State())
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Verified, c.State())
	assert.Equal(t, s.ID, c.ID())
	c.Run()
	assert.Equal(t, Active, c.State())
	return c
}

// download requests every block of p through c the way a worker does.
func download(t *testing.T, c *Conn, p *piece.Piece) {
	for {
		require.NoError(t, c.ReserveRequest(5*time.Second))
		b, ok := p.RequestBlock()
		if !ok {
			c.DecrementBacklog()
			if p.Downloaded() {
				return
			}
			require.NoError(t, c.WaitBacklogChange(5*time.Second))
			if c.Backlog() == 0 {
				p.InvalidateCorruptBlocks()
			}
			continue
		}
		require.NoError(t, c.SendRequest(p.Index, b))
	}
}

func TestDownloadPiece(t *testing.T) {
	defer leaktest.Check(t)()
	data, pieces, s := newTorrent(t, 3*piece.RequestLength+100, 2*piece.RequestLength)
	s.Delay = 10 * time.Millisecond
	defer s.Close()

	c := connect(t, s, pieces)
	defer c.Close()

	// Bitfield is sent right after handshake.
	assert.Eventually(t, func() bool { return c.Has(0) }, time.Second, 10*time.Millisecond)
	assert.True(t, c.Has(1))
	assert.Equal(t, "c0", c.Bitfield().Hex())

	assert.True(t, c.Flags().PeerChoking)
	require.NoError(t, c.SendInterested())
	require.NoError(t, c.WaitUnchoke(time.Second))
	assert.Equal(t, Flags{AmChoking: true, AmInterested: true}, c.Flags())

	for _, p := range pieces {
		download(t, c, p)
		ok, err := p.Validate()
		require.NoError(t, err)
		assert.True(t, ok)
	}
	var buf bytes.Buffer
	_, err := pieces.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, data, buf.Bytes())
	assert.Equal(t, int64(len(data)), c.BytesDownloaded())
	assert.Equal(t, 0, c.Backlog())
	assert.LessOrEqual(t, s.MaxOutstanding(), 5)
}

func TestBacklogLimit(t *testing.T) {
	defer leaktest.Check(t)()
	_, pieces, s := newTorrent(t, 20*piece.RequestLength, 20*piece.RequestLength)
	s.Delay = 20 * time.Millisecond
	defer s.Close()

	c := connect(t, s, pieces)
	defer c.Close()
	require.NoError(t, c.SendInterested())

	download(t, c, pieces[0])
	assert.Equal(t, 5, s.MaxOutstanding())
	assert.Len(t, s.Requests(), 20)
}

func TestChokeResetsBacklog(t *testing.T) {
	defer leaktest.Check(t)()
	_, pieces, s := newTorrent(t, 8*piece.RequestLength, 8*piece.RequestLength)
	s.Delay = 10 * time.Millisecond
	s.ChokeAfter = 2
	defer s.Close()

	c := connect(t, s, pieces)
	defer c.Close()
	require.NoError(t, c.SendInterested())

	download(t, c, pieces[0])
	ok, err := pieces[0].Validate()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, len(s.Requests()), 8)
}

func TestCorruptBlock(t *testing.T) {
	defer leaktest.Check(t)()
	_, pieces, s := newTorrent(t, 2*piece.RequestLength, 2*piece.RequestLength)
	s.Corrupt = map[uint32]int{0: 1}
	defer s.Close()

	c := connect(t, s, pieces)
	defer c.Close()
	require.NoError(t, c.SendInterested())

	p := pieces[0]
	download(t, c, p)
	ok, err := p.Validate()
	assert.False(t, ok)
	var verr *piece.ValidationError
	require.True(t, errors.As(err, &verr))
	for _, b := range p.Blocks() {
		assert.False(t, b.Requested())
		assert.False(t, b.Have())
	}

	download(t, c, p)
	ok, err = p.Validate()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitUnchokeTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	_, pieces, s := newTorrent(t, 100, piece.RequestLength)
	s.KeepChoked = true
	defer s.Close()

	c := connect(t, s, pieces)
	defer c.Close()
	require.NoError(t, c.SendInterested())
	assert.Equal(t, ErrTimeout, c.WaitUnchoke(100*time.Millisecond))
	assert.Equal(t, ErrTimeout, c.ReserveRequest(100*time.Millisecond))
}

func TestUnknownMessageIgnored(t *testing.T) {
	defer leaktest.Check(t)()
	_, pieces, s := newTorrent(t, 100, piece.RequestLength)
	s.SendUnknown = true
	defer s.Close()

	c := connect(t, s, pieces)
	defer c.Close()
	require.NoError(t, c.SendInterested())
	require.NoError(t, c.WaitUnchoke(time.Second))
	assert.Equal(t, Active, c.State())
}

func TestPeerClosed(t *testing.T) {
	defer leaktest.Check(t)()
	_, pieces, s := newTorrent(t, 100, piece.RequestLength)

	c := connect(t, s, pieces)
	defer c.Close()
	s.Close()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop did not exit")
	}
	assert.Equal(t, Closed, c.State())
	assert.Equal(t, ErrClosed, c.WaitUnchoke(time.Second))
	assert.Error(t, c.Err())
}

func TestConnectFailed(t *testing.T) {
	defer leaktest.Check(t)()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	c := New(addr, nil, [20]byte{}, ourID, testConfig)
	err = c.Connect(context.Background())
	var cerr *btconn.ConnectError
	assert.True(t, errors.As(err, &cerr))
	assert.Equal(t, Failed, c.State())
	c.Close()
	assert.Equal(t, Failed, c.State())
}

var singlePiece = piece.Pieces{piece.New(0, 10, [20]byte{})}

// fakePeer runs the remote side of a handshake over a pipe.
func fakePeer(t *testing.T, ih [20]byte, pieces piece.Pieces) (*Conn, net.Conn) {
	local, remote := net.Pipe()
	done := make(chan error, 1)
	go func() {
		_, _, err := btconn.Accept(remote, time.Second, func(h [20]byte) bool { return h == ih }, [20]byte{1})
		done <- err
	}()
	c := New("pipe", pieces, ih, ourID, testConfig)
	_, err := btconn.Handshake(context.Background(), local, time.Second, ih, ourID)
	require.NoError(t, err)
	require.NoError(t, <-done)
	c.conn = local
	c.state = Verified
	return c, remote
}

func TestKeepAliveReply(t *testing.T) {
	defer leaktest.Check(t)()
	c, remote := fakePeer(t, [20]byte{2}, singlePiece)
	defer remote.Close()
	c.Run()
	defer c.Close()

	require.NoError(t, peerprotocol.WriteKeepAlive(remote))
	var buf [4]byte
	_, err := remote.Read(buf[:])
	require.NoError(t, err)
	assert.Equal(t, [4]byte{}, buf)
}

func TestFramingErrorClosesConnection(t *testing.T) {
	defer leaktest.Check(t)()
	c, remote := fakePeer(t, [20]byte{3}, singlePiece)
	defer remote.Close()
	c.Run()
	defer c.Close()

	// Have message with a 2 byte payload.
	_, err := remote.Write([]byte{0, 0, 0, 3, 4, 0, 0})
	require.NoError(t, err)
	<-c.Done()
	var ferr *peerprotocol.FramingError
	assert.True(t, errors.As(c.Err(), &ferr))
	assert.Equal(t, Closed, c.State())
}

func TestLargeBitfield(t *testing.T) {
	defer leaktest.Check(t)()
	const numPieces = 140000
	pieces := make(piece.Pieces, numPieces)
	for i := range pieces {
		pieces[i] = piece.New(uint32(i), 1, [20]byte{})
	}
	c, remote := fakePeer(t, [20]byte{4}, pieces)
	defer remote.Close()
	c.Run()
	defer c.Close()

	data := bytes.Repeat([]byte{0xff}, numPieces/8)
	require.Greater(t, len(data), 1+8+piece.RequestLength)
	require.NoError(t, peerprotocol.WriteMessage(remote, peerprotocol.BitfieldMessage{Data: data}))
	assert.Eventually(t, func() bool { return c.Has(numPieces - 1) }, time.Second, 10*time.Millisecond)
	assert.True(t, c.Has(0))
	assert.Equal(t, Active, c.State())
}

func TestMessageTooLong(t *testing.T) {
	defer leaktest.Check(t)()
	c, remote := fakePeer(t, [20]byte{5}, singlePiece)
	defer remote.Close()
	c.Run()
	defer c.Close()

	// Length prefix of a piece message with a block twice the request length.
	_, err := remote.Write([]byte{0, 0, 0x80, 9})
	require.NoError(t, err)
	<-c.Done()
	assert.True(t, errors.Is(c.Err(), errMessageTooLong), "%v", c.Err())
	assert.NotContains(t, c.Err().Error(), "choke")
	assert.Equal(t, Closed, c.State())
}
