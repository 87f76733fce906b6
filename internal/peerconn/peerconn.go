// Package peerconn implements the downloading side of a connection to a single peer.
package peerconn

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/drizzle/internal/bitfield"
	"github.com/cenkalti/drizzle/internal/btconn"
	"github.com/cenkalti/drizzle/internal/logger"
	"github.com/cenkalti/drizzle/internal/piece"
	"github.com/juju/ratelimit"
)

var (
	// ErrClosed is returned from waiting methods after the connection is closed.
	ErrClosed = errors.New("peer connection is closed")
	// ErrTimeout is returned when a wait does not finish in the given duration.
	ErrTimeout = errors.New("timeout waiting for peer")
)

// Config of a peer connection.
type Config struct {
	// Timeout for opening the TCP connection.
	DialTimeout time.Duration
	// Maximum time allowed between two received bytes while reading the handshake.
	// In the message loop the same window is used to poll for data.
	GapTimeout time.Duration
	// Maximum number of outstanding block requests.
	MaxBacklog int
	// Limits the rate of received piece data. Shared between connections. May be nil.
	Bucket *ratelimit.Bucket
}

// Flags are the choke and interest states of both sides of a connection.
type Flags struct {
	PeerChoking    bool
	AmChoking      bool
	PeerInterested bool
	AmInterested   bool
}

// Conn is a connection to a peer that we download pieces from.
// The read loop started by Run updates the connection state and writes received blocks into pieces.
// A single worker sends requests with the Send methods.
type Conn struct {
	addr     string
	infoHash [20]byte
	ourID    [20]byte
	pieces   piece.Pieces
	config   Config
	log      logger.Logger

	conn net.Conn
	id   [20]byte

	// Protects the fields below. cond is broadcast on every change.
	m        sync.Mutex
	cond     *sync.Cond
	state    State
	flags    Flags
	bitfield *bitfield.Bitfield
	backlog  int
	err      error

	writeM sync.Mutex

	downloaded int64
	wasted     int64

	closeOnce sync.Once
	closeC    chan struct{}
	doneC     chan struct{}
	running   bool
}

// New returns a connection to addr in Connecting state. Connect must be called before Run.
func New(addr string, pieces piece.Pieces, infoHash, ourID [20]byte, cfg Config) *Conn {
	c := &Conn{
		addr:     addr,
		infoHash: infoHash,
		ourID:    ourID,
		pieces:   pieces,
		config:   cfg,
		log:      logger.New("peer " + addr),
		bitfield: bitfield.New(uint32(len(pieces))),
		flags:    Flags{PeerChoking: true, AmChoking: true},
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.m)
	return c
}

// Connect opens the TCP connection and does the handshake.
// On error the connection moves to Failed state and must not be used again.
func (c *Conn) Connect(ctx context.Context) error {
	conn, err := btconn.Connect(ctx, c.addr, c.config.DialTimeout)
	if err != nil {
		return c.connectFailed(err)
	}
	c.setState(HandshakeSent)
	c.log.Debug("Sending handshake")
	id, err := btconn.Handshake(ctx, conn, c.config.GapTimeout, c.infoHash, c.ourID)
	if err != nil {
		conn.Close()
		return c.connectFailed(err)
	}
	c.m.Lock()
	select {
	case <-c.closeC:
		c.m.Unlock()
		conn.Close()
		return ErrClosed
	default:
	}
	c.conn = conn
	c.id = id
	c.state = Verified
	c.cond.Broadcast()
	c.m.Unlock()
	c.log.Debugf("Handshake completed, peer id: %q", id[:])
	return nil
}

func (c *Conn) connectFailed(err error) error {
	c.m.Lock()
	c.state = Failed
	c.err = err
	c.cond.Broadcast()
	c.m.Unlock()
	c.closeOnce.Do(func() { close(c.closeC) })
	return err
}

// Run starts the read loop in a new goroutine. The connection must be in Verified state.
func (c *Conn) Run() {
	c.m.Lock()
	if c.state != Verified {
		c.m.Unlock()
		panic("peer connection is not verified")
	}
	c.state = Active
	c.running = true
	c.m.Unlock()
	go c.run()
}

// Close stops the read loop and closes the underlying net.Conn.
// It is safe to call Close more than once and from multiple goroutines.
func (c *Conn) Close() {
	c.m.Lock()
	conn := c.conn
	running := c.running
	if c.state != Failed {
		c.state = Closed
	}
	c.closeOnce.Do(func() {
		close(c.closeC)
		if conn != nil {
			conn.Close()
		}
	})
	c.cond.Broadcast()
	c.m.Unlock()
	if running {
		<-c.doneC
	}
}

// Done returns a channel that is closed when the read loop exits.
// It is never closed if Run is not called.
func (c *Conn) Done() <-chan struct{} {
	return c.doneC
}

// Err returns the error that closed the connection.
func (c *Conn) Err() error {
	c.m.Lock()
	defer c.m.Unlock()
	return c.err
}

// State returns the current state of the connection.
func (c *Conn) State() State {
	c.m.Lock()
	defer c.m.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.m.Lock()
	c.state = s
	c.cond.Broadcast()
	c.m.Unlock()
}

// Addr returns the address the connection is made to.
func (c *Conn) Addr() string { return c.addr }

// String returns the address of the peer.
func (c *Conn) String() string { return c.addr }

// ID returns the peer id received in handshake.
func (c *Conn) ID() [20]byte { return c.id }

// Flags returns a snapshot of choke and interest states.
func (c *Conn) Flags() Flags {
	c.m.Lock()
	defer c.m.Unlock()
	return c.flags
}

// Bitfield returns a copy of the pieces that the peer has.
func (c *Conn) Bitfield() *bitfield.Bitfield {
	c.m.Lock()
	defer c.m.Unlock()
	return c.bitfield.Copy()
}

// Has reports whether the peer has announced the piece.
func (c *Conn) Has(index uint32) bool {
	c.m.Lock()
	defer c.m.Unlock()
	return index < c.bitfield.Len() && c.bitfield.Test(index)
}

// BytesDownloaded returns the number of piece data bytes that were written into a requested block.
func (c *Conn) BytesDownloaded() int64 { return atomic.LoadInt64(&c.downloaded) }

// BytesWasted returns the number of piece data bytes that were not requested or had a wrong length.
func (c *Conn) BytesWasted() int64 { return atomic.LoadInt64(&c.wasted) }
