package downloader

import (
	"context"
	"errors"
	"sync"

	"github.com/cenkalti/drizzle/internal/logger"
	"github.com/cenkalti/drizzle/internal/peerconn"
)

// ErrNoPeers is returned when every peer address is tried and no connected peer is left.
var ErrNoPeers = errors.New("no peers available")

// ConnectFunc opens a connection to addr and starts its read loop.
type ConnectFunc func(ctx context.Context, addr string) (*peerconn.Conn, error)

// PeerSource hands out connected peers to workers.
// Idle connections are reused before a new address is dialed. An address is dialed at most once.
type PeerSource struct {
	connect ConnectFunc
	log     logger.Logger

	m      sync.Mutex
	addrs  []string
	idle   []*peerconn.Conn
	parked []*peerconn.Conn
	all    []*peerconn.Conn
	failed int
	closed bool
}

// NewPeerSource returns a PeerSource that dials addrs in order using connect.
func NewPeerSource(addrs []string, connect ConnectFunc) *PeerSource {
	return &PeerSource{
		connect: connect,
		log:     logger.New("peer source"),
		addrs:   append([]string(nil), addrs...),
	}
}

// Acquire returns a connected peer that no other worker is using.
// Connection failures are logged and the next address is tried.
func (s *PeerSource) Acquire(ctx context.Context) (*peerconn.Conn, error) {
	for {
		s.m.Lock()
		if s.closed {
			s.m.Unlock()
			return nil, ErrNoPeers
		}
		for len(s.idle) > 0 {
			c := s.idle[0]
			s.idle = s.idle[1:]
			if c.State() == peerconn.Active {
				s.m.Unlock()
				return c, nil
			}
		}
		if len(s.addrs) == 0 {
			s.m.Unlock()
			return nil, ErrNoPeers
		}
		addr := s.addrs[0]
		s.addrs = s.addrs[1:]
		s.m.Unlock()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := s.connect(ctx, addr)
		if err != nil {
			s.log.Warningf("Cannot connect to peer %s: %s", addr, err)
			s.m.Lock()
			s.failed++
			s.m.Unlock()
			continue
		}
		s.m.Lock()
		if s.closed {
			s.m.Unlock()
			c.Close()
			return nil, ErrNoPeers
		}
		s.all = append(s.all, c)
		s.m.Unlock()
		return c, nil
	}
}

// Release gives back a peer that is still usable.
func (s *PeerSource) Release(c *peerconn.Conn) {
	s.m.Lock()
	defer s.m.Unlock()
	if c.State() == peerconn.Active && !s.closed {
		s.idle = append(s.idle, c)
	}
}

// Park gives back a peer that has no piece we can download now.
// It is not handed out again until Unpark is called.
func (s *PeerSource) Park(c *peerconn.Conn) {
	s.m.Lock()
	defer s.m.Unlock()
	if c.State() == peerconn.Active && !s.closed {
		s.parked = append(s.parked, c)
	}
}

// Unpark makes parked peers available to Acquire again.
func (s *PeerSource) Unpark() {
	s.m.Lock()
	s.idle = append(s.idle, s.parked...)
	s.parked = nil
	s.m.Unlock()
}

// Exhausted reports whether there are no more peers to hand out, including parked ones.
func (s *PeerSource) Exhausted() bool {
	s.m.Lock()
	defer s.m.Unlock()
	if len(s.addrs) > 0 {
		return false
	}
	for _, c := range s.idle {
		if c.State() == peerconn.Active {
			return false
		}
	}
	for _, c := range s.parked {
		if c.State() == peerconn.Active {
			return false
		}
	}
	return true
}

// Connected returns the number of peers with a running read loop.
func (s *PeerSource) Connected() int {
	s.m.Lock()
	defer s.m.Unlock()
	var n int
	for _, c := range s.all {
		if c.State() == peerconn.Active {
			n++
		}
	}
	return n
}

// Failed returns the number of addresses that could not be connected.
func (s *PeerSource) Failed() int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.failed
}

// Close closes every connection. Acquire fails after Close.
func (s *PeerSource) Close() {
	s.m.Lock()
	s.closed = true
	all := s.all
	s.idle = nil
	s.parked = nil
	s.m.Unlock()
	for _, c := range all {
		c.Close()
	}
}
