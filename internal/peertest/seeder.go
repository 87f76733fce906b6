// Package peertest provides an in-process seeding peer for tests.
package peertest

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/drizzle/internal/bitfield"
	"github.com/cenkalti/drizzle/internal/btconn"
	"github.com/cenkalti/drizzle/internal/logger"
	"github.com/cenkalti/drizzle/internal/metainfo"
	"github.com/cenkalti/drizzle/internal/peerprotocol"
)

// Torrent returns the metainfo of a single file torrent with the given content.
func Torrent(data []byte, pieceLength uint32) (*metainfo.MetaInfo, error) {
	b, err := metainfo.NewBytes("test.bin", bytes.NewReader(data), pieceLength, "http://127.0.0.1/announce")
	if err != nil {
		return nil, err
	}
	return metainfo.Parse(b)
}

// Seeder is a peer that serves a torrent from memory.
// Options must be set before Start.
type Seeder struct {
	Info *metainfo.MetaInfo
	Data []byte
	ID   [20]byte

	// Pieces announced in bitfield. All pieces if nil.
	Have []uint32
	// Number of times the first block of a piece is sent with corrupted data.
	Corrupt map[uint32]int
	// Delay before answering each request.
	Delay time.Duration
	// Never unchoke the downloader.
	KeepChoked bool
	// Close the connection after sending this many blocks. Zero means never.
	DropAfter int
	// Choke the downloader once after sending this many blocks, discard its pending requests
	// and unchoke again. Zero means never.
	ChokeAfter int
	// Send a message with an id outside the base protocol before the bitfield.
	SendUnknown bool

	log   logger.Logger
	l     net.Listener
	wg    sync.WaitGroup
	m     sync.Mutex
	conns map[net.Conn]struct{}

	outstanding    int
	maxOutstanding int
	requests       []peerprotocol.RequestMessage
	blocksSent     int
}

// NewSeeder returns a seeder that has every piece of data.
func NewSeeder(info *metainfo.MetaInfo, data []byte) *Seeder {
	return &Seeder{
		Info:  info,
		Data:  data,
		ID:    [20]byte{'-', 'S', 'E', 'E', 'D', '-'},
		log:   logger.New("seeder"),
		conns: make(map[net.Conn]struct{}),
	}
}

// Start listens on a random loopback port and returns its address.
func (s *Seeder) Start() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	s.l = l
	s.wg.Add(1)
	go s.acceptor()
	return l.Addr().String(), nil
}

// Close stops the listener and all connections.
func (s *Seeder) Close() {
	s.l.Close()
	s.m.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.m.Unlock()
	s.wg.Wait()
}

// MaxOutstanding returns the largest number of requests that were waiting for an answer at the same time.
func (s *Seeder) MaxOutstanding() int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.maxOutstanding
}

// Requests returns every request received.
func (s *Seeder) Requests() []peerprotocol.RequestMessage {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]peerprotocol.RequestMessage(nil), s.requests...)
}

func (s *Seeder) acceptor() {
	defer s.wg.Done()
	for {
		conn, err := s.l.Accept()
		if err != nil {
			return
		}
		s.m.Lock()
		s.conns[conn] = struct{}{}
		s.m.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

type seederConn struct {
	net.Conn
	writeM   sync.Mutex
	requestC chan peerprotocol.RequestMessage
	closeC   chan struct{}
}

func (c *seederConn) write(msg peerprotocol.Message) error {
	c.writeM.Lock()
	defer c.writeM.Unlock()
	return peerprotocol.WriteMessage(c.Conn, msg)
}

func (s *Seeder) serve(nc net.Conn) {
	defer s.wg.Done()
	defer func() {
		nc.Close()
		s.m.Lock()
		delete(s.conns, nc)
		s.m.Unlock()
	}()
	_, _, err := btconn.Accept(nc, 5*time.Second, func(ih [20]byte) bool { return ih == s.Info.InfoHash }, s.ID)
	if err != nil {
		s.log.Debugln("handshake error:", err)
		return
	}
	c := &seederConn{
		Conn:     nc,
		requestC: make(chan peerprotocol.RequestMessage, 1000),
		closeC:   make(chan struct{}),
	}
	defer close(c.closeC)

	if s.SendUnknown {
		if _, err = nc.Write([]byte{0, 0, 0, 3, 20, 'h', 'i'}); err != nil {
			return
		}
	}
	bf := bitfield.New(s.Info.NumPieces())
	if s.Have == nil {
		for i := uint32(0); i < bf.Len(); i++ {
			bf.Set(i)
		}
	} else {
		for _, i := range s.Have {
			bf.Set(i)
		}
	}
	if err = c.write(peerprotocol.BitfieldMessage{Data: bf.Bytes()}); err != nil {
		return
	}

	s.wg.Add(1)
	go s.writer(c)

	var lenBuf [4]byte
	for {
		if _, err = io.ReadFull(nc, lenBuf[:]); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		if length == 0 {
			continue
		}
		buf := make([]byte, length)
		if _, err = io.ReadFull(nc, buf); err != nil {
			return
		}
		msg, err := peerprotocol.Parse(length, buf)
		if err != nil {
			return
		}
		switch msg := msg.(type) {
		case peerprotocol.InterestedMessage:
			if !s.KeepChoked {
				if err = c.write(peerprotocol.UnchokeMessage{}); err != nil {
					return
				}
			}
		case peerprotocol.RequestMessage:
			s.m.Lock()
			s.requests = append(s.requests, msg)
			s.outstanding++
			if s.outstanding > s.maxOutstanding {
				s.maxOutstanding = s.outstanding
			}
			s.m.Unlock()
			c.requestC <- msg
		}
	}
}

func (s *Seeder) writer(c *seederConn) {
	defer s.wg.Done()
	for {
		select {
		case req := <-c.requestC:
			select {
			case <-time.After(s.Delay):
			case <-c.closeC:
				return
			}
			if err := s.answer(c, req); err != nil {
				c.Close()
				return
			}
		case <-c.closeC:
			return
		}
	}
}

func (s *Seeder) answer(c *seederConn, req peerprotocol.RequestMessage) error {
	offset := int64(req.Index)*int64(s.Info.PieceLength) + int64(req.Begin)
	data := make([]byte, req.Length)
	copy(data, s.Data[offset:])

	s.m.Lock()
	s.outstanding--
	if req.Begin == 0 && s.Corrupt[req.Index] > 0 {
		s.Corrupt[req.Index]--
		data[0] ^= 0xff
	}
	s.blocksSent++
	sent := s.blocksSent
	s.m.Unlock()

	if err := c.write(peerprotocol.PieceMessage{Index: req.Index, Begin: req.Begin, Data: data}); err != nil {
		return err
	}
	if s.DropAfter > 0 && sent >= s.DropAfter {
		return io.EOF
	}
	if s.ChokeAfter > 0 && sent == s.ChokeAfter {
		if err := c.write(peerprotocol.ChokeMessage{}); err != nil {
			return err
		}
		s.discardRequests(c)
		time.Sleep(50 * time.Millisecond)
		s.discardRequests(c)
		return c.write(peerprotocol.UnchokeMessage{})
	}
	return nil
}

func (s *Seeder) discardRequests(c *seederConn) {
	for {
		select {
		case <-c.requestC:
			s.m.Lock()
			s.outstanding--
			s.m.Unlock()
		default:
			return
		}
	}
}
