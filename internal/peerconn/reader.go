package peerconn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/cenkalti/drizzle/internal/bitfield"
	"github.com/cenkalti/drizzle/internal/gapreader"
	"github.com/cenkalti/drizzle/internal/peerprotocol"
	"github.com/cenkalti/drizzle/internal/piece"
)

// errMessageTooLong is returned when a peer declares a frame longer than maxMessageLength.
var errMessageTooLong = errors.New("message too long")

// maxMessageLength is the largest frame we accept from the peer.
// It is either a piece message with a full block or a bitfield message for all pieces.
func (c *Conn) maxMessageLength() uint32 {
	n := uint32(1 + 8 + piece.RequestLength)
	if bf := 1 + (uint32(len(c.pieces))+7)/8; bf > n {
		n = bf
	}
	return n
}

func (c *Conn) run() {
	defer close(c.doneC)

	err := c.readLoop()

	c.m.Lock()
	if c.err == nil {
		c.err = err
	}
	c.state = Closed
	c.backlog = 0
	c.cond.Broadcast()
	c.m.Unlock()

	select {
	case <-c.closeC:
	default:
		if err == io.EOF {
			c.log.Debug("Peer has closed the connection")
		} else {
			c.log.Warningln("Closing connection:", err)
		}
		c.closeOnce.Do(func() { close(c.closeC) })
	}
	c.conn.Close()
}

func (c *Conn) readLoop() error {
	var lenBuf [4]byte
	maxLength := c.maxMessageLength()
	for {
		_, err := gapreader.ReadFullPatient(c.conn, lenBuf[:], c.config.GapTimeout, c.closeC)
		if err != nil {
			return err
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		if length == 0 {
			c.log.Debug("Received message of type \"keep alive\"")
			if err = c.writeKeepAlive(); err != nil {
				return err
			}
			continue
		}
		if length > maxLength {
			return fmt.Errorf("%w: length %d exceeds %d bytes", errMessageTooLong, length, maxLength)
		}
		buf := make([]byte, length)
		_, err = gapreader.ReadFullPatient(c.conn, buf, c.config.GapTimeout, c.closeC)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		msg, err := peerprotocol.Parse(length, buf)
		if errors.Is(err, peerprotocol.ErrUnknownMessage) {
			c.log.Debugf("Ignoring message of unknown type: %d", msg.ID())
			continue
		}
		if err != nil {
			return err
		}
		if err = c.handleMessage(msg); err != nil {
			return err
		}
	}
}

func (c *Conn) handleMessage(msg peerprotocol.Message) error {
	switch msg := msg.(type) {
	case peerprotocol.ChokeMessage:
		c.log.Debug("Received Choke")
		c.m.Lock()
		c.flags.PeerChoking = true
		// Peer discards pending requests when it chokes us.
		c.backlog = 0
		c.cond.Broadcast()
		c.m.Unlock()
	case peerprotocol.UnchokeMessage:
		c.log.Debug("Received Unchoke")
		c.m.Lock()
		c.flags.PeerChoking = false
		c.cond.Broadcast()
		c.m.Unlock()
	case peerprotocol.InterestedMessage:
		c.log.Debug("Received Interested")
		c.m.Lock()
		c.flags.PeerInterested = true
		c.m.Unlock()
	case peerprotocol.NotInterestedMessage:
		c.log.Debug("Received NotInterested")
		c.m.Lock()
		c.flags.PeerInterested = false
		c.m.Unlock()
	case peerprotocol.HaveMessage:
		c.log.Debugf("Received Have: %d", msg.Index)
		if msg.Index >= uint32(len(c.pieces)) {
			return fmt.Errorf("unexpected piece index in have message: %d", msg.Index)
		}
		c.m.Lock()
		c.bitfield.Set(msg.Index)
		c.cond.Broadcast()
		c.m.Unlock()
	case peerprotocol.BitfieldMessage:
		numPieces := uint32(len(c.pieces))
		if uint32(len(msg.Data)) != (numPieces+7)/8 {
			return fmt.Errorf("invalid bitfield length: %d", len(msg.Data))
		}
		bf := bitfield.FromBytes(msg.Data, numPieces)
		c.log.Debugf("Received Bitfield: %s", bf.Hex())
		c.m.Lock()
		c.bitfield = bf
		c.cond.Broadcast()
		c.m.Unlock()
	case peerprotocol.PieceMessage:
		return c.handlePiece(msg)
	case peerprotocol.RequestMessage:
		c.log.Debugf("Ignoring Request: %+v", msg)
	case peerprotocol.CancelMessage:
		c.log.Debugf("Ignoring Cancel: %+v", msg)
	}
	return nil
}

func (c *Conn) handlePiece(msg peerprotocol.PieceMessage) error {
	if msg.Index >= uint32(len(c.pieces)) {
		return fmt.Errorf("unexpected piece index in piece message: %d", msg.Index)
	}
	n := int64(len(msg.Data))
	if c.config.Bucket != nil {
		c.config.Bucket.Wait(n)
	}
	pi := c.pieces[msg.Index]
	requested, err := pi.ReceiveBlock(msg.Begin, msg.Data)
	switch {
	case err == piece.ErrInvalidBlock:
		c.log.Warningf("Received block with invalid offset: piece=%d begin=%d", msg.Index, msg.Begin)
		atomic.AddInt64(&c.wasted, n)
		return nil
	case err == piece.ErrBlockLength:
		c.log.Warningf("Received block with invalid length: piece=%d begin=%d length=%d", msg.Index, msg.Begin, n)
		atomic.AddInt64(&c.wasted, n)
	case !requested:
		c.log.Debugf("Received unrequested block: piece=%d begin=%d", msg.Index, msg.Begin)
		atomic.AddInt64(&c.wasted, n)
		return nil
	default:
		c.log.Debugf("Received block: piece=%d begin=%d", msg.Index, msg.Begin)
		atomic.AddInt64(&c.downloaded, n)
	}
	c.DecrementBacklog()
	return nil
}
