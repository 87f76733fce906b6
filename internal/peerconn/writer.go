package peerconn

import (
	"time"

	"github.com/cenkalti/drizzle/internal/peerprotocol"
	"github.com/cenkalti/drizzle/internal/piece"
)

func (c *Conn) writeMessage(msg peerprotocol.Message) error {
	c.writeM.Lock()
	defer c.writeM.Unlock()
	if c.config.GapTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.GapTimeout)); err != nil {
			return err
		}
	}
	return peerprotocol.WriteMessage(c.conn, msg)
}

func (c *Conn) writeKeepAlive() error {
	return c.writeMessage(peerprotocol.KeepAliveMessage{})
}

// SendInterested tells the peer that we want to download pieces.
func (c *Conn) SendInterested() error {
	c.m.Lock()
	if c.flags.AmInterested {
		c.m.Unlock()
		return nil
	}
	c.flags.AmInterested = true
	c.m.Unlock()
	c.log.Debug("Sending Interested")
	return c.writeMessage(peerprotocol.InterestedMessage{})
}

// SendNotInterested tells the peer that we do not want any more pieces.
func (c *Conn) SendNotInterested() error {
	c.m.Lock()
	if !c.flags.AmInterested {
		c.m.Unlock()
		return nil
	}
	c.flags.AmInterested = false
	c.m.Unlock()
	c.log.Debug("Sending NotInterested")
	return c.writeMessage(peerprotocol.NotInterestedMessage{})
}

// SendRequest sends a request message for the block of piece at index.
// The backlog must be reserved with ReserveRequest before.
func (c *Conn) SendRequest(index uint32, b piece.Block) error {
	msg := peerprotocol.RequestMessage{Index: index, Begin: b.Begin, Length: b.Length}
	c.log.Debugf("Sending Request: %+v", msg)
	return c.writeMessage(msg)
}
