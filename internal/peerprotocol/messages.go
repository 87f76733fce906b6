// Package peerprotocol parses and writes BitTorrent peer wire messages.
package peerprotocol

// Message is a Peer message of BitTorrent protocol.
type Message interface {
	ID() MessageID
}

// KeepAliveMessage is a zero length message sent to keep the connection open.
type KeepAliveMessage struct{}

// ChokeMessage is sent to peer that it should not request pieces.
type ChokeMessage struct{}

// UnchokeMessage is sent to peer that it can request pieces.
type UnchokeMessage struct{}

// InterestedMessage is sent to peer that we want to request pieces if you unchoke us.
type InterestedMessage struct{}

// NotInterestedMessage is sent to peer that we don't want any piece from you.
type NotInterestedMessage struct{}

// HaveMessage indicates a peer has the piece with index.
type HaveMessage struct {
	Index uint32
}

// BitfieldMessage is sent after the handshake to tell which pieces the peer has.
type BitfieldMessage struct {
	Data []byte
}

// RequestMessage is sent when a peer needs a block of a piece.
type RequestMessage struct {
	Index, Begin, Length uint32
}

// PieceMessage carries the data of a requested block.
type PieceMessage struct {
	Index, Begin uint32
	Data         []byte
}

// CancelMessage is sent to peer to cancel previously sent request.
type CancelMessage struct {
	RequestMessage
}

// UnknownMessage holds a message with an id that is not defined in the base protocol.
type UnknownMessage struct {
	Type    MessageID
	Payload []byte
}

// ID returns the peer protocol message type.
func (m KeepAliveMessage) ID() MessageID { return KeepAlive }

// ID returns the peer protocol message type.
func (m ChokeMessage) ID() MessageID { return Choke }

// ID returns the peer protocol message type.
func (m UnchokeMessage) ID() MessageID { return Unchoke }

// ID returns the peer protocol message type.
func (m InterestedMessage) ID() MessageID { return Interested }

// ID returns the peer protocol message type.
func (m NotInterestedMessage) ID() MessageID { return NotInterested }

// ID returns the peer protocol message type.
func (m HaveMessage) ID() MessageID { return Have }

// ID returns the peer protocol message type.
func (m BitfieldMessage) ID() MessageID { return Bitfield }

// ID returns the peer protocol message type.
func (m RequestMessage) ID() MessageID { return Request }

// ID returns the peer protocol message type.
func (m PieceMessage) ID() MessageID { return Piece }

// ID returns the peer protocol message type.
func (m CancelMessage) ID() MessageID { return Cancel }

// ID returns the id read from the wire.
func (m UnknownMessage) ID() MessageID { return m.Type }
