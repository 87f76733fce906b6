package piece

import "github.com/cenkalti/drizzle/internal/bufferpool"

// RequestLength is the size of a block requested from a peer in a single message.
const RequestLength = 16 * 1024

var blockPool = bufferpool.New(RequestLength)

// Block is part of a Piece. It is the unit requested over the wire.
type Block struct {
	Index  uint32 // index in piece
	Begin  uint32 // offset in piece
	Length uint32 // RequestLength except the last block of the last piece

	requested bool
	have      bool
	buf       bufferpool.Buffer
}

// Requested reports whether a request is sent for the block and not yet invalidated.
func (b *Block) Requested() bool { return b.requested }

// Have reports whether the block data is received.
func (b *Block) Have() bool { return b.have }

func (b *Block) receive(data []byte) error {
	if uint32(len(data)) != b.Length {
		b.invalidate()
		return ErrBlockLength
	}
	b.buf = blockPool.Get(len(data))
	copy(b.buf.Data, data)
	b.have = true
	return nil
}

func (b *Block) invalidate() {
	b.buf.Release()
	b.requested = false
	b.have = false
}

// snapshot returns a copy of b without its data.
func (b *Block) snapshot() Block {
	return Block{Index: b.Index, Begin: b.Begin, Length: b.Length, requested: b.requested, have: b.have}
}
