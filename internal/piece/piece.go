// Package piece holds the download state of every piece and block of a torrent.
package piece

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrInvalidBlock is returned for an offset that does not start a block of the piece.
	ErrInvalidBlock = errors.New("invalid block offset")
	// ErrBlockLength is returned when received data does not match the block length.
	ErrBlockLength = errors.New("invalid block length")
)

// ValidationError is returned when downloaded piece data does not match the expected hash.
type ValidationError struct {
	Index uint32
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("piece #%d: hash mismatch", e.Index)
}

// Piece of a torrent.
// Only one worker downloads a given piece at a time. The mutex protects block state
// against the peer read loop which delivers data concurrently.
type Piece struct {
	Index  uint32 // index in torrent
	Length uint32 // equal to piece length except the last piece
	Hash   [sha1.Size]byte

	m         sync.Mutex
	blocks    []Block
	have      bool
	requested bool
}

// New returns an empty piece split into blocks of RequestLength.
// The last block is shorter if length is not a multiple of RequestLength.
func New(index, length uint32, hash [sha1.Size]byte) *Piece {
	p := &Piece{Index: index, Length: length, Hash: hash}
	div, mod := length/RequestLength, length%RequestLength
	numBlocks := div
	if mod != 0 {
		numBlocks++
	}
	p.blocks = make([]Block, numBlocks)
	for i := range p.blocks {
		b := &p.blocks[i]
		b.Index = uint32(i)
		b.Begin = uint32(i) * RequestLength
		b.Length = RequestLength
	}
	if mod != 0 {
		p.blocks[numBlocks-1].Length = mod
	}
	return p
}

// NumBlocks returns the number of blocks in the piece.
func (p *Piece) NumBlocks() int { return len(p.blocks) }

// Blocks returns a snapshot of the block states.
func (p *Piece) Blocks() []Block {
	p.m.Lock()
	defer p.m.Unlock()
	blocks := make([]Block, len(p.blocks))
	for i := range p.blocks {
		blocks[i] = p.blocks[i].snapshot()
	}
	return blocks
}

// GetBlock returns the block starting at offset begin.
func (p *Piece) GetBlock(begin uint32) (Block, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	b, err := p.findBlock(begin)
	if err != nil {
		return Block{}, false
	}
	return b.snapshot(), true
}

func (p *Piece) findBlock(begin uint32) (*Block, error) {
	idx, mod := begin/RequestLength, begin%RequestLength
	if mod != 0 || idx >= uint32(len(p.blocks)) {
		return nil, ErrInvalidBlock
	}
	return &p.blocks[idx], nil
}

// Have reports whether the piece is downloaded and its hash is verified.
func (p *Piece) Have() bool {
	p.m.Lock()
	defer p.m.Unlock()
	return p.have
}

// Requested reports whether a worker has taken the piece.
func (p *Piece) Requested() bool {
	p.m.Lock()
	defer p.m.Unlock()
	return p.requested
}

// SetRequested marks the piece as taken by a worker or releases it.
func (p *Piece) SetRequested(value bool) {
	p.m.Lock()
	p.requested = value
	p.m.Unlock()
}

// RequestBlock marks the first block that is neither received nor requested as requested and returns it.
func (p *Piece) RequestBlock() (Block, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	for i := range p.blocks {
		b := &p.blocks[i]
		if !b.requested && !b.have {
			b.requested = true
			return b.snapshot(), true
		}
	}
	return Block{}, false
}

// ReceiveBlock stores data for the block at offset begin.
// The returned bool reports whether the block was waiting for data, in which case an outstanding request is answered.
// Data for a block that is not requested or already received is ignored.
// Data with a wrong length invalidates the block so it is requested again.
func (p *Piece) ReceiveBlock(begin uint32, data []byte) (bool, error) {
	p.m.Lock()
	defer p.m.Unlock()
	b, err := p.findBlock(begin)
	if err != nil {
		return false, err
	}
	if !b.requested || b.have {
		return false, nil
	}
	return true, b.receive(data)
}

// MissingBlocks returns the blocks that are not requested yet.
func (p *Piece) MissingBlocks() []Block {
	return p.filter(func(b *Block) bool { return !b.requested })
}

// CorruptBlocks returns the blocks that are requested but have no data.
func (p *Piece) CorruptBlocks() []Block {
	return p.filter(func(b *Block) bool { return b.requested && !b.have })
}

func (p *Piece) filter(fn func(b *Block) bool) []Block {
	p.m.Lock()
	defer p.m.Unlock()
	var blocks []Block
	for i := range p.blocks {
		if fn(&p.blocks[i]) {
			blocks = append(blocks, p.blocks[i].snapshot())
		}
	}
	return blocks
}

// InvalidateCorruptBlocks resets the blocks that are requested but have no data and returns their count.
func (p *Piece) InvalidateCorruptBlocks() int {
	p.m.Lock()
	defer p.m.Unlock()
	var n int
	for i := range p.blocks {
		b := &p.blocks[i]
		if b.requested && !b.have {
			b.invalidate()
			n++
		}
	}
	return n
}

// Downloaded reports whether every block has data.
func (p *Piece) Downloaded() bool {
	p.m.Lock()
	defer p.m.Unlock()
	return p.downloaded()
}

func (p *Piece) downloaded() bool {
	for i := range p.blocks {
		if !p.blocks[i].have {
			return false
		}
	}
	return true
}

// Validate compares the hash of the downloaded data with the expected hash.
// It returns false and no error if some blocks are still missing.
// On mismatch every block is invalidated and a *ValidationError is returned.
// Validating a piece that is already verified does nothing.
func (p *Piece) Validate() (bool, error) {
	p.m.Lock()
	defer p.m.Unlock()
	if p.have {
		return true, nil
	}
	if !p.downloaded() {
		return false, nil
	}
	hash := sha1.New() // nolint: gosec
	for i := range p.blocks {
		_, _ = hash.Write(p.blocks[i].buf.Data)
	}
	if bytes.Equal(hash.Sum(nil), p.Hash[:]) {
		p.have = true
		return true, nil
	}
	p.invalidate()
	return false, &ValidationError{Index: p.Index}
}

// Invalidate discards all downloaded data of the piece.
func (p *Piece) Invalidate() {
	p.m.Lock()
	p.invalidate()
	p.m.Unlock()
}

func (p *Piece) invalidate() {
	p.have = false
	for i := range p.blocks {
		p.blocks[i].invalidate()
	}
}

// Data returns the concatenated data of received blocks.
func (p *Piece) Data() []byte {
	p.m.Lock()
	defer p.m.Unlock()
	buf := make([]byte, 0, p.Length)
	for i := range p.blocks {
		buf = append(buf, p.blocks[i].buf.Data...)
	}
	return buf
}

// WriteTo writes the data of a verified piece to w.
func (p *Piece) WriteTo(w io.Writer) (int64, error) {
	if !p.Have() {
		return 0, fmt.Errorf("piece #%d is not downloaded", p.Index)
	}
	n, err := w.Write(p.Data())
	return int64(n), err
}
