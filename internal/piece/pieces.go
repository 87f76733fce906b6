package piece

import (
	"io"

	"github.com/cenkalti/drizzle/internal/bitfield"
	"github.com/cenkalti/drizzle/internal/metainfo"
)

// Pieces is the ordered piece table of a torrent, shared by every connection and worker.
type Pieces []*Piece

// NewPieces builds the piece table described by info.
func NewPieces(info *metainfo.MetaInfo) Pieces {
	pieces := make(Pieces, info.NumPieces())
	for i := range pieces {
		idx := uint32(i)
		pieces[i] = New(idx, info.PieceLengthAt(idx), info.PieceHash(idx))
	}
	return pieces
}

// HaveOrRequestedBitfield returns the set of pieces that are verified or taken by a worker.
func (ps Pieces) HaveOrRequestedBitfield() *bitfield.Bitfield {
	bf := bitfield.New(uint32(len(ps)))
	for _, p := range ps {
		p.m.Lock()
		if p.have || p.requested {
			bf.Set(p.Index)
		}
		p.m.Unlock()
	}
	return bf
}

// Missing returns the pieces that are not verified yet, in index order.
func (ps Pieces) Missing() Pieces {
	var missing Pieces
	for _, p := range ps {
		if !p.Have() {
			missing = append(missing, p)
		}
	}
	return missing
}

// Complete reports whether every piece is verified.
func (ps Pieces) Complete() bool {
	return len(ps.Missing()) == 0
}

// Length returns the total length of the pieces.
func (ps Pieces) Length() int64 {
	var n int64
	for _, p := range ps {
		n += int64(p.Length)
	}
	return n
}

// WriteTo writes the data of all pieces to w in order. Every piece must be verified.
func (ps Pieces) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, p := range ps {
		n, err := p.WriteTo(w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
