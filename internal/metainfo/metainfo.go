// Package metainfo reads single-file torrent metadata.
package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"io"

	"github.com/cenkalti/drizzle/internal/bencode"
)

// Error is returned when a required field of the torrent is missing or malformed.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("metainfo: invalid %q: %s", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	errInvalidPieceData = errors.New("invalid piece data")
	errNotPositive      = errors.New("must be positive")
	errEmptyName        = errors.New("must not be empty")
)

// MetaInfo is the content description of a torrent file.
type MetaInfo struct {
	Announce    string
	Name        string
	PieceLength uint32
	Length      int64
	PieceHashes [][sha1.Size]byte

	// InfoHash is the SHA-1 of the raw "info" value as it appears in the torrent file.
	InfoHash [sha1.Size]byte
	// InfoBytes is the raw "info" value.
	InfoBytes []byte
}

// New reads a whole torrent file from r and parses it.
func New(r io.Reader) (*MetaInfo, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse parses the bencoded torrent file in b.
func Parse(b []byte) (*MetaInfo, error) {
	v, err := bencode.DecodeBytes(b)
	if err != nil {
		return nil, err
	}
	top, ok := v.(bencode.Dict)
	if !ok {
		return nil, &Error{Field: "torrent", Err: errors.New("not a dictionary")}
	}
	var m MetaInfo
	announce, err := top.String("announce")
	if err != nil {
		return nil, &Error{Field: "announce", Err: err}
	}
	m.Announce = string(announce)

	info, err := top.Dict("info")
	if err != nil {
		return nil, &Error{Field: "info", Err: err}
	}
	pieceLength, err := info.Int("piece length")
	if err != nil {
		return nil, &Error{Field: "piece length", Err: err}
	}
	if pieceLength <= 0 || pieceLength > 1<<31 {
		return nil, &Error{Field: "piece length", Err: errNotPositive}
	}
	m.PieceLength = uint32(pieceLength)

	m.Length, err = info.Int("length")
	if err != nil {
		return nil, &Error{Field: "length", Err: err}
	}
	if m.Length <= 0 {
		return nil, &Error{Field: "length", Err: errNotPositive}
	}

	name, err := info.String("name")
	if err != nil {
		return nil, &Error{Field: "name", Err: err}
	}
	if len(name) == 0 {
		return nil, &Error{Field: "name", Err: errEmptyName}
	}
	m.Name = string(name)

	pieces, err := info.String("pieces")
	if err != nil {
		return nil, &Error{Field: "pieces", Err: err}
	}
	if len(pieces)%sha1.Size != 0 {
		return nil, &Error{Field: "pieces", Err: errInvalidPieceData}
	}
	m.PieceHashes = make([][sha1.Size]byte, len(pieces)/sha1.Size)
	for i := range m.PieceHashes {
		copy(m.PieceHashes[i][:], pieces[i*sha1.Size:])
	}
	// The last piece may be shorter but never empty.
	delta := int64(m.PieceLength)*int64(len(m.PieceHashes)) - m.Length
	if delta >= int64(m.PieceLength) || delta < 0 {
		return nil, &Error{Field: "pieces", Err: errInvalidPieceData}
	}

	m.InfoBytes, err = bencode.FindRaw(b, "info")
	if err != nil {
		return nil, &Error{Field: "info", Err: err}
	}
	m.InfoHash = sha1.Sum(m.InfoBytes) // nolint: gosec
	return &m, nil
}

// NumPieces returns the number of pieces in the torrent.
func (m *MetaInfo) NumPieces() uint32 { return uint32(len(m.PieceHashes)) }

// PieceHash returns the expected SHA-1 of piece i.
func (m *MetaInfo) PieceHash(i uint32) [sha1.Size]byte { return m.PieceHashes[i] }

// PieceLengthAt returns the length of piece i. Only the last piece can be shorter than PieceLength.
func (m *MetaInfo) PieceLengthAt(i uint32) uint32 {
	if i == m.NumPieces()-1 {
		return uint32(m.Length - int64(i)*int64(m.PieceLength))
	}
	return m.PieceLength
}
