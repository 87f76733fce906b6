package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"io"
	"time"

	zbencode "github.com/zeebo/bencode"
)

// Creator is put into the "created by" field of torrents made with NewBytes.
var Creator string

// NewBytes reads the content from r and returns a single-file torrent describing it.
func NewBytes(name string, r io.Reader, pieceLength uint32, announce string) ([]byte, error) {
	if pieceLength == 0 {
		return nil, errors.New("piece length must be positive")
	}
	info := struct {
		PieceLength uint32 `bencode:"piece length"`
		Pieces      []byte `bencode:"pieces"`
		Name        string `bencode:"name"`
		Length      int64  `bencode:"length"`
	}{
		PieceLength: pieceLength,
		Name:        name,
	}
	buf := make([]byte, pieceLength)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sum := sha1.Sum(buf[:n]) // nolint: gosec
			info.Pieces = append(info.Pieces, sum[:]...)
			info.Length += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if info.Length == 0 {
		return nil, errors.New("no data")
	}
	infoBytes, err := zbencode.EncodeBytes(info)
	if err != nil {
		return nil, err
	}
	mi := struct {
		Info         zbencode.RawMessage `bencode:"info"`
		Announce     string              `bencode:"announce"`
		CreationDate int64               `bencode:"creation date"`
		CreatedBy    string              `bencode:"created by,omitempty"`
	}{
		Info:         infoBytes,
		Announce:     announce,
		CreationDate: time.Now().UTC().Unix(),
		CreatedBy:    Creator,
	}
	return zbencode.EncodeBytes(mi)
}
