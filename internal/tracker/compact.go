package tracker

import (
	"encoding/binary"
	"errors"
	"net"
)

// compactPeerLength is the size of an IPv4 address followed by a big-endian port.
const compactPeerLength = 6

var (
	errInvalidPeerList   = errors.New("compact peer list length is not a multiple of 6")
	errInvalidPeerLength = errors.New("invalid compact peer length")
)

// CompactPeer is an IPv4 peer address in the form trackers send it.
// It has no pointers so it can be used as a map key.
type CompactPeer struct {
	IP   [net.IPv4len]byte
	Port uint16
}

// NewCompactPeer converts addr. Only the IPv4 form of the address is kept.
func NewCompactPeer(addr *net.TCPAddr) CompactPeer {
	p := CompactPeer{Port: uint16(addr.Port)}
	copy(p.IP[:], addr.IP.To4())
	return p
}

// Addr returns p as a TCP address.
func (p CompactPeer) Addr() *net.TCPAddr {
	ip := make(net.IP, net.IPv4len)
	copy(ip, p.IP[:])
	return &net.TCPAddr{IP: ip, Port: int(p.Port)}
}

// MarshalBinary returns the 6 byte form of p.
func (p CompactPeer) MarshalBinary() ([]byte, error) {
	return p.appendBinary(make([]byte, 0, compactPeerLength)), nil
}

func (p CompactPeer) appendBinary(b []byte) []byte {
	b = append(b, p.IP[:]...)
	return binary.BigEndian.AppendUint16(b, p.Port)
}

// UnmarshalBinary sets p from a 6 byte record.
func (p *CompactPeer) UnmarshalBinary(data []byte) error {
	if len(data) != compactPeerLength {
		return errInvalidPeerLength
	}
	copy(p.IP[:], data[:net.IPv4len])
	p.Port = binary.BigEndian.Uint16(data[net.IPv4len:])
	return nil
}

// DecodePeersCompact parses the 6 byte records of a compact peer list in order.
func DecodePeersCompact(b []byte) ([]*net.TCPAddr, error) {
	if len(b)%compactPeerLength != 0 {
		return nil, errInvalidPeerList
	}
	addrs := make([]*net.TCPAddr, 0, len(b)/compactPeerLength)
	for len(b) > 0 {
		var p CompactPeer
		if err := p.UnmarshalBinary(b[:compactPeerLength]); err != nil {
			return nil, err
		}
		addrs = append(addrs, p.Addr())
		b = b[compactPeerLength:]
	}
	return addrs, nil
}

// EncodePeersCompact returns the compact peer list of addrs. Addresses that are not IPv4 are skipped.
func EncodePeersCompact(addrs []*net.TCPAddr) []byte {
	b := make([]byte, 0, len(addrs)*compactPeerLength)
	for _, addr := range addrs {
		if addr.IP.To4() == nil {
			continue
		}
		b = NewCompactPeer(addr).appendBinary(b)
	}
	return b
}
