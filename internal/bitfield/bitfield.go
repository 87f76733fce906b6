// Package bitfield implements the piece availability bitmap exchanged between peers.
// Bit 0 is the most significant bit of the first byte.
package bitfield

import (
	"encoding/hex"
	"math/bits"
)

// Bitfield is a fixed length sequence of bits.
type Bitfield struct {
	b      []byte
	length uint32
}

// New creates a new Bitfield of length bits, all cleared.
func New(length uint32) *Bitfield {
	return &Bitfield{b: make([]byte, numBytes(length)), length: length}
}

// FromBytes returns a Bitfield of length bits copied from b.
// A short b is padded with zeroes and extra bytes are ignored. Spare bits in the last byte are cleared.
func FromBytes(b []byte, length uint32) *Bitfield {
	bf := New(length)
	copy(bf.b, b)
	bf.clearSpareBits()
	return bf
}

func numBytes(length uint32) uint32 { return (length + 7) / 8 }

func (b *Bitfield) clearSpareBits() {
	if mod := b.length % 8; mod != 0 {
		b.b[len(b.b)-1] &= ^byte(0xff >> mod)
	}
}

// Bytes returns the underlying bytes. Modifying the returned slice modifies the Bitfield.
func (b *Bitfield) Bytes() []byte { return b.b }

// Len returns the number of bits.
func (b *Bitfield) Len() uint32 { return b.length }

// Hex returns the bytes encoded as a hex string.
func (b *Bitfield) Hex() string { return hex.EncodeToString(b.b) }

// Copy returns an independent copy of b.
func (b *Bitfield) Copy() *Bitfield {
	return FromBytes(b.b, b.length)
}

// Set bit i. Panics if i >= b.Len().
func (b *Bitfield) Set(i uint32) {
	b.checkIndex(i)
	b.b[i/8] |= 1 << (7 - i%8)
}

// Clear bit i. Panics if i >= b.Len().
func (b *Bitfield) Clear(i uint32) {
	b.checkIndex(i)
	b.b[i/8] &= ^byte(1 << (7 - i%8))
}

// Test reports whether bit i is set. Panics if i >= b.Len().
func (b *Bitfield) Test(i uint32) bool {
	b.checkIndex(i)
	return b.b[i/8]&(1<<(7-i%8)) != 0
}

// Count returns the number of set bits.
func (b *Bitfield) Count() uint32 {
	var n int
	for _, v := range b.b {
		n += bits.OnesCount8(v)
	}
	return uint32(n)
}

// All reports whether every bit is set.
func (b *Bitfield) All() bool { return b.Count() == b.length }

// Or sets every bit that is set in o. Both must have the same length.
func (b *Bitfield) Or(o *Bitfield) {
	b.checkLength(o)
	for i := range b.b {
		b.b[i] |= o.b[i]
	}
}

// AndNot clears every bit that is set in o. Both must have the same length.
func (b *Bitfield) AndNot(o *Bitfield) {
	b.checkLength(o)
	for i := range b.b {
		b.b[i] &^= o.b[i]
	}
}

// FirstSet returns the lowest index of a set bit.
func (b *Bitfield) FirstSet() (uint32, bool) {
	for i, v := range b.b {
		if v != 0 {
			return uint32(i)*8 + uint32(bits.LeadingZeros8(v)), true
		}
	}
	return 0, false
}

func (b *Bitfield) checkIndex(i uint32) {
	if i >= b.length {
		panic("index out of bound")
	}
}

func (b *Bitfield) checkLength(o *Bitfield) {
	if b.length != o.length {
		panic("bitfield length mismatch")
	}
}
