package bencode

import (
	"bytes"
	"fmt"
)

// FindRaw returns the encoded bytes of the value stored under key in the top-level dictionary of b.
// The returned slice starts at the first byte of the value and ends at its matching terminator.
// It shares memory with b. A key repeated in the dictionary resolves to its last occurrence, as in Decode.
func FindRaw(b []byte, key string) ([]byte, error) {
	var found []byte
	d := NewDecoder(bytes.NewReader(b))
	c, err := d.peek()
	if err != nil {
		return nil, err
	}
	if c != 'd' {
		return nil, d.errorf(errInvalidPrefix, "top-level value is not a dictionary")
	}
	if _, err = d.readByte(); err != nil {
		return nil, err
	}
	for {
		c, err = d.peek()
		if err != nil {
			return nil, err
		}
		if c == 'e' {
			if found == nil {
				return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
			}
			return found, nil
		}
		offset := d.Offset()
		k, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		s, ok := k.(String)
		if !ok || len(s) == 0 {
			return nil, &DecodeError{Offset: offset, Err: errInvalidKey}
		}
		begin := d.Offset()
		if _, err = d.decodeValue(); err != nil {
			return nil, err
		}
		if string(s) == key {
			found = b[begin:d.Offset()]
		}
	}
}
