// Package bencode decodes the bencoding used in torrent files and tracker responses.
package bencode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// DecodeError is returned for malformed input.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bencode: %s at offset %d", e.Err, e.Offset)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	errInvalidPrefix = errors.New("invalid value prefix")
	errInvalidKey    = errors.New("no key for dict")
	errInvalidLength = errors.New("invalid string length")
	errInvalidInt    = errors.New("invalid integer")
)

// Decoder reads bencoded values from a byte stream.
type Decoder struct {
	r      *bufio.Reader
	offset int64
}

// NewDecoder returns a Decoder reading from r.
// The Decoder may read ahead of the value it returns.
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{r: br}
}

// DecodeBytes decodes a single value from b.
func DecodeBytes(b []byte) (Value, error) {
	return NewDecoder(bytes.NewReader(b)).Decode()
}

// Offset returns the number of bytes consumed by decoded values so far.
func (d *Decoder) Offset() int64 { return d.offset }

// Decode reads the next value.
// It returns io.EOF if the stream ends before a value starts.
func (d *Decoder) Decode() (Value, error) {
	if _, err := d.r.Peek(1); err == io.EOF {
		return nil, io.EOF
	}
	return d.decodeValue()
}

func (d *Decoder) decodeValue() (Value, error) {
	c, err := d.peek()
	if err != nil {
		return nil, err
	}
	switch {
	case c == 'i':
		return d.decodeInt()
	case c >= '0' && c <= '9':
		return d.decodeString()
	case c == 'l':
		return d.decodeList()
	case c == 'd':
		return d.decodeDict()
	default:
		return nil, d.errorf(errInvalidPrefix, "%q", c)
	}
}

func (d *Decoder) decodeInt() (Value, error) {
	if _, err := d.readByte(); err != nil {
		return nil, err
	}
	digits, err := d.readUntil('e')
	if err != nil {
		return nil, err
	}
	i, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return nil, d.errorf(errInvalidInt, "%q", digits)
	}
	return Int(i), nil
}

func (d *Decoder) decodeString() (Value, error) {
	digits, err := d.readUntil(':')
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil || n < 0 {
		return nil, d.errorf(errInvalidLength, "%q", digits)
	}
	if n == 0 {
		return String{}, nil
	}
	// The buffer grows with the bytes read, not with the declared length.
	var buf bytes.Buffer
	m, err := io.CopyN(&buf, d.r, n)
	d.offset += m
	if err != nil {
		return nil, d.unexpected(err)
	}
	return String(buf.Bytes()), nil
}

func (d *Decoder) decodeList() (Value, error) {
	if _, err := d.readByte(); err != nil {
		return nil, err
	}
	l := List{}
	for {
		c, err := d.peek()
		if err != nil {
			return nil, err
		}
		if c == 'e' {
			break
		}
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		l = append(l, v)
	}
	_, err := d.readByte()
	return l, err
}

func (d *Decoder) decodeDict() (Value, error) {
	if _, err := d.readByte(); err != nil {
		return nil, err
	}
	m := Dict{}
	for {
		c, err := d.peek()
		if err != nil {
			return nil, err
		}
		if c == 'e' {
			break
		}
		offset := d.offset
		k, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		key, ok := k.(String)
		if !ok || len(key) == 0 {
			return nil, &DecodeError{Offset: offset, Err: errInvalidKey}
		}
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		m[string(key)] = v
	}
	_, err := d.readByte()
	return m, err
}

func (d *Decoder) peek() (byte, error) {
	b, err := d.r.Peek(1)
	if err != nil {
		return 0, d.unexpected(err)
	}
	return b[0], nil
}

func (d *Decoder) readByte() (byte, error) {
	c, err := d.r.ReadByte()
	if err != nil {
		return 0, d.unexpected(err)
	}
	d.offset++
	return c, nil
}

// readUntil consumes bytes up to and including delim and returns them without delim.
func (d *Decoder) readUntil(delim byte) ([]byte, error) {
	b, err := d.r.ReadBytes(delim)
	d.offset += int64(len(b))
	if err != nil {
		return nil, d.unexpected(err)
	}
	return b[:len(b)-1], nil
}

func (d *Decoder) unexpected(err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return &DecodeError{Offset: d.offset, Err: err}
}

func (d *Decoder) errorf(err error, format string, args ...interface{}) error {
	return &DecodeError{Offset: d.offset, Err: fmt.Errorf("%w: "+format, append([]interface{}{err}, args...)...)}
}
