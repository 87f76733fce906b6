package peerprotocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeepAlive(t *testing.T) {
	msg, err := Parse(0, nil)
	require.NoError(t, err)
	assert.Equal(t, KeepAliveMessage{}, msg)
	assert.Equal(t, "keep alive", msg.ID().String())
}

func TestParseMessages(t *testing.T) {
	cases := []struct {
		frame []byte
		msg   Message
	}{
		{[]byte{0}, ChokeMessage{}},
		{[]byte{1}, UnchokeMessage{}},
		{[]byte{2}, InterestedMessage{}},
		{[]byte{3}, NotInterestedMessage{}},
		{[]byte{4, 0, 0, 1, 2}, HaveMessage{Index: 258}},
		{[]byte{5, 0xf0, 0x01}, BitfieldMessage{Data: []byte{0xf0, 0x01}}},
		{[]byte{6, 0, 0, 0, 1, 0, 0, 0x40, 0, 0, 0, 0x40, 0}, RequestMessage{Index: 1, Begin: 16384, Length: 16384}},
		{[]byte{7, 0, 0, 0, 3, 0, 0, 0, 0, 'a', 'b', 'c'}, PieceMessage{Index: 3, Data: []byte("abc")}},
		{[]byte{8, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 3}, CancelMessage{RequestMessage{Index: 1, Begin: 2, Length: 3}}},
	}
	for _, c := range cases {
		msg, err := ParseFrame(c.frame)
		require.NoError(t, err, c.msg.ID().String())
		assert.Equal(t, c.msg, msg)

		// Writing the message back gives the same frame.
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, msg))
		assert.Equal(t, c.frame, buf.Bytes()[4:])
		assert.Equal(t, uint32(len(c.frame)), uint32(buf.Bytes()[3]))
	}
}

func TestParseLengthMismatch(t *testing.T) {
	piece := []byte{7, 0, 0, 0, 0, 0, 0, 0, 0, 'x', 'y'}
	for _, length := range []uint32{1, 10, 12, 100} {
		_, err := Parse(length, piece)
		var ferr *FramingError
		require.True(t, errors.As(err, &ferr), "length %d", length)
		assert.Equal(t, Piece, ferr.ID)
	}
	_, err := Parse(uint32(len(piece)), piece)
	assert.NoError(t, err)
}

func TestParseFixedSizes(t *testing.T) {
	frames := [][]byte{
		{4, 0, 0, 1},
		{4, 0, 0, 0, 1, 2},
		{6, 0, 0, 0, 1},
		{8, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 3, 4},
		{7, 0, 0, 0, 1},
		{},
	}
	for _, f := range frames {
		_, err := ParseFrame(f)
		var ferr *FramingError
		assert.True(t, errors.As(err, &ferr), "frame %v", f)
	}
}

func TestParseUnknown(t *testing.T) {
	msg, err := ParseFrame([]byte{20, 'x'})
	var ferr *FramingError
	require.True(t, errors.As(err, &ferr))
	assert.True(t, errors.Is(err, ErrUnknownMessage))
	assert.Equal(t, UnknownMessage{Type: 20, Payload: []byte{'x'}}, msg)
}

func TestWriteKeepAlive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteKeepAlive(&buf))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())

	err := WriteMessage(&buf, UnknownMessage{Type: 9})
	assert.Error(t, err)
}
