package peerprotocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnknownMessage is wrapped by the FramingError returned for an id outside the base protocol.
// The message can be skipped without losing the framing.
var ErrUnknownMessage = errors.New("unknown message id")

// FramingError is returned when a frame does not match the layout of its message type.
type FramingError struct {
	ID     MessageID
	Length uint32
	Err    error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("invalid %q message of length %d: %s", e.ID, e.Length, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// Parse decodes a frame of declared length.
// frame holds the message id followed by the payload, without the 4-byte length prefix.
// A declared length of 0 is a keep-alive message and frame is not inspected.
// For an unknown id, the returned message is an UnknownMessage and the error wraps ErrUnknownMessage.
func Parse(length uint32, frame []byte) (Message, error) {
	if length == 0 {
		return KeepAliveMessage{}, nil
	}
	if len(frame) == 0 {
		return nil, &FramingError{Length: length, Err: errors.New("missing message id")}
	}
	id := MessageID(frame[0])
	payload := frame[1:]
	if id > Cancel {
		return UnknownMessage{Type: id, Payload: payload}, &FramingError{ID: id, Length: length, Err: ErrUnknownMessage}
	}
	if !id.hasPayload() {
		switch id {
		case Choke:
			return ChokeMessage{}, nil
		case Unchoke:
			return UnchokeMessage{}, nil
		case Interested:
			return InterestedMessage{}, nil
		default:
			return NotInterestedMessage{}, nil
		}
	}
	if uint32(len(payload))+1 != length {
		return nil, &FramingError{ID: id, Length: length, Err: fmt.Errorf("payload has %d bytes", len(payload))}
	}
	switch id {
	case Have:
		if len(payload) != 4 {
			return nil, sizeError(id, length, 4)
		}
		return HaveMessage{Index: binary.BigEndian.Uint32(payload)}, nil
	case Bitfield:
		return BitfieldMessage{Data: payload}, nil
	case Request, Cancel:
		if len(payload) != 12 {
			return nil, sizeError(id, length, 12)
		}
		rm := RequestMessage{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}
		if id == Cancel {
			return CancelMessage{rm}, nil
		}
		return rm, nil
	default: // Piece
		if len(payload) < 8 {
			return nil, sizeError(id, length, 8)
		}
		return PieceMessage{
			Index: binary.BigEndian.Uint32(payload[0:4]),
			Begin: binary.BigEndian.Uint32(payload[4:8]),
			Data:  payload[8:],
		}, nil
	}
}

func sizeError(id MessageID, length uint32, size int) error {
	return &FramingError{ID: id, Length: length, Err: fmt.Errorf("payload must be %d bytes", size)}
}

// ParseFrame parses a frame body as read from the wire after the length prefix.
func ParseFrame(b []byte) (Message, error) {
	return Parse(uint32(len(b)), b)
}
