package peerprotocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MarshalBinary returns the wire form of msg including the 4-byte length prefix.
func MarshalBinary(msg Message) ([]byte, error) {
	var payload []byte
	switch m := msg.(type) {
	case KeepAliveMessage:
		return make([]byte, 4), nil
	case ChokeMessage, UnchokeMessage, InterestedMessage, NotInterestedMessage:
	case HaveMessage:
		payload = binary.BigEndian.AppendUint32(nil, m.Index)
	case BitfieldMessage:
		payload = m.Data
	case RequestMessage:
		payload = appendRequest(nil, m)
	case CancelMessage:
		payload = appendRequest(nil, m.RequestMessage)
	case PieceMessage:
		payload = make([]byte, 8, 8+len(m.Data))
		binary.BigEndian.PutUint32(payload[0:4], m.Index)
		binary.BigEndian.PutUint32(payload[4:8], m.Begin)
		payload = append(payload, m.Data...)
	default:
		return nil, fmt.Errorf("cannot marshal message: %q", msg.ID())
	}
	b := make([]byte, 5, 5+len(payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(1+len(payload)))
	b[4] = byte(msg.ID())
	return append(b, payload...), nil
}

func appendRequest(b []byte, m RequestMessage) []byte {
	b = binary.BigEndian.AppendUint32(b, m.Index)
	b = binary.BigEndian.AppendUint32(b, m.Begin)
	return binary.BigEndian.AppendUint32(b, m.Length)
}

// WriteMessage writes msg to w in a single Write call.
func WriteMessage(w io.Writer, msg Message) error {
	b, err := MarshalBinary(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// WriteKeepAlive writes a zero length prefix to w.
func WriteKeepAlive(w io.Writer) error {
	return WriteMessage(w, KeepAliveMessage{})
}
