// Package tracker contains the types shared by tracker clients and the decoding of announce responses.
package tracker

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/drizzle/internal/bencode"
)

// Event type that is sent in an announce request.
type Event int32

// Tracker announce events.
const (
	EventNone Event = iota
	EventCompleted
	EventStarted
	EventStopped
)

var eventNames = [...]string{
	"empty",
	"completed",
	"started",
	"stopped",
}

// String returns the name of event as represented in HTTP tracker protocol.
func (e Event) String() string {
	return eventNames[e]
}

// AnnounceRequest holds the values sent to the tracker in an announce.
type AnnounceRequest struct {
	InfoHash        [20]byte
	PeerID          [20]byte
	Port            uint16
	BytesUploaded   int64
	BytesDownloaded int64
	BytesLeft       int64
	Event           Event
	NumWant         int
}

// AnnounceResponse is the decoded reply of an announce.
type AnnounceResponse struct {
	Interval       time.Duration
	Leechers       int64
	Seeders        int64
	WarningMessage string
	Peers          []*net.TCPAddr
}

// ErrDecode is wrapped by errors returned for a response that cannot be decoded.
var ErrDecode = errors.New("cannot decode response")

// Error is the failure reason sent by the tracker.
type Error struct {
	FailureReason string
}

func (e *Error) Error() string { return "tracker error: " + e.FailureReason }

// ParseResponse decodes an announce response body.
func ParseResponse(body []byte) (*AnnounceResponse, error) {
	v, err := bencode.DecodeBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	d, ok := v.(bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: response is not a dictionary", ErrDecode)
	}
	if reason, err := d.String("failure reason"); err == nil {
		return nil, &Error{FailureReason: string(reason)}
	}
	resp := new(AnnounceResponse)
	if interval, err := d.Int("interval"); err == nil {
		resp.Interval = time.Duration(interval) * time.Second
	}
	if n, err := d.Int("complete"); err == nil {
		resp.Seeders = n
	}
	if n, err := d.Int("incomplete"); err == nil {
		resp.Leechers = n
	}
	if msg, err := d.String("warning message"); err == nil {
		resp.WarningMessage = string(msg)
	}
	resp.Peers, err = PeersFromResponse(d)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// PeersFromResponse returns the peer addresses in a decoded announce response.
// Peers may be in compact form or a list of dictionaries.
// A response with a failure reason returns *Error.
func PeersFromResponse(v bencode.Value) ([]*net.TCPAddr, error) {
	d, ok := v.(bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: response is not a dictionary", ErrDecode)
	}
	if reason, err := d.String("failure reason"); err == nil {
		return nil, &Error{FailureReason: string(reason)}
	}
	switch peers := d["peers"].(type) {
	case nil:
		return nil, nil
	case bencode.String:
		addrs, err := DecodePeersCompact(peers)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecode, err)
		}
		return addrs, nil
	case bencode.List:
		return decodePeersDictionary(peers)
	default:
		return nil, fmt.Errorf("%w: invalid peers value", ErrDecode)
	}
}

func decodePeersDictionary(l bencode.List) ([]*net.TCPAddr, error) {
	addrs := make([]*net.TCPAddr, 0, len(l))
	for _, v := range l {
		d, ok := v.(bencode.Dict)
		if !ok {
			return nil, fmt.Errorf("%w: peer is not a dictionary", ErrDecode)
		}
		ip, err := d.String("ip")
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecode, err)
		}
		port, err := d.Int("port")
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecode, err)
		}
		parsed := net.ParseIP(string(ip))
		if parsed == nil || port <= 0 || port > 65535 {
			continue
		}
		addrs = append(addrs, &net.TCPAddr{IP: parsed, Port: int(port)})
	}
	return addrs, nil
}
