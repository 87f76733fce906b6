package tracker

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cenkalti/drizzle/internal/bencode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePeersCompact(t *testing.T) {
	addrs, err := DecodePeersCompact([]byte{1, 2, 3, 4, 0x1a, 0xe1, 127, 0, 0, 1, 0, 80})
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, "1.2.3.4:6881", addrs[0].String())
	assert.Equal(t, "127.0.0.1:80", addrs[1].String())

	_, err = DecodePeersCompact([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestParseResponse(t *testing.T) {
	body := "d8:completei3e10:incompletei1e8:intervali1800e5:peers6:" + string([]byte{10, 0, 0, 1, 0x1a, 0xe1}) + "e"
	resp, err := ParseResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, resp.Interval)
	assert.Equal(t, int64(3), resp.Seeders)
	assert.Equal(t, int64(1), resp.Leechers)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, &net.TCPAddr{IP: net.IP{10, 0, 0, 1}, Port: 6881}, resp.Peers[0])
}

func TestPeersDictionary(t *testing.T) {
	v, err := bencode.DecodeBytes([]byte("d5:peersld2:ip9:127.0.0.14:porti6881eed2:ip3:bad4:porti1eeee"))
	require.NoError(t, err)
	addrs, err := PeersFromResponse(v)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "127.0.0.1:6881", addrs[0].String())
}

func TestFailureReason(t *testing.T) {
	_, err := ParseResponse([]byte("d14:failure reason9:not founde"))
	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "not found", terr.FailureReason)
}

func TestInvalidResponse(t *testing.T) {
	for _, body := range []string{"", "i1e", "d5:peers5:abcdee", "d5:peersi1ee"} {
		_, err := ParseResponse([]byte(body))
		assert.True(t, errors.Is(err, ErrDecode), "%q: %v", body, err)
	}
}
