package drizzle

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/drizzle/internal/metainfo"
	"github.com/cenkalti/drizzle/internal/peertest"
	"github.com/cenkalti/drizzle/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	cfg := DefaultConfig
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.StatsDatabase = filepath.Join(dir, "stats.db")
	cfg.Workers = 4
	cfg.ConnectTimeout = time.Second
	cfg.GapTimeout = 100 * time.Millisecond
	cfg.UnchokeTimeout = time.Second
	cfg.RequestTimeout = 5 * time.Second
	cfg.TrackerTimeout = time.Second
	cfg.TrackerRetryTimeout = time.Second
	return cfg
}

func compactPeers(t *testing.T, addrs ...string) string {
	tcpAddrs := make([]*net.TCPAddr, len(addrs))
	for i, a := range addrs {
		addr, err := net.ResolveTCPAddr("tcp4", a)
		require.NoError(t, err)
		tcpAddrs[i] = addr
	}
	return string(tracker.EncodePeersCompact(tcpAddrs))
}

// startTracker returns an HTTP tracker that replies every announce with response.
func startTracker(t *testing.T, response map[string]interface{}) (*httptest.Server, *int32) {
	body, err := bencode.EncodeBytes(response)
	require.NoError(t, err)
	var announces int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&announces, 1)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &announces
}

func TestDownload(t *testing.T) {
	data := make([]byte, 5*32<<10+1000)
	rand.New(rand.NewSource(3)).Read(data)

	seeders := make([]*peertest.Seeder, 3)
	addrs := make([]string, len(seeders))
	info, err := peertest.Torrent(data, 32<<10)
	require.NoError(t, err)
	for i := range seeders {
		seeders[i] = peertest.NewSeeder(info, data)
		addrs[i], err = seeders[i].Start()
		require.NoError(t, err)
		defer seeders[i].Close()
	}

	srv, announces := startTracker(t, map[string]interface{}{
		"interval": 1800,
		"peers":    compactPeers(t, addrs...),
	})

	torrent, err := metainfo.NewBytes("test.bin", bytes.NewReader(data), 32<<10, srv.URL+"/announce")
	require.NoError(t, err)
	torrentPath := filepath.Join(t.TempDir(), "test.torrent")
	require.NoError(t, os.WriteFile(torrentPath, torrent, 0600))

	c, err := NewClient(testConfig(t))
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Download(context.Background(), torrentPath)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Stats.PiecesTotal)
	assert.Equal(t, 0, res.Stats.PiecesMissing)
	assert.Equal(t, int64(len(data)), res.Stats.BytesDownloaded)

	written, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, data, written)
	// started and completed
	assert.Equal(t, int32(2), atomic.LoadInt32(announces))

	records, err := c.Stats().List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, info.InfoHash, records[0].InfoHash)
	assert.Equal(t, int64(len(data)), records[0].BytesDownloaded)
	assert.Empty(t, records[0].Error)
}

func TestDownloadNoPeers(t *testing.T) {
	info, err := peertest.Torrent([]byte("hello"), 16384)
	require.NoError(t, err)
	srv, _ := startTracker(t, map[string]interface{}{"interval": 1800, "peers": ""})
	info.Announce = srv.URL + "/announce"

	c, err := NewClient(testConfig(t))
	require.NoError(t, err)
	defer c.Close()

	res, err := c.DownloadMetaInfo(context.Background(), info)
	assert.True(t, errors.Is(err, ErrNoPeers), "%v", err)
	assert.Empty(t, res.Path)

	records, err := c.Stats().List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ErrNoPeers.Error(), records[0].Error)
}

func TestDownloadTrackerFailure(t *testing.T) {
	info, err := peertest.Torrent([]byte("hello"), 16384)
	require.NoError(t, err)
	srv, announces := startTracker(t, map[string]interface{}{"failure reason": "unregistered torrent"})
	info.Announce = srv.URL + "/announce"

	cfg := testConfig(t)
	cfg.StatsDatabase = ""
	c, err := NewClient(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.DownloadMetaInfo(context.Background(), info)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered torrent")
	// Failure reasons are not retried.
	assert.Equal(t, int32(1), atomic.LoadInt32(announces))
	assert.Nil(t, c.Stats())
}

func TestDownloadInvalidTorrent(t *testing.T) {
	torrentPath := filepath.Join(t.TempDir(), "invalid.torrent")
	require.NoError(t, os.WriteFile(torrentPath, []byte("d8:announce3:urle"), 0600))

	cfg := testConfig(t)
	cfg.StatsDatabase = ""
	c, err := NewClient(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Download(context.Background(), torrentPath)
	var merr *metainfo.Error
	assert.True(t, errors.As(err, &merr), "%v", err)
}

func TestPeerID(t *testing.T) {
	c, err := NewClient(testConfig(t))
	require.NoError(t, err)
	defer c.Close()
	id := c.PeerID()
	assert.Equal(t, "-DZ0001-", string(id[:8]))
}
