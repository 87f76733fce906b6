// Package drizzle downloads single-file torrents from the peers returned by an HTTP tracker.
package drizzle

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/ratelimit"

	"github.com/cenkalti/drizzle/internal/downloader"
	"github.com/cenkalti/drizzle/internal/logger"
	"github.com/cenkalti/drizzle/internal/metainfo"
	"github.com/cenkalti/drizzle/internal/peerconn"
	"github.com/cenkalti/drizzle/internal/piece"
	"github.com/cenkalti/drizzle/internal/statsdb"
	"github.com/cenkalti/drizzle/internal/storage"
	"github.com/cenkalti/drizzle/internal/storage/filestorage"
	"github.com/cenkalti/drizzle/internal/tracker"
	"github.com/cenkalti/drizzle/internal/tracker/httptracker"
)

// Version of the client. Set when building: "$ go build -ldflags "-X github.com/cenkalti/drizzle.Version=0.1.0" ./cmd/drizzle"
var Version = "0.0.0"

// http://www.bittorrent.org/beps/bep_0020.html
var peerIDPrefix = []byte("-DZ0001-")

// ErrNoPeers is returned when the tracker does not return any peer address,
// or when every peer is lost before a single piece is downloaded.
var ErrNoPeers = downloader.ErrNoPeers

// Client downloads torrents into a directory.
type Client struct {
	config  Config
	peerID  [20]byte
	storage *filestorage.FileStorage
	stats   *statsdb.DB
	bucket  *ratelimit.Bucket
	log     logger.Logger
}

// Result is the outcome of a download.
type Result struct {
	// Path of the written file. Empty if the download has failed.
	Path     string
	Stats    downloader.Stats
	Duration time.Duration
}

// NewClient returns a new Client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	peerID, err := generatePeerID()
	if err != nil {
		return nil, err
	}
	sto, err := filestorage.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	c := &Client{
		config:  cfg,
		peerID:  peerID,
		storage: sto,
		log:     logger.New("client"),
	}
	if cfg.DownloadRateLimit > 0 {
		c.bucket = ratelimit.NewBucketWithRate(float64(cfg.DownloadRateLimit), cfg.DownloadRateLimit)
	}
	if cfg.StatsDatabase != "" {
		c.stats, err = statsdb.Open(cfg.StatsDatabase)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func generatePeerID() ([20]byte, error) {
	var id [20]byte
	copy(id[:], peerIDPrefix)
	_, err := rand.Read(id[len(peerIDPrefix):])
	return id, err
}

// PeerID returns the id sent in handshakes and announces.
func (c *Client) PeerID() [20]byte { return c.peerID }

// Stats returns the database of finished downloads. It is nil if recording is disabled.
func (c *Client) Stats() *statsdb.DB { return c.stats }

// Close the client and release its resources.
func (c *Client) Close() error {
	var result error
	if c.stats != nil {
		if err := c.stats.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// Download the torrent in the file at torrentPath.
func (c *Client) Download(ctx context.Context, torrentPath string) (*Result, error) {
	f, err := os.Open(torrentPath) // nolint: gosec
	if err != nil {
		return nil, err
	}
	mi, err := metainfo.New(f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}
	return c.DownloadMetaInfo(ctx, mi)
}

// DownloadMetaInfo downloads the torrent described by mi and writes its content under the data directory.
// The Result is returned even if the download fails.
func (c *Client) DownloadMetaInfo(ctx context.Context, mi *metainfo.MetaInfo) (*Result, error) {
	started := time.Now()
	log := logger.New("download " + mi.Name)
	pieces := piece.NewPieces(mi)
	res := &Result{Stats: downloader.Stats{PiecesTotal: len(pieces), PiecesMissing: len(pieces)}}

	tr, err := httptracker.New(mi.Announce, c.config.TrackerTimeout, "drizzle/"+Version)
	if err != nil {
		return res, err
	}
	defer tr.Close()

	resp, err := c.announce(ctx, tr, mi, pieces, tracker.EventStarted)
	if err != nil {
		return res, c.finish(mi, res, started, fmt.Errorf("announce error: %w", err))
	}
	if len(resp.Peers) == 0 {
		return res, c.finish(mi, res, started, ErrNoPeers)
	}
	log.Infof("Tracker returned %d peers", len(resp.Peers))
	addrs := make([]string, len(resp.Peers))
	for i, addr := range resp.Peers {
		addrs[i] = addr.String()
	}

	pcfg := peerconn.Config{
		DialTimeout: c.config.ConnectTimeout,
		GapTimeout:  c.config.GapTimeout,
		MaxBacklog:  c.config.MaxBacklog,
		Bucket:      c.bucket,
	}
	source := downloader.NewPeerSource(addrs, downloader.Connect(pieces, mi.InfoHash, c.peerID, pcfg))
	d := downloader.New(pieces, source, downloader.Config{
		Workers:        c.config.Workers,
		MaxRounds:      c.config.MaxRounds,
		UnchokeTimeout: c.config.UnchokeTimeout,
		RequestTimeout: c.config.RequestTimeout,
	})
	err = d.Run(ctx)
	res.Stats = d.Stats()
	d.Close()
	if err == nil {
		if err = writePieces(c.storage, mi.Name, pieces); err == nil {
			res.Path, _ = c.storage.Path(mi.Name)
		}
	}

	event := tracker.EventCompleted
	if err != nil {
		event = tracker.EventStopped
	}
	c.announceFinal(tr, mi, pieces, res.Stats, event)

	return res, c.finish(mi, res, started, err)
}

// writePieces streams the validated pieces into sink in index order.
func writePieces(sink storage.Sink, name string, pieces piece.Pieces) error {
	pr, pw := io.Pipe()
	go func() {
		_, err := pieces.WriteTo(pw)
		pw.CloseWithError(err)
	}()
	err := sink.Write(name, pr, pieces.Length())
	_ = pr.Close()
	return err
}

func (c *Client) announce(ctx context.Context, tr *httptracker.HTTPTracker, mi *metainfo.MetaInfo, pieces piece.Pieces, e tracker.Event) (*tracker.AnnounceResponse, error) {
	req := tracker.AnnounceRequest{
		InfoHash:  mi.InfoHash,
		PeerID:    c.peerID,
		Port:      c.config.Port,
		BytesLeft: pieces.Missing().Length(),
		Event:     e,
		NumWant:   c.config.TrackerNumWant,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxElapsedTime = c.config.TrackerRetryTimeout

	var resp *tracker.AnnounceResponse
	op := func() error {
		var err error
		resp, err = tr.Announce(ctx, req)
		var terr *tracker.Error
		if errors.As(err, &terr) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		c.log.Warningf("Announce to %s failed: %s, retrying in %s", tr.URL(), err, d.Round(time.Millisecond))
	}
	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
	return resp, err
}

// announceFinal sends the last event of the download. Failures are only logged.
func (c *Client) announceFinal(tr *httptracker.HTTPTracker, mi *metainfo.MetaInfo, pieces piece.Pieces, stats downloader.Stats, e tracker.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.TrackerTimeout)
	defer cancel()
	req := tracker.AnnounceRequest{
		InfoHash:        mi.InfoHash,
		PeerID:          c.peerID,
		Port:            c.config.Port,
		BytesDownloaded: stats.BytesDownloaded,
		BytesLeft:       pieces.Missing().Length(),
		Event:           e,
	}
	if _, err := tr.Announce(ctx, req); err != nil {
		c.log.Debugf("Cannot announce %s event: %s", e, err)
	}
}

// finish records the result into the stats database and returns err combined with the recording error.
func (c *Client) finish(mi *metainfo.MetaInfo, res *Result, started time.Time, err error) error {
	res.Duration = time.Since(started)
	if err != nil {
		c.log.Errorf("Download of %q has failed: %s", mi.Name, err)
	} else {
		c.log.Infof("Download of %q is completed in %s", mi.Name, res.Duration.Round(time.Millisecond))
	}
	if c.stats == nil {
		return err
	}
	r := &statsdb.Record{
		InfoHash:           mi.InfoHash,
		Name:               mi.Name,
		Length:             mi.Length,
		BytesDownloaded:    res.Stats.BytesDownloaded,
		BytesWasted:        res.Stats.BytesWasted,
		ValidationFailures: res.Stats.ValidationFailures,
		PeersConnected:     res.Stats.PeersConnected,
		StartedAt:          started,
		FinishedAt:         started.Add(res.Duration),
	}
	if err != nil {
		r.Error = err.Error()
	}
	if werr := c.stats.Write(r); werr != nil {
		c.log.Errorln("Cannot record download stats:", werr)
		if err != nil {
			return multierror.Append(err, werr)
		}
		return werr
	}
	return err
}
