// Package downloader schedules the pieces of a torrent over a pool of workers, one peer per worker.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/drizzle/internal/logger"
	"github.com/cenkalti/drizzle/internal/peerconn"
	"github.com/cenkalti/drizzle/internal/piece"
	"github.com/cenkalti/drizzle/internal/worker"
)

// ErrIncomplete is returned from Run when pieces are still missing after the last round.
var ErrIncomplete = errors.New("download is incomplete")

// Config of a Downloader.
type Config struct {
	// Number of workers. Each worker uses one peer at a time.
	Workers int
	// Maximum number of times the worker pool is started.
	// Pieces left over by failed workers are retried in the next round.
	MaxRounds int
	// Time to wait for the peer to unchoke us after sending interested.
	UnchokeTimeout time.Duration
	// Time to wait for an answer to outstanding requests. Zero waits forever.
	RequestTimeout time.Duration
}

// Downloader downloads every piece in its table.
type Downloader struct {
	pieces piece.Pieces
	queue  *Queue
	peers  *PeerSource
	config Config
	log    logger.Logger

	metrics *downloaderMetrics
}

// New returns a Downloader for pieces that gets its peers from peers.
func New(pieces piece.Pieces, peers *PeerSource, cfg Config) *Downloader {
	d := &Downloader{
		pieces: pieces,
		queue:  NewQueue(pieces.Missing()),
		peers:  peers,
		config: cfg,
		log:    logger.New("downloader"),
	}
	d.initMetrics()
	return d
}

// Run starts the worker pool and blocks until every piece is validated,
// no peer is left, MaxRounds is reached or ctx is cancelled.
// Cancelling ctx closes every peer connection. Otherwise connections stay open until Close.
func (d *Downloader) Run(ctx context.Context) error {
	doneC := make(chan struct{})
	defer close(doneC)
	go func() {
		select {
		case <-ctx.Done():
			d.peers.Close()
		case <-doneC:
		}
	}()

	for round := 1; ; round++ {
		d.log.Infof("Starting round #%d with %d workers, %d pieces in queue", round, d.config.Workers, d.queue.Len())
		var workers worker.Group
		for i := 0; i < d.config.Workers; i++ {
			id := i
			workers.StartWithOnFinishHandler(&pieceWorker{
				id:  id,
				d:   d,
				ctx: ctx,
				log: logger.New("worker " + strconv.Itoa(id)),
			}, func() {
				d.log.Debugf("Worker #%d has finished, %d workers running", id, workers.Running())
			})
		}
		roundDoneC := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				workers.Cancel()
			case <-roundDoneC:
			}
		}()
		workers.Wait()
		close(roundDoneC)

		if d.pieces.Complete() {
			d.log.Info("All pieces are downloaded")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.peers.Exhausted() {
			if d.metrics.PiecesValidated.Count() == 0 {
				return ErrNoPeers
			}
			return fmt.Errorf("%w: %d pieces missing: %s", ErrIncomplete, len(d.pieces.Missing()), ErrNoPeers)
		}
		if round >= d.config.MaxRounds {
			return fmt.Errorf("%w: %d pieces missing after %d rounds", ErrIncomplete, len(d.pieces.Missing()), round)
		}
		d.peers.Unpark()
	}
}

// Close closes every peer connection.
func (d *Downloader) Close() {
	d.peers.Close()
}

// requeue puts a piece that could not be downloaded back into the queue.
func (d *Downloader) requeue(p *piece.Piece) {
	p.Invalidate()
	p.SetRequested(false)
	d.queue.Push(p)
	d.metrics.PiecesRequeued.Inc(1)
}

// Connect returns a ConnectFunc that makes peer connections with the given settings.
func Connect(pieces piece.Pieces, infoHash, peerID [20]byte, cfg peerconn.Config) ConnectFunc {
	return func(ctx context.Context, addr string) (*peerconn.Conn, error) {
		c := peerconn.New(addr, pieces, infoHash, peerID, cfg)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		c.Run()
		return c, nil
	}
}
