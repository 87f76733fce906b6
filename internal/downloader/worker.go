package downloader

import (
	"context"
	"errors"

	"github.com/cenkalti/drizzle/internal/logger"
	"github.com/cenkalti/drizzle/internal/peerconn"
	"github.com/cenkalti/drizzle/internal/piece"
)

var (
	errNothingAvailable = errors.New("peer has no piece that we need")
	errStopped          = errors.New("worker is stopped")
)

// pieceWorker pairs pieces from the queue with one peer at a time.
type pieceWorker struct {
	id  int
	d   *Downloader
	ctx context.Context
	log logger.Logger
}

// Run acquires peers until the queue is empty or no peer is left.
func (w *pieceWorker) Run(stopC chan struct{}) {
	for {
		conn, err := w.d.peers.Acquire(w.ctx)
		if err != nil {
			w.log.Debugln("Stopping worker:", err)
			return
		}
		w.log.Debugf("Using peer %s", conn)
		err = w.usePeer(conn, stopC)
		switch {
		case err == ErrEmpty:
			w.d.peers.Release(conn)
			w.log.Debug("Queue is empty")
			return
		case err == errStopped:
			w.d.peers.Release(conn)
			return
		case err == errNothingAvailable:
			w.log.Debugf("Peer %s has no piece that we need", conn)
			if err = conn.SendNotInterested(); err != nil {
				w.log.Warningf("Dropping peer %s: %s", conn, err)
				conn.Close()
				continue
			}
			w.d.peers.Park(conn)
		default:
			w.log.Warningf("Dropping peer %s: %s", conn, err)
			conn.Close()
		}
	}
}

// usePeer downloads pieces from conn until the queue is empty or the peer is useless.
func (w *pieceWorker) usePeer(conn *peerconn.Conn, stopC chan struct{}) error {
	if err := conn.SendInterested(); err != nil {
		return err
	}
	if err := conn.WaitUnchoke(w.d.config.UnchokeTimeout); err != nil {
		return err
	}
	for {
		select {
		case <-stopC:
			return errStopped
		default:
		}
		p, err := w.nextPiece(conn)
		if err != nil {
			return err
		}
		err = w.downloadPiece(conn, p)
		var verr *piece.ValidationError
		if errors.As(err, &verr) {
			w.log.Errorf("Piece #%d from %s failed validation, will be downloaded again", p.Index, conn)
			continue
		}
		if err != nil {
			return err
		}
	}
}

// nextPiece returns the lowest-indexed piece that the peer has and that is neither verified nor taken by a worker.
// Pieces popped while looking for it are pushed back to the queue unchanged.
func (w *pieceWorker) nextPiece(conn *peerconn.Conn) (*piece.Piece, error) {
	available := conn.Bitfield()
	available.AndNot(w.d.pieces.HaveOrRequestedBitfield())
	for {
		target, ok := available.FirstSet()
		if !ok {
			if w.d.queue.Len() == 0 {
				return nil, ErrEmpty
			}
			return nil, errNothingAvailable
		}
		for n := w.d.queue.Len(); n > 0; n-- {
			p, err := w.d.queue.Pop()
			if err != nil {
				return nil, err
			}
			if p.Index == target {
				return p, nil
			}
			if !p.Have() {
				w.d.queue.Push(p)
			}
		}
		// Another worker has popped it but not marked it as requested yet.
		available.Clear(target)
	}
}

// downloadPiece requests the blocks of p through conn until every block is received and the piece is validated.
// On any error other than a hash mismatch the piece is requeued. A piece that fails validation is requeued too.
func (w *pieceWorker) downloadPiece(conn *peerconn.Conn, p *piece.Piece) (err error) {
	p.SetRequested(true)
	defer func() {
		if err != nil {
			w.d.requeue(p)
		}
	}()
	w.log.Debugf("Downloading piece #%d from %s", p.Index, conn)
	cfg := w.d.config
	for {
		if err = conn.ReserveRequest(cfg.RequestTimeout); err != nil {
			return err
		}
		b, ok := p.RequestBlock()
		if ok {
			if err = conn.SendRequest(p.Index, b); err != nil {
				return err
			}
			continue
		}
		conn.DecrementBacklog()

		if p.Downloaded() {
			return w.validate(p)
		}
		// Blocks are requested but not received. Either the answers are on the way
		// or the requests are lost because the peer choked us.
		if conn.Backlog() > 0 {
			if err = conn.WaitBacklogChange(cfg.RequestTimeout); err != nil {
				return err
			}
			continue
		}
		if n := p.InvalidateCorruptBlocks(); n > 0 {
			w.log.Debugf("Requesting %d blocks of piece #%d again", n, p.Index)
		}
	}
}

func (w *pieceWorker) validate(p *piece.Piece) error {
	ok, err := p.Validate()
	if err != nil {
		w.d.metrics.ValidationFailures.Inc(1)
		w.d.metrics.BytesWasted.Inc(int64(p.Length))
		return err
	}
	if !ok {
		return errors.New("piece is not downloaded")
	}
	w.d.metrics.PiecesValidated.Inc(1)
	w.d.metrics.BytesDownloaded.Inc(int64(p.Length))
	w.log.Debugf("Piece #%d is validated", p.Index)
	return nil
}
