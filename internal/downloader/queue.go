package downloader

import (
	"errors"
	"sync"

	"github.com/cenkalti/drizzle/internal/piece"
)

// ErrEmpty is returned from Pop when there is no piece in the queue.
var ErrEmpty = errors.New("queue is empty")

// Queue is a FIFO of pieces waiting to be downloaded. It is safe for concurrent use.
// A piece is held by at most one worker between Pop and Push.
type Queue struct {
	m      sync.Mutex
	pieces []*piece.Piece
}

// NewQueue returns a queue holding pieces in the given order.
func NewQueue(pieces []*piece.Piece) *Queue {
	q := &Queue{pieces: make([]*piece.Piece, len(pieces))}
	copy(q.pieces, pieces)
	return q
}

// Push appends p to the end of the queue.
func (q *Queue) Push(p *piece.Piece) {
	q.m.Lock()
	q.pieces = append(q.pieces, p)
	q.m.Unlock()
}

// Pop removes and returns the piece at the head of the queue. It never blocks.
func (q *Queue) Pop() (*piece.Piece, error) {
	q.m.Lock()
	defer q.m.Unlock()
	if len(q.pieces) == 0 {
		return nil, ErrEmpty
	}
	p := q.pieces[0]
	q.pieces[0] = nil
	q.pieces = q.pieces[1:]
	return p, nil
}

// Len returns the number of pieces in the queue.
func (q *Queue) Len() int {
	q.m.Lock()
	defer q.m.Unlock()
	return len(q.pieces)
}

// Indexes returns the indexes of queued pieces in order.
func (q *Queue) Indexes() []uint32 {
	q.m.Lock()
	defer q.m.Unlock()
	indexes := make([]uint32, len(q.pieces))
	for i, p := range q.pieces {
		indexes[i] = p.Index
	}
	return indexes
}
