// Package gapreader reads from connections with a timeout between received bytes
// instead of a single deadline for the whole read.
package gapreader

import (
	"errors"
	"io"
	"net"
	"time"
)

var (
	// ErrGapTimeout is returned when no bytes arrive within one gap window.
	ErrGapTimeout = errors.New("no data received within gap timeout")
	// ErrStopped is returned by ReadFullPatient when the stop channel is closed.
	ErrStopped = errors.New("read stopped")
)

// DeadlineReader is a reader with a settable read deadline, such as net.Conn.
type DeadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ReadFull reads exactly len(buf) bytes from r.
// The read deadline is moved gap into the future before every Read call,
// so a peer that keeps sending bytes never times out.
// It fails with ErrGapTimeout only when a Read returns no bytes within gap.
// A zero gap disables the deadline.
func ReadFull(r DeadlineReader, buf []byte, gap time.Duration) (int, error) {
	return readFull(r, buf, gap, false, nil)
}

// ReadFullPatient is like ReadFull but a gap timeout is not an error.
// It keeps waiting until buf is filled, the reader fails or stopC is closed.
func ReadFullPatient(r DeadlineReader, buf []byte, gap time.Duration, stopC <-chan struct{}) (int, error) {
	return readFull(r, buf, gap, true, stopC)
}

func readFull(r DeadlineReader, buf []byte, gap time.Duration, patient bool, stopC <-chan struct{}) (int, error) {
	var read int
	for read < len(buf) {
		var deadline time.Time
		if gap > 0 {
			deadline = time.Now().Add(gap)
		}
		if err := r.SetReadDeadline(deadline); err != nil {
			return read, err
		}
		n, err := r.Read(buf[read:])
		read += n
		if err == nil {
			continue
		}
		if isTimeout(err) {
			if n > 0 {
				continue
			}
			if patient {
				select {
				case <-stopC:
					return read, ErrStopped
				default:
					continue
				}
			}
			return read, ErrGapTimeout
		}
		if err == io.EOF && read > 0 && read < len(buf) {
			err = io.ErrUnexpectedEOF
		}
		if read == len(buf) {
			err = nil
		}
		return read, err
	}
	return read, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
