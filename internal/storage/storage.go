// Package storage contains the interface for persisting downloaded torrent data.
package storage

import "io"

// Sink receives the content of a torrent once every piece is verified.
type Sink interface {
	// Write stores size bytes read from r under name.
	// r produces the data of all pieces in order.
	Write(name string, r io.Reader, size int64) error
}
