// Package bufferpool recycles fixed capacity byte buffers used for block data.
package bufferpool

import "sync"

// Pool hands out Buffers that share the same capacity.
type Pool struct {
	size int
	pool sync.Pool
}

// New returns a new Pool for Buffers with capacity size.
func New(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() interface{} {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a Buffer holding n bytes. n must not exceed the pool capacity.
func (p *Pool) Get(n int) Buffer {
	if n > p.size {
		panic("buffer length exceeds pool capacity")
	}
	buf := p.pool.Get().(*[]byte)
	return Buffer{Data: (*buf)[:n], buf: buf, pool: p}
}

// Buffer wraps a pooled slice. The zero value holds no data and Release on it is a no-op.
type Buffer struct {
	Data []byte
	buf  *[]byte
	pool *Pool
}

// Release returns the buffer to its pool. Data must not be used afterwards.
func (b *Buffer) Release() {
	if b.pool == nil {
		return
	}
	b.pool.pool.Put(b.buf)
	*b = Buffer{}
}
