package optimize

import (
	"sync"
)

// BytePool recycles fixed-size byte buffers. The media path needs one
// buffer per datagram; pooling keeps those allocations off the garbage
// collector at streaming rates.
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool returns a pool handing out buffers of exactly size bytes.
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Get returns a buffer of the pool's size. Contents are undefined.
func (p *BytePool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put hands a buffer back. Resliced buffers are fine as long as their
// capacity still covers the pool size; anything smaller is dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) >= p.size {
		p.pool.Put(b[:p.size])
	}
}
