package optimize

import (
	"bytes"
	"sync"
)

// BufferPool recycles encode buffers for frames. Buffers that grew past
// maxRetained are dropped so one oversized frame does not pin memory.
type BufferPool struct {
	pool        sync.Pool
	maxRetained int
}

// NewBufferPool creates a pool whose buffers start with initial capacity.
func NewBufferPool(initial, maxRetained int) *BufferPool {
	if maxRetained < initial {
		maxRetained = initial
	}
	return &BufferPool{
		maxRetained: maxRetained,
		pool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, initial))
			},
		},
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. buf must not be used afterwards.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > p.maxRetained {
		return
	}
	p.pool.Put(buf)
}

// FrameBuffers is sized for 1080p JPEG frames.
var FrameBuffers = NewBufferPool(256<<10, 4<<20)
