package mango

import (
	"sync"
)

// bufferPool recycles base64 decode buffers. A perp event queue account is
// ~51KB and arrives with every notification.
var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, RequiredSize(DefaultCapacity))
		return &b
	},
}

// acquireBuffer returns a pooled buffer with length n.
func acquireBuffer(n int) *[]byte {
	bp := bufferPool.Get().(*[]byte)
	if cap(*bp) < n {
		*bp = make([]byte, n)
	}
	*bp = (*bp)[:n]
	return bp
}

// releaseBuffer returns a buffer to the pool. Nothing may reference it afterwards.
func releaseBuffer(bp *[]byte) {
	if bp == nil {
		return
	}
	*bp = (*bp)[:0]
	bufferPool.Put(bp)
}

// Warmup pre-allocates decode buffers to avoid allocation bursts at startup.
func Warmup(capacity, count int) {
	bufs := make([]*[]byte, 0, count)
	for i := 0; i < count; i++ {
		bufs = append(bufs, acquireBuffer(RequiredSize(capacity)))
	}
	for _, b := range bufs {
		releaseBuffer(b)
	}
}
