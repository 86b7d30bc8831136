package workerpool

import "sync"

// Pooled overflow buffers for operations whose payload is larger than
// a worker's mapped op buffer. Size-bucketed (128KB/256KB/512KB/1MB)
// to balance memory efficiency against allocation reduction; the
// default mapped op buffer (constants.DefaultOpBufferSize, 64KB)
// covers the common case without pooling.
const (
	size128k = 128 * 1024
	size256k = 256 * 1024
	size512k = 512 * 1024
	size1m   = 1024 * 1024
)

var globalBufPool = struct {
	pool128k sync.Pool
	pool256k sync.Pool
	pool512k sync.Pool
	pool1m   sync.Pool
}{
	pool128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool512k: sync.Pool{New: func() any { b := make([]byte, size512k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// GetOverflowBuffer returns a buffer of at least the requested size,
// pooled up to 1MB; larger sizes get a fresh, unpooled buffer. Caller
// must call PutOverflowBuffer when done.
func GetOverflowBuffer(size uint32) []byte {
	switch {
	case size <= size128k:
		return (*globalBufPool.pool128k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*globalBufPool.pool256k.Get().(*[]byte))[:size]
	case size <= size512k:
		return (*globalBufPool.pool512k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*globalBufPool.pool1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutOverflowBuffer returns a buffer to the pool it was drawn from.
func PutOverflowBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size128k:
		globalBufPool.pool128k.Put(&buf)
	case size256k:
		globalBufPool.pool256k.Put(&buf)
	case size512k:
		globalBufPool.pool512k.Put(&buf)
	case size1m:
		globalBufPool.pool1m.Put(&buf)
	}
}
