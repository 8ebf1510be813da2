// Package bufpool pools the byte slices used to read and build DNS
// datagrams, avoiding a fresh allocation per query under load.
package bufpool

import "sync"

// Buffer sizes mirror common DNS message sizes over UDP.
const (
	QuerySize = 512   // typical encoded query/compact response
	MaxSize   = 65535 // maximum possible DNS message size
)

var queryPool = sync.Pool{
	New: func() any {
		buf := make([]byte, QuerySize)
		return &buf
	},
}

var maxPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxSize)
		return &buf
	},
}

// GetQueryBuffer returns a QuerySize-length buffer suitable for an
// encoded query or a typical response.
func GetQueryBuffer() []byte {
	p := queryPool.Get().(*[]byte)
	return (*p)[:QuerySize]
}

// PutQueryBuffer returns buf to the pool. Buffers with a capacity below
// QuerySize are silently dropped instead of pooled.
func PutQueryBuffer(buf []byte) {
	if cap(buf) < QuerySize {
		return
	}
	buf = buf[:QuerySize]
	queryPool.Put(&buf)
}

// GetMaxBuffer returns a MaxSize-length buffer, sized for the largest
// possible inbound datagram read.
func GetMaxBuffer() []byte {
	p := maxPool.Get().(*[]byte)
	return (*p)[:MaxSize]
}

// PutMaxBuffer returns buf to the pool.
func PutMaxBuffer(buf []byte) {
	if cap(buf) < MaxSize {
		return
	}
	buf = buf[:MaxSize]
	maxPool.Put(&buf)
}
