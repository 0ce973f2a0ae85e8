// Package buffer pools the byte slices used to read frames off stream and
// datagram sockets, so the hot dispatch loops don't allocate per read.
package buffer

import "sync"

// MaxFrameSize is the largest frame the codec will read or write (spec
// §4.1: "the buffer is 64 KiB").
const MaxFrameSize = 64 * 1024

// Pool hands out MaxFrameSize-sized byte slices.
var Pool = sync.Pool{
	New: func() any {
		b := make([]byte, MaxFrameSize)
		return &b
	},
}

// Get returns a pooled buffer. Callers must Put it back when done.
func Get() *[]byte { return Pool.Get().(*[]byte) }

// Put returns a buffer obtained from Get to the pool.
func Put(b *[]byte) { Pool.Put(b) }
