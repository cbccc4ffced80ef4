// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package mempool provides a size-tiered, sync.Pool-backed byte buffer
// allocator, adapted from the teacher's mempool package and trimmed of its
// alignment-sensitive and debug-tracing variants: this module has no SIMD
// or page-alignment-sensitive I/O path, only the per-chunk framing buffer
// of httpc's chunked body writer.
package mempool

import "sync"

// Allocator is the buffer-pool contract. In this module httpc's chunked
// body writer draws its per-chunk buffer from Default instead of raw
// make([]byte, ...); header and identity-body writes do not use it.
type Allocator interface {
	Malloc(size int) *[]byte
	Append(buf *[]byte, more ...byte) *[]byte
	AppendString(buf *[]byte, more string) *[]byte
	Free(buf *[]byte)
}

// Default is the package-level TieredAllocator every caller in this module
// uses unless a test substitutes one.
var Default Allocator = NewTieredAllocator([]int{64, 256, 1024, 4096, 16384, 65536, 262144})

// TieredAllocator buckets buffers into fixed size classes, each backed by
// its own sync.Pool, and falls back to plain make() above the largest
// class (where pooling stops paying for itself).
type TieredAllocator struct {
	sizes []int
	pools []sync.Pool
}

// NewTieredAllocator builds an Allocator with one sync.Pool per size class
// in sizes, which must be ascending.
func NewTieredAllocator(sizes []int) *TieredAllocator {
	a := &TieredAllocator{
		sizes: append([]int(nil), sizes...),
		pools: make([]sync.Pool, len(sizes)),
	}
	for i, size := range sizes {
		sz := size
		a.pools[i].New = func() interface{} {
			b := make([]byte, sz)
			return &b
		}
	}
	return a
}

func (a *TieredAllocator) classFor(size int) int {
	for i, sz := range a.sizes {
		if size <= sz {
			return i
		}
	}
	return -1
}

// Malloc returns a buffer of length size. Callers that need it zeroed
// should zero it themselves: pooled buffers are reused as they are, so the
// bytes within the requested length may be stale data from an earlier use.
func (a *TieredAllocator) Malloc(size int) *[]byte {
	class := a.classFor(size)
	if class < 0 {
		b := make([]byte, size)
		return &b
	}
	pb := a.pools[class].Get().(*[]byte)
	if cap(*pb) < size {
		b := make([]byte, size)
		return &b
	}
	*pb = (*pb)[:size]
	return pb
}

// Append grows buf (a pointer obtained from Malloc, or nil) by more,
// reallocating from the pool if needed.
func (a *TieredAllocator) Append(buf *[]byte, more ...byte) *[]byte {
	if buf == nil {
		nb := a.Malloc(len(more))
		copy(*nb, more)
		return nb
	}
	need := len(*buf) + len(more)
	if cap(*buf) >= need {
		*buf = append(*buf, more...)
		return buf
	}
	nb := a.Malloc(need)
	copy(*nb, *buf)
	copy((*nb)[len(*buf):], more)
	a.Free(buf)
	return nb
}

// AppendString is Append for a string, avoiding a []byte conversion.
func (a *TieredAllocator) AppendString(buf *[]byte, more string) *[]byte {
	return a.Append(buf, []byte(more)...)
}

// Free returns buf to the pool bucket matching its capacity, if any.
func (a *TieredAllocator) Free(buf *[]byte) {
	if buf == nil {
		return
	}
	class := a.classFor(cap(*buf))
	if class < 0 || cap(*buf) != a.sizes[class] {
		return
	}
	*buf = (*buf)[:cap(*buf)]
	a.pools[class].Put(buf)
}

// Malloc is a convenience wrapper over Default.
func Malloc(size int) *[]byte { return Default.Malloc(size) }

// Append is a convenience wrapper over Default.
func Append(buf *[]byte, more ...byte) *[]byte { return Default.Append(buf, more...) }

// AppendString is a convenience wrapper over Default.
func AppendString(buf *[]byte, more string) *[]byte { return Default.AppendString(buf, more) }

// Free is a convenience wrapper over Default.
func Free(buf *[]byte) { Default.Free(buf) }
