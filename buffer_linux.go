//go:build linux
// +build linux

package linuxaio

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	alignedMtx     sync.Mutex
	alignedBuffers = make(map[unsafe.Pointer][]uint8)
)

// Alignment returns the page size, which satisfies the alignment
// requirement of every fd class, O_DIRECT block devices included.
func Alignment() int {
	return unix.Getpagesize()
}

// AllocAligned returns a page-aligned buffer of sz bytes, safe to hand to
// the kernel through read/write requests against O_DIRECT descriptors.
// The context never checks alignment itself; a misaligned buffer from
// elsewhere surfaces as a kernel error on the request's event.
func AllocAligned(sz int) []uint8 {
	return AllocAlignedTo(sz, Alignment())
}

// AllocAlignedTo returns a buffer of sz bytes whose first element is
// aligned to align bytes.
func AllocAlignedTo(sz, align int) []uint8 {
	if align <= 1 {
		return make([]uint8, sz)
	}
	raw := make([]uint8, sz+align)
	off := align - int(uintptr(pointerOf(raw))%uintptr(align))
	if off == align {
		off = 0
	}
	buf := raw[off : off+sz : off+sz]
	alignedMtx.Lock()
	alignedBuffers[pointerOf(buf)] = raw
	alignedMtx.Unlock()
	return buf
}

// ReleaseAligned zeroes a buffer obtained from AllocAlignedTo and drops
// the bookkeeping that pins its backing allocation. Call it once the
// buffer's request is no longer in flight; the slice must not be used
// afterwards.
func ReleaseAligned(b []uint8) {
	if len(b) == 0 {
		return
	}
	alignedMtx.Lock()
	raw, ok := alignedBuffers[pointerOf(b)]
	if ok {
		delete(alignedBuffers, pointerOf(b))
	}
	alignedMtx.Unlock()
	if !ok {
		raw = b
	}
	for i := range raw {
		raw[i] = 0x0
	}
}
