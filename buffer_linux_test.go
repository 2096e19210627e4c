//go:build linux
// +build linux

package linuxaio

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestAllocAligned(t *testing.T) {
	align := Alignment()
	for _, sz := range []int{1, 511, 512, 4096, 65536} {
		buf := AllocAligned(sz)
		assert.Equal(t, sz, len(buf))
		assert.Equal(t, sz, cap(buf))
		assert.Zero(t, uintptr(unsafe.Pointer(&buf[0]))%uintptr(align))
		ReleaseAligned(buf)
	}
}

func TestAllocAlignedTo(t *testing.T) {
	buf := AllocAlignedTo(100, 512)
	assert.Equal(t, 100, len(buf))
	assert.Zero(t, uintptr(unsafe.Pointer(&buf[0]))%512)
	ReleaseAligned(buf)

	// alignment of one is a plain allocation
	buf = AllocAlignedTo(64, 1)
	assert.Equal(t, 64, len(buf))
}

func TestReleaseAligned(t *testing.T) {
	buf := AllocAligned(512)
	for i := range buf {
		buf[i] = 0xaa
	}
	ReleaseAligned(buf)
	for i := range buf {
		assert.Equal(t, uint8(0), buf[i])
	}

	// releasing twice or releasing an untracked buffer must not panic
	ReleaseAligned(buf)
	ReleaseAligned(nil)
	ReleaseAligned(make([]uint8, 4))
}
