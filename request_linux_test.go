//go:build linux
// +build linux

package linuxaio

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRequest_Constructors(t *testing.T) {
	buf := make([]uint8, 1024)

	r := NewReadRequest(7, buf, 2048)
	assert.Equal(t, CmdPread, r.Opcode())
	assert.Equal(t, uintptr(7), r.FD())
	assert.Equal(t, int64(2048), r.Offset())
	assert.Equal(t, uint64(uintptr(unsafe.Pointer(&buf[0]))), r.cb.aioBuf)
	assert.Equal(t, uint64(len(buf)), r.cb.aioNbytes)
	assert.Equal(t, StatePending, r.State())

	w := NewWriteRequest(7, buf, 0)
	assert.Equal(t, CmdPwrite, w.Opcode())

	fs := NewFsyncRequest(3)
	assert.Equal(t, CmdFsync, fs.Opcode())
	assert.Equal(t, uint64(0), fs.cb.aioBuf)
	assert.Equal(t, uint64(0), fs.cb.aioNbytes)

	fds := NewFdsyncRequest(3)
	assert.Equal(t, CmdFdsync, fds.Opcode())

	p := NewPollRequest(9, unix.POLLIN|unix.POLLOUT)
	assert.Equal(t, CmdPoll, p.Opcode())
	assert.Equal(t, uint64(unix.POLLIN|unix.POLLOUT), p.cb.aioBuf)
}

func TestRequest_RWFlags(t *testing.T) {
	r := NewWriteRequest(1, make([]uint8, 8), 0)
	r.SetRWFlags(RWFDsync | RWFHipri)
	r.prepare()
	assert.Equal(t, RWFDsync|RWFHipri, r.cb.rwFlags())

	// check the raw bytes against the kernel layout: aio_rw_flags is the
	// second field of the pair on little-endian and the first on big-endian,
	// with the kernel key half zero on every submission
	var want [8]uint8
	flagsOff := 4
	if bigEndian {
		flagsOff = 0
	}
	binary.NativeEndian.PutUint32(want[flagsOff:], RWFDsync|RWFHipri)
	assert.Equal(t, want, *(*[8]uint8)(unsafe.Pointer(&r.cb.aioKey)))

	// a stale kernel key is overwritten by the next prepare
	r.cb.aioKey = 0xdeadbeef
	r.prepare()
	assert.Equal(t, RWFDsync|RWFHipri, r.cb.rwFlags())
}

func TestRequest_Priority(t *testing.T) {
	r := NewReadRequest(1, make([]uint8, 8), 0)
	r.SetPriority(PrioValue(PrioClassBE, 4))
	assert.Equal(t, iocbFlagIoprio, r.cb.aioFlags&iocbFlagIoprio)
	assert.Equal(t, int16(PrioClassBE<<prioClassShift|4), r.cb.aioReqPrio)

	r.SetPriority(-1)
	assert.Equal(t, uint32(0), r.cb.aioFlags&iocbFlagIoprio)
	assert.Equal(t, int16(0), r.cb.aioReqPrio)
}

func TestRequest_EventFD(t *testing.T) {
	efd, err := NewEventFD(0, EFDCloexec)
	require.NoError(t, err)
	defer efd.Close()

	r := NewFsyncRequest(1)
	r.SetEventFD(efd)
	assert.Equal(t, iocbFlagResfd, r.cb.aioFlags&iocbFlagResfd)
	assert.Equal(t, uint32(efd.Fd()), r.cb.aioResfd)

	r.SetEventFD(nil)
	assert.Equal(t, uint32(0), r.cb.aioFlags&iocbFlagResfd)
	assert.Equal(t, uint32(0), r.cb.aioResfd)
}

func TestRequest_BytesCheckout(t *testing.T) {
	buf := make([]uint8, 16)
	r := NewReadRequest(1, buf, 0)

	got, err := r.Bytes()
	require.NoError(t, err)
	assert.Equal(t, buf, got)

	r.setState(StateSubmitted)
	_, err = r.Bytes()
	assert.True(t, IsBufferHeld(err))

	r.setState(StateCancelRequested)
	_, err = r.Bytes()
	assert.True(t, IsBufferHeld(err))

	r.setState(StateCompleted)
	got, err = r.Bytes()
	require.NoError(t, err)
	assert.Equal(t, buf, got)
}

func TestRequest_Tag(t *testing.T) {
	r := NewFsyncRequest(1)
	assert.Nil(t, r.Tag())
	r.SetTag(42)
	assert.Equal(t, 42, r.Tag())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "submitted", StateSubmitted.String())
	assert.Equal(t, "cancel_requested", StateCancelRequested.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "already_completed", AlreadyCompleted.String())
}
