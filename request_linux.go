//go:build linux
// +build linux

package linuxaio

import (
	"sync/atomic"
	"unsafe"

	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

// State of a request within its submission lifecycle. Transitions are
// strictly ordered: Pending -> Submitted -> (CancelRequested) -> Completed.
// A completed request may be submitted again.
type State int32

const (
	StatePending State = iota
	StateSubmitted
	StateCancelRequested
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSubmitted:
		return "submitted"
	case StateCancelRequested:
		return "cancel_requested"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// Request describes one asynchronous I/O operation. While a request is
// Submitted or CancelRequested the kernel owns its buffer; the caller gets
// ownership back the moment the matching Event is returned by GetEvents.
type Request struct {
	cb  aiocb
	// data and vecs keep the caller's buffers reachable while the kernel
	// writes into them; iov is the array aioBuf points at for vectored ops.
	data     []uint8
	vecs     [][]uint8
	iov      []unix.Iovec
	rwflags  uint32
	tag      interface{}
	callback func(Event)
	state    int32
}

// Event correlates a completed request with the two kernel result fields.
// Res and Res2 are passed through verbatim: their meaning depends on the
// target file descriptor's subsystem and is never interpreted here. For
// regular file reads and writes Res is usually a byte count or a negative
// errno, but that is between the caller and the fd.
type Event struct {
	Request *Request
	Res     int64
	Res2    int64
}

func newRequest(opcode uint16, fd uintptr, data []uint8, offset int64) *Request {
	r := &Request{data: data}
	r.cb.aioOpcode = opcode
	r.cb.aioFildes = uint32(fd)
	r.cb.aioOffset = offset
	if len(data) > 0 {
		r.cb.aioBuf = uint64(uintptr(pointerOf(data)))
		r.cb.aioNbytes = uint64(len(data))
	}
	return r
}

// NewReadRequest prepares a read of len(data) bytes from fd at offset into
// data. The buffer must satisfy the target's alignment requirements (see
// AllocAligned); misalignment surfaces as a kernel error on completion.
func NewReadRequest(fd uintptr, data []uint8, offset int64) *Request {
	return newRequest(CmdPread, fd, data, offset)
}

// NewWriteRequest prepares a write of len(data) bytes from data to fd at
// offset.
func NewWriteRequest(fd uintptr, data []uint8, offset int64) *Request {
	return newRequest(CmdPwrite, fd, data, offset)
}

// NewFsyncRequest prepares an asynchronous fsync of fd.
func NewFsyncRequest(fd uintptr) *Request {
	return newRequest(CmdFsync, fd, nil, 0)
}

// NewFdsyncRequest prepares an asynchronous fdatasync of fd.
func NewFdsyncRequest(fd uintptr) *Request {
	return newRequest(CmdFdsync, fd, nil, 0)
}

func newVectored(opcode uint16, fd uintptr, bufs [][]uint8, offset int64) *Request {
	r := newRequest(opcode, fd, nil, offset)
	r.vecs = bufs
	r.iov = make([]unix.Iovec, len(bufs))
	for i, b := range bufs {
		r.iov[i].Base = &b[0]
		r.iov[i].SetLen(len(b))
	}
	if len(r.iov) > 0 {
		r.cb.aioBuf = uint64(uintptr(unsafe.Pointer(&r.iov[0])))
		r.cb.aioNbytes = uint64(len(r.iov))
	}
	return r
}

// NewReadvRequest prepares a scattered read from fd at offset into bufs, in
// order. Every buffer must be non-empty.
func NewReadvRequest(fd uintptr, bufs [][]uint8, offset int64) *Request {
	return newVectored(CmdPreadv, fd, bufs, offset)
}

// NewWritevRequest prepares a gathered write of bufs, in order, to fd at
// offset.
func NewWritevRequest(fd uintptr, bufs [][]uint8, offset int64) *Request {
	return newVectored(CmdPwritev, fd, bufs, offset)
}

// NewPollRequest prepares a one-shot poll of fd for the given event mask
// (unix.POLLIN and friends). POLLERR and POLLHUP are always reported.
func NewPollRequest(fd uintptr, events uint32) *Request {
	r := newRequest(CmdPoll, fd, nil, 0)
	r.cb.aioBuf = uint64(events)
	return r
}

func (r *Request) Opcode() uint16 {
	return r.cb.aioOpcode
}

func (r *Request) FD() uintptr {
	return uintptr(r.cb.aioFildes)
}

func (r *Request) Offset() int64 {
	return r.cb.aioOffset
}

// State reports the request's position in the submission lifecycle.
func (r *Request) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *Request) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}

// Bytes hands the request buffer back to the caller. It fails with
// ErrBufferHeld while the kernel may still write into the buffer, which is
// from submission acceptance until the request's event is reaped.
func (r *Request) Bytes() ([]uint8, error) {
	switch r.State() {
	case StateSubmitted, StateCancelRequested:
		return nil, errors.From(ErrBufferHeld,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		)
	}
	return r.data, nil
}

// Buffers is the vectored counterpart of Bytes, with the same checkout
// discipline.
func (r *Request) Buffers() ([][]uint8, error) {
	switch r.State() {
	case StateSubmitted, StateCancelRequested:
		return nil, errors.From(ErrBufferHeld,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		)
	}
	return r.vecs, nil
}

// Tag returns the opaque caller value attached to this request.
func (r *Request) Tag() interface{} {
	return r.tag
}

// SetTag attaches an opaque caller value, returned untouched with the
// completion event.
func (r *Request) SetTag(tag interface{}) {
	r.tag = tag
}

// SetCallback registers a function GetEvents invokes for this request's
// completion, after buffer ownership has returned to the caller.
func (r *Request) SetCallback(fn func(Event)) {
	r.callback = fn
}

// SetEventFD makes the kernel add 1 to efd's counter when this request
// completes, so completions can be waited on with poll/epoll. Pass nil to
// detach.
func (r *Request) SetEventFD(efd *EventFD) {
	if efd == nil {
		r.cb.aioFlags &^= iocbFlagResfd
		r.cb.aioResfd = 0
		return
	}
	r.cb.aioFlags |= iocbFlagResfd
	r.cb.aioResfd = uint32(efd.Fd())
}

// SetPriority sets the request's I/O priority to a value built with
// PrioValue. A negative value clears it.
func (r *Request) SetPriority(prio int) {
	if prio < 0 {
		r.cb.aioFlags &^= iocbFlagIoprio
		r.cb.aioReqPrio = 0
		return
	}
	r.cb.aioFlags |= iocbFlagIoprio
	r.cb.aioReqPrio = int16(prio)
}

// SetRWFlags sets RWF_* flags for read/write requests.
func (r *Request) SetRWFlags(flags uint32) {
	r.rwflags = flags
}

// prepare re-serializes the mutable control block fields before submission.
// The kernel scribbles its own key into the shared key field, so it has to
// be rebuilt on every submit.
func (r *Request) prepare() {
	r.cb.setRWFlags(r.rwflags)
}
