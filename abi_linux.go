//go:build linux
// +build linux

package linuxaio

import "unsafe"

// Commands understood by io_submit.
const (
	CmdPread   = uint16(0)
	CmdPwrite  = uint16(1)
	CmdFsync   = uint16(2)
	CmdFdsync  = uint16(3)
	CmdPoll    = uint16(5)
	CmdPreadv  = uint16(7)
	CmdPwritev = uint16(8)
)

// RWF_* flags from linux/fs.h, accepted by SetRWFlags for read/write
// requests on kernels that support per-request flags.
const (
	RWFHipri  = uint32(0x00000001)
	RWFDsync  = uint32(0x00000002)
	RWFSync   = uint32(0x00000004)
	RWFNowait = uint32(0x00000008)
	RWFAppend = uint32(0x00000010)
)

const (
	iocbFlagResfd  = uint32(1 << 0)
	iocbFlagIoprio = uint32(1 << 1)
)

var bigEndian = (*(*[2]uint8)(unsafe.Pointer(&[]uint16{1}[0])))[0] == 0

func pointerOf(b []uint8) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

type (
	// https://github.com/torvalds/linux/blob/fcadab740480e0e0e9fa9bd272acd409884d431a/include/uapi/linux/aio_abi.h#L73
	aiocb struct {
		aioData uint64 // returned verbatim in the event's data field

		// key consists of two fields: the key and the rw_flags, both 32 bits;
		// order depends on endianness
		// https://github.com/torvalds/linux/blob/fcadab740480e0e0e9fa9bd272acd409884d431a/include/uapi/linux/aio_abi.h#L77
		// we MUST serialize it before syscall
		aioKey uint64

		aioOpcode    uint16 // operation to be performed
		aioReqPrio   int16  // request priority
		aioFildes    uint32 // file descriptor
		aioBuf       uint64 // location of buffer, or poll event mask for CmdPoll
		aioNbytes    uint64 // length of transfer
		aioOffset    int64  // file offset
		aioReserved2 uint64
		aioFlags     uint32 // IOCB_FLAG_* bits
		aioResfd     uint32 // eventfd to signal on completion when IOCB_FLAG_RESFD is set
	}

	aioEvent struct {
		data uint64 // the data field from the iocb
		obj  uint64 // what iocb this event came from
		res  int64  // result code for this event
		res2 int64  // secondary result
	}
)

// setRWFlags stores flags in the half of aioKey the kernel reads them from.
// The other half is the kernel-owned key and must stay zero on submission.
//
// The kernel pads aio_rw_flags so it always occupies the 4 bytes a native
// uint64's high half maps to: on little-endian it is the second field of the
// pair and on big-endian the first, so the shift needs no endianness branch.
func (cb *aiocb) setRWFlags(flags uint32) {
	cb.aioKey = uint64(flags) << 32
}

func (cb *aiocb) rwFlags() uint32 {
	return uint32(cb.aioKey >> 32)
}
