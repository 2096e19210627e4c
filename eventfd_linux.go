//go:build linux
// +build linux

package linuxaio

import (
	"encoding/binary"

	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

// EventFD flags.
const (
	EFDSemaphore = unix.EFD_SEMAPHORE
	EFDCloexec   = unix.EFD_CLOEXEC
	EFDNonblock  = unix.EFD_NONBLOCK
)

// EventFD is a minimal wrapper around an eventfd counter. Attached to a
// request with SetEventFD, the kernel bumps the counter on completion, so
// completions can be multiplexed with select/poll/epoll alongside other
// descriptors.
type EventFD struct {
	fd int
}

// NewEventFD creates an eventfd with the given initial counter value and
// EFD_* flags.
func NewEventFD(initval uint, flags int) (*EventFD, error) {
	fd, err := unix.Eventfd(initval, flags)
	if err != nil {
		return nil, errors.From(ErrSetup,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpEventFD),
			errors.WithWrap(err),
		)
	}
	return &EventFD{fd: fd}, nil
}

// Read consumes and returns the current counter value. With EFDNonblock it
// returns 0 and no error when the counter is zero.
func (e *EventFD) Read() (uint64, error) {
	var buf [8]uint8
	n, err := unix.Read(e.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	if n != 8 {
		return 0, nil
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// Write adds value to the counter.
func (e *EventFD) Write(value uint64) error {
	var buf [8]uint8
	binary.NativeEndian.PutUint64(buf[:], value)
	_, err := unix.Write(e.fd, buf[:])
	return err
}

// Fd returns the underlying file descriptor.
func (e *EventFD) Fd() int {
	return e.fd
}

func (e *EventFD) Close() error {
	return unix.Close(e.fd)
}
