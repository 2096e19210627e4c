// Package linuxaio exposes the legacy Linux kernel AIO interface
// (io_setup, io_submit, io_getevents, io_cancel, io_destroy): submit I/O
// against open file descriptors without blocking, then collect completion
// events, with eventfd support so completions integrate with the usual
// polling mechanisms.
package linuxaio

import (
	"github.com/brickingsoft/errors"
)

var (
	ErrSetup            = errors.Define("context setup failed")
	ErrSubmit           = errors.Define("submit failed")
	ErrGetEvents        = errors.Define("get events failed")
	ErrCancel           = errors.Define("cancel failed")
	ErrDestroy          = errors.Define("context destroy failed")
	ErrClosed           = errors.Define("use of closed context")
	ErrInFlight         = errors.Define("operations still in flight")
	ErrAlreadySubmitted = errors.Define("request already submitted")
	ErrNotSubmitted     = errors.Define("request is not submitted")
	ErrBufferHeld       = errors.Define("buffer is owned by the kernel")
)

func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

func IsInFlight(err error) bool {
	return errors.Is(err, ErrInFlight)
}

func IsBufferHeld(err error) bool {
	return errors.Is(err, ErrBufferHeld)
}

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "linuxaio"
)

const (
	errMetaOpKey       = "op"
	errMetaOpSetup     = "io_setup"
	errMetaOpSubmit    = "io_submit"
	errMetaOpGetEvents = "io_getevents"
	errMetaOpCancel    = "io_cancel"
	errMetaOpDestroy   = "io_destroy"
	errMetaOpEventFD   = "eventfd"
	errMetaOpEpoll     = "epoll"
)
