//go:build linux
// +build linux

package linuxaio

import (
	"sync"
	"time"

	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

type watched struct {
	efd *EventFD
	ctx *Context
}

// Watcher multiplexes completion notifications from several contexts over
// one epoll instance. Each context is paired with the EventFD its requests
// carry (see Request.SetEventFD); when the kernel bumps a counter, Wait
// reaps the matching context with a zero timeout and dispatches request
// callbacks. Contexts remain directly usable next to a Watcher; requests
// without an eventfd simply never wake it.
type Watcher struct {
	epfd int
	mtx  sync.Mutex
	fds  map[int32]watched
}

func NewWatcher() (*Watcher, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.From(ErrSetup,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpEpoll),
			errors.WithWrap(err),
		)
	}
	return &Watcher{
		epfd: epfd,
		fds:  make(map[int32]watched),
	}, nil
}

// Watch registers a context's eventfd. The eventfd should be created with
// EFDNonblock so a spurious wakeup cannot stall Wait.
func (w *Watcher) Watch(efd *EventFD, c *Context) error {
	event := &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(efd.Fd()),
	}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, efd.Fd(), event); err != nil {
		return errors.From(ErrSetup,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpEpoll),
			errors.WithWrap(err),
		)
	}
	w.mtx.Lock()
	w.fds[int32(efd.Fd())] = watched{efd: efd, ctx: c}
	w.mtx.Unlock()
	return nil
}

// Unwatch removes a previously watched eventfd.
func (w *Watcher) Unwatch(efd *EventFD) error {
	w.mtx.Lock()
	delete(w.fds, int32(efd.Fd()))
	w.mtx.Unlock()
	return unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, efd.Fd(), nil)
}

// Wait blocks until at least one watched eventfd fires or timeout elapses
// (negative waits indefinitely, zero polls), then reaps every signalled
// context without blocking and runs request callbacks. It returns the
// total number of completion events dispatched; zero after a timeout is
// not an error.
func (w *Watcher) Wait(timeout time.Duration) (int, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
		// epoll_wait has millisecond granularity; a shorter nonzero
		// timeout must still wait rather than degrade to a poll
		if msec == 0 && timeout > 0 {
			msec = 1
		}
	}
	epEvents := make([]unix.EpollEvent, 64)
	var n int
	for {
		var err error
		n, err = unix.EpollWait(w.epfd, epEvents, msec)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			continue
		}
		return 0, errors.From(ErrGetEvents,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpEpoll),
			errors.WithWrap(err),
		)
	}

	total := 0
	for i := 0; i < n; i++ {
		w.mtx.Lock()
		wd, ok := w.fds[epEvents[i].Fd]
		w.mtx.Unlock()
		if !ok {
			continue
		}
		cnt, err := wd.efd.Read()
		if err != nil {
			return total, errors.From(ErrGetEvents,
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithMeta(errMetaOpKey, errMetaOpEventFD),
				errors.WithWrap(err),
			)
		}
		for cnt > 0 {
			evs, err := wd.ctx.GetEvents(0, int(cnt), 0)
			if err != nil {
				return total, err
			}
			if len(evs) == 0 {
				break
			}
			total += len(evs)
			cnt -= uint64(len(evs))
		}
	}
	return total, nil
}

func (w *Watcher) Close() error {
	return unix.Close(w.epfd)
}
