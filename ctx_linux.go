//go:build linux
// +build linux

package linuxaio

import (
	"strconv"
	"sync"
	"time"
	"unsafe"

	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

// CancelResult is the outcome of a cancellation request. The kernel and the
// caller race: either the kernel dropped the operation before it could
// complete, or completion (possibly still in progress) won. Both outcomes
// still deliver exactly one event through GetEvents.
type CancelResult int

const (
	Cancelled CancelResult = iota + 1
	AlreadyCompleted
)

func (r CancelResult) String() string {
	switch r {
	case Cancelled:
		return "cancelled"
	case AlreadyCompleted:
		return "already_completed"
	}
	return "unknown"
}

// Context owns one kernel AIO completion queue and the set of requests
// currently handed to the kernel. The in-flight set never grows past the
// capacity given at creation.
//
// A Context may be shared between goroutines: the in-flight set is
// mutex-guarded and Submit holds the mutex across io_submit. GetEvents
// releases the mutex while blocked in io_getevents, so one goroutine can
// reap while another submits.
type Context struct {
	mtx      sync.Mutex
	id       uint64
	capacity int
	inflight map[unsafe.Pointer]*Request
	ready    []aioEvent
	closed   bool
}

// NewContext creates a kernel AIO context able to track up to capacity
// concurrent operations. The kernel enforces a system-wide limit
// (fs.aio-max-nr); exceeding it fails with ErrSetup.
func NewContext(capacity int) (*Context, error) {
	if capacity <= 0 {
		return nil, errors.From(ErrSetup,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpSetup),
			errors.WithMeta("capacity", strconv.Itoa(capacity)),
		)
	}
	var id uint64
	if _, _, e1 := unix.Syscall(unix.SYS_IO_SETUP, uintptr(capacity), uintptr(unsafe.Pointer(&id)), 0); e1 != 0 {
		return nil, errors.From(ErrSetup,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpSetup),
			errors.WithWrap(e1),
		)
	}
	return &Context{
		id:       id,
		capacity: capacity,
		inflight: make(map[unsafe.Pointer]*Request, capacity),
	}, nil
}

// Capacity returns the maximum number of in-flight requests.
func (c *Context) Capacity() int {
	return c.capacity
}

// InFlight returns the number of requests currently owned by the kernel,
// including completed ones whose events have not been reaped yet.
func (c *Context) InFlight() int {
	c.mtx.Lock()
	n := len(c.inflight)
	c.mtx.Unlock()
	return n
}

// Submit hands requests to the kernel in order. The kernel may accept only
// a prefix; the returned count says how many were accepted. Accepted
// requests become Submitted and their buffers belong to the kernel until
// reaped; the rest stay Pending and caller-owned, safe to modify or
// resubmit. The batch is clamped to the context's free capacity first, so
// zero accepted with a nil error means either an empty batch or a full
// context.
func (c *Context) Submit(reqs ...*Request) (int, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return 0, errors.From(ErrClosed,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpSubmit),
		)
	}
	if len(reqs) == 0 {
		return 0, nil
	}
	n := c.capacity - len(c.inflight)
	if n > len(reqs) {
		n = len(reqs)
	}
	if n == 0 {
		return 0, nil
	}

	cbs := make([]*aiocb, n)
	for i, r := range reqs[:n] {
		switch r.State() {
		case StateSubmitted, StateCancelRequested:
			c.rollback(reqs[:i])
			return 0, errors.From(ErrAlreadySubmitted,
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithMeta(errMetaOpKey, errMetaOpSubmit),
			)
		}
		r.prepare()
		cbs[i] = &r.cb
		// Track before the syscall: a completion reaped by a concurrent
		// GetEvents must already find its request.
		c.inflight[unsafe.Pointer(&r.cb)] = r
		r.setState(StateSubmitted)
	}

	accepted, _, e1 := unix.Syscall(unix.SYS_IO_SUBMIT, uintptr(c.id), uintptr(n), uintptr(unsafe.Pointer(&cbs[0])))
	if e1 != 0 {
		c.rollback(reqs[:n])
		return 0, errors.From(ErrSubmit,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpSubmit),
			errors.WithWrap(e1),
		)
	}
	m := int(accepted)
	c.rollback(reqs[m:n])
	return m, nil
}

// rollback returns never-accepted requests to the caller. Callers hold the
// mutex.
func (c *Context) rollback(reqs []*Request) {
	for _, r := range reqs {
		delete(c.inflight, unsafe.Pointer(&r.cb))
		r.setState(StatePending)
	}
}

// GetEvents waits until at least minNr completion events are available,
// returns at most maxNr of them, or gives up when timeout elapses,
// whichever comes first. A negative timeout waits indefinitely; zero polls
// without blocking. Returning fewer than minNr events after the timeout,
// even none, is not an error.
//
// Each returned event atomically moves its request to Completed and hands
// the buffer back to the caller; request callbacks run after that, in
// event order. Event order across requests is kernel-determined.
func (c *Context) GetEvents(minNr, maxNr int, timeout time.Duration) ([]Event, error) {
	c.mtx.Lock()
	if c.closed {
		c.mtx.Unlock()
		return nil, errors.From(ErrClosed,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpGetEvents),
		)
	}
	if maxNr <= 0 {
		maxNr = c.capacity
	}
	if minNr < 0 {
		minNr = 0
	}
	if minNr > maxNr {
		minNr = maxNr
	}

	// Events recovered by Cancel are delivered first, through the same
	// exactly-once path as kernel-queued ones.
	out := make([]Event, 0, maxNr)
	for len(c.ready) > 0 && len(out) < maxNr {
		if ev, ok := c.resolve(c.ready[0]); ok {
			out = append(out, ev)
		}
		c.ready = c.ready[1:]
	}
	id := c.id
	c.mtx.Unlock()

	want := maxNr - len(out)
	need := minNr - len(out)
	if need < 0 {
		need = 0
	}
	if want > 0 {
		var ts *unix.Timespec
		if timeout >= 0 {
			t := unix.NsecToTimespec(timeout.Nanoseconds())
			ts = &t
		}
		evs := make([]aioEvent, want)
		var got uintptr
		for {
			var e1 unix.Errno
			got, _, e1 = unix.Syscall6(unix.SYS_IO_GETEVENTS, uintptr(id), uintptr(need), uintptr(want),
				uintptr(unsafe.Pointer(&evs[0])), uintptr(unsafe.Pointer(ts)), 0)
			if e1 == 0 {
				break
			}
			if e1 == unix.EINTR {
				continue
			}
			c.runCallbacks(out)
			return out, errors.From(ErrGetEvents,
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithMeta(errMetaOpKey, errMetaOpGetEvents),
				errors.WithWrap(e1),
			)
		}
		c.mtx.Lock()
		for i := uintptr(0); i < got; i++ {
			if ev, ok := c.resolve(evs[i]); ok {
				out = append(out, ev)
			}
		}
		c.mtx.Unlock()
	}
	c.runCallbacks(out)
	return out, nil
}

// resolve matches one kernel event back to its request and returns buffer
// ownership to the caller. Events for requests this context is not
// tracking are dropped. Callers hold the mutex.
func (c *Context) resolve(raw aioEvent) (Event, bool) {
	key := unsafe.Pointer(uintptr(raw.obj))
	r, ok := c.inflight[key]
	if !ok {
		return Event{}, false
	}
	delete(c.inflight, key)
	r.setState(StateCompleted)
	return Event{Request: r, Res: raw.res, Res2: raw.res2}, true
}

func (c *Context) runCallbacks(evs []Event) {
	for _, ev := range evs {
		if ev.Request.callback != nil {
			ev.Request.callback(ev)
		}
	}
}

// Cancel asks the kernel to drop a submitted request. It never blocks and
// never returns buffer ownership: whatever the outcome, the request stays
// in flight until its event is reaped through GetEvents. Cancelled means
// the kernel dropped the operation before completion; AlreadyCompleted
// means completion won the race (or is in progress) and the event arrives
// the normal way.
func (c *Context) Cancel(r *Request) (CancelResult, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return 0, errors.From(ErrClosed,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpCancel),
		)
	}
	switch r.State() {
	case StateCompleted:
		return AlreadyCompleted, nil
	case StatePending:
		return 0, errors.From(ErrNotSubmitted,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpCancel),
		)
	}
	if _, ok := c.inflight[unsafe.Pointer(&r.cb)]; !ok {
		return 0, errors.From(ErrNotSubmitted,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpCancel),
		)
	}
	r.setState(StateCancelRequested)

	var ev aioEvent
	_, _, e1 := unix.Syscall(unix.SYS_IO_CANCEL, uintptr(c.id), uintptr(unsafe.Pointer(&r.cb)), uintptr(unsafe.Pointer(&ev)))
	switch e1 {
	case 0:
		// The kernel filled the result event instead of queueing it; stash
		// it so the next GetEvents still delivers it exactly once.
		c.ready = append(c.ready, ev)
		return Cancelled, nil
	case unix.EINPROGRESS, unix.EAGAIN, unix.EINVAL:
		// Not cancellable: the operation completed, or is completing, and
		// its event reaches GetEvents on its own.
		return AlreadyCompleted, nil
	}
	return 0, errors.From(ErrCancel,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, errMetaOpCancel),
		errors.WithWrap(e1),
	)
}

// Drain cancels every in-flight request and reaps until the in-flight set
// is empty. Non-cancellable operations are waited for. This is the path to
// a Close that cannot fail with ErrInFlight.
func (c *Context) Drain() error {
	for {
		c.mtx.Lock()
		if c.closed {
			c.mtx.Unlock()
			return errors.From(ErrClosed,
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			)
		}
		pending := make([]*Request, 0, len(c.inflight))
		for _, r := range c.inflight {
			pending = append(pending, r)
		}
		c.mtx.Unlock()
		if len(pending) == 0 {
			return nil
		}
		for _, r := range pending {
			if _, err := c.Cancel(r); err != nil && !errors.Is(err, ErrNotSubmitted) {
				return err
			}
		}
		if _, err := c.GetEvents(1, len(pending), -1); err != nil {
			return err
		}
	}
}

// Close destroys the kernel context. The in-flight set must be empty:
// destroying a context while the kernel may still write into submitted
// buffers is a use-after-free, so Close refuses with ErrInFlight instead
// (use Drain first). After a successful Close every method fails with
// ErrClosed.
func (c *Context) Close() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return errors.From(ErrClosed,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpDestroy),
		)
	}
	if len(c.inflight) > 0 {
		return errors.From(ErrInFlight,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpDestroy),
			errors.WithMeta("inflight", strconv.Itoa(len(c.inflight))),
		)
	}
	if _, _, e1 := unix.Syscall(unix.SYS_IO_DESTROY, uintptr(c.id), 0, 0); e1 != 0 {
		return errors.From(ErrDestroy,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpDestroy),
			errors.WithWrap(e1),
		)
	}
	c.closed = true
	c.id = 0
	return nil
}
