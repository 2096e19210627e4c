//go:build linux
// +build linux

package linuxaio

import (
	"sync"
)

// Registry tracks open contexts so they can be torn down together before
// process exit. It is deliberately not an implicit global: create one,
// register contexts as they are created, and call CloseAll in shutdown.
// Registration is a convenience, not a correctness requirement.
type Registry struct {
	mtx  sync.Mutex
	ctxs map[*Context]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		ctxs: make(map[*Context]struct{}),
	}
}

func (g *Registry) Register(c *Context) {
	g.mtx.Lock()
	g.ctxs[c] = struct{}{}
	g.mtx.Unlock()
}

func (g *Registry) Unregister(c *Context) {
	g.mtx.Lock()
	delete(g.ctxs, c)
	g.mtx.Unlock()
}

// Len returns the number of registered contexts.
func (g *Registry) Len() int {
	g.mtx.Lock()
	n := len(g.ctxs)
	g.mtx.Unlock()
	return n
}

// CloseAll drains and closes every registered context. Contexts closed
// behind the registry's back are unregistered silently. The first error is
// returned after every context has been attempted.
func (g *Registry) CloseAll() error {
	g.mtx.Lock()
	ctxs := make([]*Context, 0, len(g.ctxs))
	for c := range g.ctxs {
		ctxs = append(ctxs, c)
	}
	g.ctxs = make(map[*Context]struct{})
	g.mtx.Unlock()

	var firstErr error
	for _, c := range ctxs {
		err := c.Drain()
		if err == nil {
			err = c.Close()
		}
		if err != nil && !IsClosed(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
