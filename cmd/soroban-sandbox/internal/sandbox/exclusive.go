package sandbox

import "sync"

// Exclusive serializes access to a Sandbox: every call runs to completion
// before the next one starts.
type Exclusive struct {
	lock    sync.Mutex
	sandbox *Sandbox
}

func NewExclusive(sandbox *Sandbox) *Exclusive {
	return &Exclusive{sandbox: sandbox}
}

// Do runs fn with sole access to the sandbox.
func (e *Exclusive) Do(fn func(*Sandbox) error) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	return fn(e.sandbox)
}
