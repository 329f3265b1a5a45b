package audio

import "sync"

// Capture wraps a shared audio-capture resource with reference counting.
// Both the VAD path and an in-flight recording hold a reference while they
// need live audio; the underlying resource is released only when the last
// reference is dropped. Acquire after full release reopens it.
//
// All methods are safe for concurrent use.
type Capture struct {
	open  func() error
	close func() error

	mu   sync.Mutex
	refs int
}

// NewCapture creates a reference-counted wrapper. open is invoked on the
// first Acquire, close when the reference count drops back to zero. Either
// may be nil.
func NewCapture(open, close func() error) *Capture {
	return &Capture{open: open, close: close}
}

// Acquire takes a reference, opening the resource if this is the first one.
// On open failure no reference is taken.
func (c *Capture) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 && c.open != nil {
		if err := c.open(); err != nil {
			return err
		}
	}
	c.refs++
	return nil
}

// Release drops a reference, closing the resource when none remain.
// Releasing below zero is a no-op.
func (c *Capture) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		return nil
	}
	c.refs--
	if c.refs == 0 && c.close != nil {
		return c.close()
	}
	return nil
}

// Refs returns the current reference count. Intended for tests.
func (c *Capture) Refs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}
