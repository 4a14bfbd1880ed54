package flowcontrol

import "go.uber.org/atomic"

// Window caps the number of outstanding requests on one session. TryAcquire
// and Release are called from the session's own goroutine; Outstanding may
// be read from anywhere.
type Window struct {
	limit       int
	outstanding atomic.Int64
}

// NewWindow creates a window admitting limit concurrent requests. A limit
// below 1 is treated as 1.
func NewWindow(limit int) *Window {
	if limit < 1 {
		limit = 1
	}
	return &Window{limit: limit}
}

// TryAcquire takes a slot if one is free.
func (w *Window) TryAcquire() bool {
	for {
		cur := w.outstanding.Load()
		if cur >= int64(w.limit) {
			return false
		}
		if w.outstanding.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns a slot. Extra releases are ignored.
func (w *Window) Release() {
	for {
		cur := w.outstanding.Load()
		if cur <= 0 {
			return
		}
		if w.outstanding.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Reset frees every slot.
func (w *Window) Reset() {
	w.outstanding.Store(0)
}

// Outstanding returns the current number of outstanding requests
func (w *Window) Outstanding() int {
	return int(w.outstanding.Load())
}
