package client

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle bounds how often a call runs. Calls that arrive too early are
// coalesced: only the most recent one runs, once the limiter allows it.
type Throttle struct {
	mu      sync.Mutex
	lim     *rate.Limiter
	pending func() error
	timer   *time.Timer
	gen     uint64

	// OnError receives errors from deferred calls, which have no caller to
	// return to.
	OnError func(error)
}

func NewThrottle(interval time.Duration) *Throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{lim: rate.NewLimiter(limit, 1)}
}

// Do runs fn immediately when allowed and returns its error. Otherwise fn
// replaces any pending call and Do returns nil.
func (t *Throttle) Do(fn func() error) error {
	t.mu.Lock()
	if t.timer == nil && t.lim.Allow() {
		t.mu.Unlock()
		return fn()
	}
	t.pending = fn
	if t.timer == nil {
		r := t.lim.Reserve()
		t.gen++
		gen := t.gen
		t.timer = time.AfterFunc(r.Delay(), func() { t.fire(gen) })
	}
	t.mu.Unlock()
	return nil
}

func (t *Throttle) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	fn := t.pending
	t.pending = nil
	t.timer = nil
	onErr := t.OnError
	t.mu.Unlock()

	if fn == nil {
		return
	}
	if err := fn(); err != nil && onErr != nil {
		onErr(err)
	}
}

// Flush runs the pending call now, if any.
func (t *Throttle) Flush() error {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
		t.gen++
	}
	t.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn()
}

// Cancel drops the pending call.
func (t *Throttle) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
		t.gen++
	}
}
