package debounce

import (
	"sync"
	"time"
)

// Callback receives the arguments of the call that triggered the fire.
type Callback func(args ...any)

// registration tracks the pending state for one debounce key.
type registration struct {
	timer     *time.Timer
	callbacks []Callback
	args      []any
}

// Debouncer coalesces rapid repeated invocations per key into a single
// trailing call. Callbacks registered within one delay window accumulate and
// all fire with the arguments of the most recent call, so each key should be
// treated as single-purpose: registering unrelated callbacks under one key
// hands later callbacks arguments they never saw.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*registration
}

// New creates a Debouncer with no pending keys.
func New() *Debouncer {
	return &Debouncer{pending: make(map[string]*registration)}
}

// Debounce returns a wrapped function for key. Calling it starts (or restarts)
// a trailing timer of delay; when the timer fires, every callback accumulated
// for the key is invoked with the last call's arguments. With immediate set
// and no timer pending, the callback runs synchronously instead.
func (d *Debouncer) Debounce(key string, cb Callback, delay time.Duration, immediate bool) func(args ...any) {
	// Each wrapped function contributes its callback once per window; repeat
	// invocations only refresh the arguments and restart the timer.
	var joined *registration

	return func(args ...any) {
		d.mu.Lock()

		reg, exists := d.pending[key]
		if immediate && !exists {
			// Leading edge: fire now, open a cooldown window so repeat
			// calls fall back to trailing accumulation.
			reg = &registration{args: args}
			reg.timer = time.AfterFunc(delay, func() { d.fire(key) })
			d.pending[key] = reg
			joined = reg
			d.mu.Unlock()

			cb(args...)
			return
		}

		if exists {
			reg.timer.Stop()
		} else {
			reg = &registration{}
			d.pending[key] = reg
		}

		if joined != reg {
			reg.callbacks = append(reg.callbacks, cb)
			joined = reg
		}
		reg.args = args
		reg.timer = time.AfterFunc(delay, func() { d.fire(key) })

		d.mu.Unlock()
	}
}

// fire drains and invokes the accumulated callbacks for key.
func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	reg, ok := d.pending[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	callbacks := reg.callbacks
	args := reg.args
	d.mu.Unlock()

	for _, cb := range callbacks {
		cb(args...)
	}
}

// Cancel clears the pending timer and accumulated callbacks for key without firing.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if reg, ok := d.pending[key]; ok {
		reg.timer.Stop()
		delete(d.pending, key)
	}
}

// IsPending reports whether key has a timer waiting to fire.
func (d *Debouncer) IsPending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// ClearAll cancels every pending key.
func (d *Debouncer) ClearAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, reg := range d.pending {
		reg.timer.Stop()
		delete(d.pending, key)
	}
}
