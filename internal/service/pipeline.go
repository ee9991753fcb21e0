package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDebounce is the quiescence window for committed slider values.
const DefaultDebounce = 300 * time.Millisecond

// Debouncer coalesces calls made within a quiescence window into one call
// carrying the last value. It limits call frequency only; responses of calls
// that already fired can still overlap, see Sequencer.
type Debouncer struct {
	delay time.Duration
	fn    func(string)

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer that calls fn after delay of quiet.
func NewDebouncer(delay time.Duration, fn func(string)) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)starts the window with value.
func (d *Debouncer) Trigger(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fn(value) })
}

// Stop cancels any pending call and ignores further triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Sequencer numbers requests on one logical stream. Only the response to the
// latest issued number may be applied.
type Sequencer struct {
	n atomic.Uint64
}

// Next issues a new sequence number.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the most recently issued number, 0 before the first.
func (s *Sequencer) Current() uint64 {
	return s.n.Load()
}

// Latest reports whether seq is the most recently issued number.
func (s *Sequencer) Latest(seq uint64) bool {
	return s.n.Load() == seq
}
