package feed

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Notifier coalesces bursts of store change notifications into bounded
// reconciliation passes. The first notification after a quiet period runs
// immediately; notifications arriving within minInterval of the last pass
// are folded into a single delayed rerun. Limiter state is explicit
// (lastProcessed, pending) rather than closed-over mutable variables.
type Notifier struct {
	clock       clockwork.Clock
	minInterval time.Duration
	delay       time.Duration
	fn          func()

	mu            sync.Mutex
	lastProcessed time.Time
	pending       clockwork.Timer
	closed        bool
}

// New creates a notifier that invokes fn per the coalescing policy.
// The zero time for lastProcessed means the very first notification always
// runs immediately.
func New(clock clockwork.Clock, minInterval, delay time.Duration, fn func()) *Notifier {
	return &Notifier{
		clock:       clock,
		minInterval: minInterval,
		delay:       delay,
		fn:          fn,
	}
}

// Notify reports one store change. It either runs fn synchronously, arms a
// delayed rerun, or folds into an already-armed one.
func (n *Notifier) Notify() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if n.pending != nil {
		// A rerun is already armed; this change rides along with it.
		n.mu.Unlock()
		return
	}
	now := n.clock.Now()
	if n.lastProcessed.IsZero() || now.Sub(n.lastProcessed) >= n.minInterval {
		n.lastProcessed = now
		n.mu.Unlock()
		n.fn()
		return
	}
	n.pending = n.clock.AfterFunc(n.delay, n.firePending)
	n.mu.Unlock()
}

func (n *Notifier) firePending() {
	n.mu.Lock()
	n.pending = nil
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.lastProcessed = n.clock.Now()
	n.mu.Unlock()

	n.fn()
}

// Close cancels any pending rerun synchronously and drops all further
// notifications.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	if n.pending != nil {
		n.pending.Stop()
		n.pending = nil
	}
}
