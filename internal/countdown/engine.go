package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"laundry-room-coordinator/internal/model"
)

const msPerMinute = 60_000

// State of one machine's local countdown.
const (
	StateNone    = "none"
	StateRunning = "running"
	StatePaused  = "paused"
)

// handle is the local countdown state for one machine. endTime is absolute:
// every tick re-derives the remaining time from the wall clock instead of
// decrementing a counter, so drift and suspended ticks self-correct.
type handle struct {
	machineID         string
	endTime           int64
	paused            bool
	pausedRemainingMS int64
	stop              chan struct{} // non-nil while ticking
}

// Engine owns the per-machine countdown handles. At most one live handle
// exists per machine id; starting a new one always disposes the prior one
// first. Display updates are pushed through the emit callback; the engine
// never parses anything back out of presentation.
type Engine struct {
	clock clockwork.Clock
	tick  time.Duration
	emit  func(model.DisplayState)

	mu      sync.Mutex
	handles map[string]*handle
	closed  bool
}

// New creates a countdown engine. emit receives every display update and
// must not block; nil is allowed.
func New(clock clockwork.Clock, emit func(model.DisplayState)) *Engine {
	if emit == nil {
		emit = func(model.DisplayState) {}
	}
	return &Engine{
		clock:   clock,
		tick:    time.Second,
		emit:    emit,
		handles: make(map[string]*handle),
	}
}

// Start begins (or restarts) a local countdown toward the given absolute end
// time, replacing any existing handle for the machine.
func (e *Engine) Start(machineID string, endTimeMS int64) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.disposeLocked(machineID)
	h := &handle{machineID: machineID, endTime: endTimeMS, stop: make(chan struct{})}
	e.handles[machineID] = h
	go e.runTicker(h, h.stop)
	state := e.runningStateLocked(h)
	e.mu.Unlock()

	e.emit(state)
}

// Pause freezes a running countdown, snapshotting the exact remaining
// milliseconds. Returns false if the machine has no running countdown.
func (e *Engine) Pause(machineID string) bool {
	e.mu.Lock()
	h, ok := e.handles[machineID]
	if !ok || h.paused {
		e.mu.Unlock()
		return false
	}
	close(h.stop)
	h.stop = nil
	left := h.endTime - e.clock.Now().UnixMilli()
	if left < 0 {
		left = 0
	}
	h.pausedRemainingMS = left
	h.paused = true
	state := e.pausedStateLocked(h)
	e.mu.Unlock()

	e.emit(state)
	return true
}

// Resume restarts a paused countdown from its frozen snapshot, computing a
// fresh end time and refreshing the display synchronously.
func (e *Engine) Resume(machineID string) bool {
	e.mu.Lock()
	h, ok := e.handles[machineID]
	if !ok || !h.paused {
		e.mu.Unlock()
		return false
	}
	h.endTime = e.clock.Now().UnixMilli() + h.pausedRemainingMS
	h.pausedRemainingMS = 0
	h.paused = false
	h.stop = make(chan struct{})
	go e.runTicker(h, h.stop)
	state := e.runningStateLocked(h)
	e.mu.Unlock()

	e.emit(state)
	return true
}

// SetPaused installs a paused handle from a stored remaining-minutes value,
// used when another client paused the machine and only whole minutes are
// known.
func (e *Engine) SetPaused(machineID string, minutesRemaining int) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.disposeLocked(machineID)
	h := &handle{
		machineID:         machineID,
		paused:            true,
		pausedRemainingMS: int64(minutesRemaining) * msPerMinute,
	}
	e.handles[machineID] = h
	state := e.pausedStateLocked(h)
	e.mu.Unlock()

	e.emit(state)
}

// Stop clears the machine's countdown, if any, and shows it as available.
func (e *Engine) Stop(machineID string) {
	e.mu.Lock()
	_, existed := e.handles[machineID]
	e.disposeLocked(machineID)
	e.mu.Unlock()

	if existed {
		e.emit(model.DisplayState{MachineID: machineID, Status: model.DisplayAvailable})
	}
}

// Apply reconciles the local countdowns against a derived display list,
// starting, re-syncing, pausing and clearing handles as needed.
func (e *Engine) Apply(displays []model.DisplayState) {
	for _, d := range displays {
		switch d.Status {
		case model.DisplayAvailable:
			e.Stop(d.MachineID)
		case model.DisplayActive:
			if e.inSyncRunning(d.MachineID, d.EndTime) {
				continue
			}
			e.Start(d.MachineID, d.EndTime)
		case model.DisplayPaused:
			if e.inSyncPaused(d.MachineID, d.MinutesRemaining) {
				continue
			}
			e.SetPaused(d.MachineID, d.MinutesRemaining)
		}
	}
}

// State reports the countdown state for a machine id.
func (e *Engine) State(machineID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[machineID]
	switch {
	case !ok:
		return StateNone
	case h.paused:
		return StatePaused
	default:
		return StateRunning
	}
}

// Close stops every countdown and rejects further starts.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id := range e.handles {
		e.disposeLocked(id)
	}
}

func (e *Engine) runTicker(h *handle, stop chan struct{}) {
	ticker := e.clock.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if e.tickOnce(h) {
				return
			}
		}
	}
}

// tickOnce emits one display update; returns true when the countdown has
// finished or the handle was replaced.
func (e *Engine) tickOnce(h *handle) bool {
	e.mu.Lock()
	if e.handles[h.machineID] != h || h.paused {
		e.mu.Unlock()
		return true
	}
	left := h.endTime - e.clock.Now().UnixMilli()
	if left <= 0 {
		// Expired locally: the machine shows available without waiting for
		// the sweeper.
		delete(e.handles, h.machineID)
		e.mu.Unlock()
		e.emit(model.DisplayState{MachineID: h.machineID, Status: model.DisplayAvailable})
		return true
	}
	state := e.runningStateLocked(h)
	e.mu.Unlock()

	e.emit(state)
	return false
}

func (e *Engine) inSyncRunning(machineID string, endTimeMS int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[machineID]
	return ok && !h.paused && h.endTime == endTimeMS
}

func (e *Engine) inSyncPaused(machineID string, minutesRemaining int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[machineID]
	return ok && h.paused && model.MinutesCeil(h.pausedRemainingMS) == minutesRemaining
}

// disposeLocked stops and removes a handle. Caller holds e.mu.
func (e *Engine) disposeLocked(machineID string) {
	h, ok := e.handles[machineID]
	if !ok {
		return
	}
	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
	delete(e.handles, machineID)
}

func (e *Engine) runningStateLocked(h *handle) model.DisplayState {
	left := h.endTime - e.clock.Now().UnixMilli()
	if left < 0 {
		left = 0
	}
	return model.DisplayState{
		MachineID:        h.machineID,
		Status:           model.DisplayActive,
		MinutesRemaining: model.MinutesCeil(left),
		EndTime:          h.endTime,
		AlmostDone:       left <= model.AlmostDoneMS,
	}
}

func (e *Engine) pausedStateLocked(h *handle) model.DisplayState {
	return model.DisplayState{
		MachineID:        h.machineID,
		Status:           model.DisplayPaused,
		MinutesRemaining: model.MinutesCeil(h.pausedRemainingMS),
	}
}
