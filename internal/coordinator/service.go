package coordinator

import (
	"context"
	"log"
	"sync"

	"github.com/jonboulle/clockwork"

	"laundry-room-coordinator/config"
	"laundry-room-coordinator/internal/countdown"
	"laundry-room-coordinator/internal/feed"
	"laundry-room-coordinator/internal/kvstore"
	"laundry-room-coordinator/internal/model"
	"laundry-room-coordinator/internal/reconcile"
	"laundry-room-coordinator/internal/sweep"
)

// Service composes the coordination pipeline: store changes flow through the
// debouncing notifier into a reconciliation pass, which re-derives the
// display list, syncs the local countdowns and triggers an expiry sweep.
type Service struct {
	store     kvstore.Store
	engine    *reconcile.Engine
	sweeper   *sweep.Sweeper
	countdown *countdown.Engine
	notifier  *feed.Notifier
	clock     clockwork.Clock

	ctx context.Context

	snapMu sync.Mutex
	latest kvstore.Snapshot

	// passMu serializes reconciliation passes; the notifier may fire from
	// both the mutating goroutine and its own delay timer.
	passMu sync.Mutex
}

// New wires up a coordinator over the given store. emit receives every
// display update from the countdown engine; nil is allowed.
func New(cfg *config.Config, store kvstore.Store, clock clockwork.Clock, emit func(model.DisplayState)) *Service {
	s := &Service{
		store:     store,
		engine:    reconcile.NewEngine(store, clock),
		countdown: countdown.New(clock, emit),
		clock:     clock,
		ctx:       context.Background(),
	}
	s.sweeper = sweep.New(store, clock,
		sweep.WithBatch(cfg.Sweep.BatchSize, cfg.Sweep.BatchPause),
		sweep.WithRetry(cfg.Sweep.MaxAttempts, cfg.Sweep.BackoffBase),
	)
	s.notifier = feed.New(clock, cfg.Feed.MinInterval, cfg.Feed.Delay, s.reconcilePass)
	return s
}

// Run processes an initial pass, then follows the store's change feed until
// the context is cancelled. Teardown detaches the subscription, cancels any
// pending debounce and stops every local countdown.
func (s *Service) Run(ctx context.Context) {
	log.Println("Starting coordinator...")
	s.ctx = ctx

	if snap, err := s.loadSnapshot(ctx); err != nil {
		log.Printf("initial snapshot load failed: %v", err)
	} else {
		s.setLatest(snap)
	}
	s.reconcilePass()

	unsubscribe := s.store.Subscribe("", func(snap kvstore.Snapshot) {
		s.setLatest(snap)
		s.notifier.Notify()
	})

	<-ctx.Done()
	log.Println("Coordinator shutting down.")
	unsubscribe()
	s.notifier.Close()
	s.countdown.Close()
}

// Claim starts or overrides a machine's timer and begins the local
// countdown immediately, ahead of the change feed.
func (s *Service) Claim(ctx context.Context, machineID string, minutes int) (model.DisplayState, error) {
	rec, err := s.engine.Claim(ctx, machineID, minutes)
	if err != nil {
		return model.DisplayState{}, err
	}
	s.countdown.Start(machineID, rec.EndTime)
	return model.DeriveDisplay(machineID, rec, s.clock.Now().UnixMilli()), nil
}

// Pause freezes a machine's timer.
func (s *Service) Pause(ctx context.Context, machineID string) (model.DisplayState, error) {
	rec, err := s.engine.Pause(ctx, machineID)
	if err != nil {
		return model.DisplayState{}, err
	}
	if !s.countdown.Pause(machineID) {
		s.countdown.SetPaused(machineID, rec.PausedTimeRemaining)
	}
	return model.DeriveDisplay(machineID, rec, s.clock.Now().UnixMilli()), nil
}

// Resume restarts a paused machine's timer from its stored remaining
// minutes.
func (s *Service) Resume(ctx context.Context, machineID string) (model.DisplayState, error) {
	rec, err := s.engine.Resume(ctx, machineID)
	if err != nil {
		return model.DisplayState{}, err
	}
	// The stored end time is authoritative; the local countdown re-syncs to
	// it rather than resuming from its own snapshot.
	s.countdown.Start(machineID, rec.EndTime)
	return model.DeriveDisplay(machineID, rec, s.clock.Now().UnixMilli()), nil
}

// Stop releases a machine. Idempotent.
func (s *Service) Stop(ctx context.Context, machineID string) error {
	if err := s.engine.Stop(ctx, machineID); err != nil {
		return err
	}
	s.countdown.Stop(machineID)
	return nil
}

// Displays derives the current display list for every machine in the room.
func (s *Service) Displays() []model.DisplayState {
	snap := s.snapshot()
	now := s.clock.Now().UnixMilli()
	ids := model.AllMachineIDs()
	out := make([]model.DisplayState, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.DeriveDisplay(id, snap[id], now))
	}
	return out
}

// reconcilePass recomputes the display list from the latest snapshot, syncs
// the countdown engine and runs an expiry sweep. Sweep failures are already
// logged downstream and never abort the pass.
func (s *Service) reconcilePass() {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	snap := s.snapshot()
	now := s.clock.Now().UnixMilli()
	displays := make([]model.DisplayState, 0, len(model.AllMachineIDs()))
	for _, id := range model.AllMachineIDs() {
		displays = append(displays, model.DeriveDisplay(id, snap[id], now))
	}
	s.countdown.Apply(displays)
	s.sweeper.Sweep(s.ctx, snap)
}

func (s *Service) loadSnapshot(ctx context.Context) (kvstore.Snapshot, error) {
	snap := make(kvstore.Snapshot)
	for _, id := range model.AllMachineIDs() {
		rec, err := s.store.Read(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			snap[id] = rec
		}
	}
	return snap, nil
}

func (s *Service) setLatest(snap kvstore.Snapshot) {
	s.snapMu.Lock()
	s.latest = snap
	s.snapMu.Unlock()
}

func (s *Service) snapshot() kvstore.Snapshot {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.latest
}
