package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"laundry-room-coordinator/internal/kvstore"
	"laundry-room-coordinator/internal/model"
)

// TransientStoreError reports a compare-and-delete that kept failing after
// backoff. Sweeping is best effort: the caller logs it and moves on, and the
// next change notification retries naturally.
type TransientStoreError struct {
	MachineID string
	Attempts  int
	Err       error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("sweep of %s failed after %d attempts: %v", e.MachineID, e.Attempts, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// candidate is an expired record observed during a pass. ObservedEndTime is
// the compare value: if the stored end time no longer matches, someone
// restarted or extended the machine and the delete must abort.
type candidate struct {
	machineID       string
	observedEndTime int64
}

// Sweeper opportunistically removes expired machine records. It runs on
// change notifications, never on a fixed schedule.
type Sweeper struct {
	store kvstore.Store
	clock clockwork.Clock

	batchSize   int
	batchPause  time.Duration
	backoffBase time.Duration
	maxAttempts int
}

// Option tunes a Sweeper.
type Option func(*Sweeper)

// WithBatch overrides the candidate batch size and inter-batch pause.
func WithBatch(size int, pause time.Duration) Option {
	return func(s *Sweeper) {
		s.batchSize = size
		s.batchPause = pause
	}
}

// WithRetry overrides the per-candidate retry policy.
func WithRetry(attempts int, backoffBase time.Duration) Option {
	return func(s *Sweeper) {
		s.maxAttempts = attempts
		s.backoffBase = backoffBase
	}
}

// New creates a sweeper with the defaults from the coordination protocol:
// batches of 2 with a 250ms pause, 2 attempts with 100ms exponential
// backoff.
func New(store kvstore.Store, clock clockwork.Clock, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:       store,
		clock:       clock,
		batchSize:   2,
		batchPause:  250 * time.Millisecond,
		backoffBase: 100 * time.Millisecond,
		maxAttempts: 2,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep examines the snapshot and deletes records whose end time has passed
// the expiration buffer. Returns the number of records removed.
//
// The whole pass is skipped while any record sits in the critical window
// (expiring within 2 minutes but not yet past the buffer): deleting next to
// a record a client is about to read or extend invites a lost update.
func (s *Sweeper) Sweep(ctx context.Context, snap kvstore.Snapshot) int {
	now := s.clock.Now().UnixMilli()

	var cands []candidate
	for id, rec := range snap {
		if rec == nil || rec.Status != model.StatusActive {
			continue
		}
		left := rec.EndTime - now
		if left <= model.ExpireBufferMS {
			cands = append(cands, candidate{machineID: id, observedEndTime: rec.EndTime})
			continue
		}
		if left <= model.CriticalWindowMS {
			log.Printf("sweep: %s expires in %dms, deferring pass", id, left)
			return 0
		}
	}
	if len(cands) == 0 {
		return 0
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].machineID < cands[j].machineID })

	removed := 0
	for i := 0; i < len(cands); i += s.batchSize {
		if i > 0 {
			s.clock.Sleep(s.batchPause)
		}
		end := i + s.batchSize
		if end > len(cands) {
			end = len(cands)
		}
		for _, c := range cands[i:end] {
			if ctx.Err() != nil {
				return removed
			}
			// One candidate's failure must not block the rest.
			deleted, err := s.sweepOne(ctx, c)
			if err != nil {
				log.Printf("sweep: %v", err)
				continue
			}
			if deleted {
				removed++
			}
		}
	}
	return removed
}

// sweepOne runs a single compare-and-delete, retrying transient store
// failures with exponential backoff.
func (s *Sweeper) sweepOne(ctx context.Context, c candidate) (bool, error) {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			s.clock.Sleep(s.backoffBase * (1 << (attempt - 1)))
		}
		err = s.store.Transact(ctx, c.machineID, func(cur *model.MachineRecord) (*model.MachineRecord, error) {
			if cur == nil || cur.Status != model.StatusActive {
				return nil, kvstore.ErrNoChange
			}
			if cur.EndTime != c.observedEndTime {
				// Restarted or extended since the candidate was identified.
				return nil, kvstore.ErrNoChange
			}
			if cur.EndTime-s.clock.Now().UnixMilli() > model.ExpireBufferMS {
				return nil, kvstore.ErrNoChange
			}
			return nil, nil
		})
		if err == nil {
			return true, nil
		}
		if errors.Is(err, kvstore.ErrNoChange) {
			return false, nil
		}
	}
	return false, &TransientStoreError{MachineID: c.machineID, Attempts: s.maxAttempts, Err: err}
}
