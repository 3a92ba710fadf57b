package reconcile

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"laundry-room-coordinator/internal/kvstore"
	"laundry-room-coordinator/internal/model"
)

const msPerMinute = 60_000

// Commit-conflict retry policy for claims.
const (
	claimAttempts   = 3
	claimRetryDelay = 50 * time.Millisecond
)

// Engine executes the four machine-state transactions against the shared
// store. Claims go through a real store transaction with last-writer-wins
// semantics; pause and resume are read-then-write, an accepted weaker
// guarantee (concurrent pause/resume on the same machine may lose an
// update).
type Engine struct {
	store kvstore.Store
	clock clockwork.Clock

	// claims dedupes concurrent claims per machine id: a second caller for
	// the same id awaits the in-flight transaction instead of issuing a
	// duplicate one.
	claims singleflight.Group
}

// NewEngine creates a reconciliation engine over the given store.
// In production pass clockwork.NewRealClock(); tests use a FakeClock.
func NewEngine(store kvstore.Store, clock clockwork.Clock) *Engine {
	return &Engine{store: store, clock: clock}
}

// Claim starts (or overrides) a machine's timer for the given duration.
// It always overwrites whatever record is present: the real-world conflict
// is resolved in the laundry room, not by blocking here.
func (e *Engine) Claim(ctx context.Context, machineID string, minutes int) (*model.MachineRecord, error) {
	if err := validateMachineID(machineID); err != nil {
		return nil, err
	}
	if minutes < model.MinDurationMinutes || minutes > model.MaxDurationMinutes {
		return nil, &ValidationError{
			Field:  "minutes",
			Value:  strconv.Itoa(minutes),
			Reason: "duration must be between 1 and 120 minutes",
		}
	}

	v, err, _ := e.claims.Do(machineID, func() (interface{}, error) {
		return e.claimTx(ctx, machineID, minutes)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.MachineRecord), nil
}

func (e *Engine) claimTx(ctx context.Context, machineID string, minutes int) (*model.MachineRecord, error) {
	var rec *model.MachineRecord
	var err error
	for attempt := 0; attempt < claimAttempts; attempt++ {
		if attempt > 0 {
			e.clock.Sleep(claimRetryDelay)
		}
		err = e.store.Transact(ctx, machineID, func(_ *model.MachineRecord) (*model.MachineRecord, error) {
			now := e.clock.Now().UnixMilli()
			rec = &model.MachineRecord{
				MachineID:       machineID,
				Status:          model.StatusActive,
				EndTime:         now + int64(minutes)*msPerMinute,
				DurationMinutes: minutes,
				UpdatedAt:       now,
			}
			return rec, nil
		})
		if err == nil {
			return rec, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &TransactionError{MachineID: machineID, Op: "claim", Attempts: claimAttempts, Err: err}
}

// Pause freezes an active machine, storing the remaining time as whole
// minutes rounded up.
func (e *Engine) Pause(ctx context.Context, machineID string) (*model.MachineRecord, error) {
	if err := validateMachineID(machineID); err != nil {
		return nil, err
	}

	cur, err := e.store.Read(ctx, machineID)
	if err != nil {
		return nil, &TransactionError{MachineID: machineID, Op: "pause", Attempts: 1, Err: err}
	}
	if cur == nil || cur.Status != model.StatusActive {
		return nil, &InvalidStateError{MachineID: machineID, Op: "pause", Current: statusOf(cur)}
	}

	now := e.clock.Now().UnixMilli()
	rec := &model.MachineRecord{
		MachineID:           machineID,
		Status:              model.StatusPaused,
		PausedTimeRemaining: model.MinutesCeil(cur.RemainingMS(now)),
		DurationMinutes:     cur.DurationMinutes,
		PausedAt:            now,
		UpdatedAt:           now,
	}
	if err := e.store.Write(ctx, machineID, rec); err != nil {
		return nil, &TransactionError{MachineID: machineID, Op: "pause", Attempts: 1, Err: err}
	}
	return rec, nil
}

// Resume restarts a paused machine with a fresh end time computed from the
// stored remaining minutes.
func (e *Engine) Resume(ctx context.Context, machineID string) (*model.MachineRecord, error) {
	if err := validateMachineID(machineID); err != nil {
		return nil, err
	}

	cur, err := e.store.Read(ctx, machineID)
	if err != nil {
		return nil, &TransactionError{MachineID: machineID, Op: "resume", Attempts: 1, Err: err}
	}
	if cur == nil || cur.Status != model.StatusPaused {
		return nil, &InvalidStateError{MachineID: machineID, Op: "resume", Current: statusOf(cur)}
	}

	now := e.clock.Now().UnixMilli()
	rec := &model.MachineRecord{
		MachineID:       machineID,
		Status:          model.StatusActive,
		EndTime:         now + int64(cur.PausedTimeRemaining)*msPerMinute,
		DurationMinutes: cur.DurationMinutes,
		ResumedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.Write(ctx, machineID, rec); err != nil {
		return nil, &TransactionError{MachineID: machineID, Op: "resume", Attempts: 1, Err: err}
	}
	return rec, nil
}

// Stop removes a machine's record. Idempotent: stopping an absent machine
// succeeds.
func (e *Engine) Stop(ctx context.Context, machineID string) error {
	if err := validateMachineID(machineID); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, machineID); err != nil {
		return &TransactionError{MachineID: machineID, Op: "stop", Attempts: 1, Err: err}
	}
	return nil
}

// IsRecoverable reports whether err is a validation or state error that the
// caller resolves at the boundary rather than a system failure.
func IsRecoverable(err error) bool {
	var ve *ValidationError
	var se *InvalidStateError
	return errors.As(err, &ve) || errors.As(err, &se)
}

func validateMachineID(machineID string) error {
	if !model.ValidMachineID(machineID) {
		return &ValidationError{
			Field:  "machine_id",
			Value:  machineID,
			Reason: "must be washer_1..4 or dryer_1..4",
		}
	}
	return nil
}

func statusOf(rec *model.MachineRecord) model.MachineStatus {
	if rec == nil {
		return ""
	}
	return rec.Status
}
