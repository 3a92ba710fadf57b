package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-room-coordinator/internal/kvstore"
	"laundry-room-coordinator/internal/model"
)

func newTestEngine(t *testing.T) (*Engine, kvstore.Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := kvstore.NewMemoryStore()
	return NewEngine(store, clock), store, clock
}

func TestClaim_Validation(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	badIDs := []string{"", "washer_0", "washer_5", "dryer_9", "toaster_1", "washer", "WASHER_1"}
	for _, id := range badIDs {
		_, err := engine.Claim(ctx, id, 30)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, id)
		assert.Equal(t, "machine_id", ve.Field)
	}

	for _, minutes := range []int{0, -1, 121, 1000} {
		_, err := engine.Claim(ctx, "washer_1", minutes)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "minutes=%d", minutes)
		assert.Equal(t, "minutes", ve.Field)
	}

	// Validation failures never reach the store.
	for _, id := range model.AllMachineIDs() {
		rec, err := store.Read(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
}

func TestClaim_WritesActiveRecord(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	ctx := context.Background()

	rec, err := engine.Claim(ctx, "washer_1", 29)
	require.NoError(t, err)

	now := clock.Now().UnixMilli()
	assert.Equal(t, model.StatusActive, rec.Status)
	assert.Equal(t, now+29*60_000, rec.EndTime)
	assert.Equal(t, 29, rec.DurationMinutes)
	assert.Equal(t, now, rec.UpdatedAt)
	assert.Zero(t, rec.PausedTimeRemaining)

	stored, err := store.Read(ctx, "washer_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, rec.EndTime, stored.EndTime)
}

// A claim against an active machine always succeeds and replaces the prior
// timer, no matter how much time was left.
func TestClaim_OverridesActiveRecord(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Claim(ctx, "washer_3", 120)
	require.NoError(t, err)

	clock.Advance(1 * time.Minute)
	rec, err := engine.Claim(ctx, "washer_3", 5)
	require.NoError(t, err)

	stored, err := store.Read(ctx, "washer_3")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, rec.EndTime, stored.EndTime)
	assert.Equal(t, 5, stored.DurationMinutes)
	assert.Equal(t, clock.Now().UnixMilli()+5*60_000, stored.EndTime)
}

// Two concurrent claims for the same machine leave a single coherent record;
// the duplicate is folded into the in-flight transaction.
func TestClaim_ConcurrentSameMachine(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*model.MachineRecord, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = engine.Claim(ctx, "washer_3", 29)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
	}

	stored, err := store.Read(ctx, "washer_3")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.StatusActive, stored.Status)
	assert.Equal(t, 29, stored.DurationMinutes)
	assert.Equal(t, stored.UpdatedAt+29*60_000, stored.EndTime)
}

func TestPause_RequiresActive(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Pause(ctx, "washer_1")
	var se *InvalidStateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "pause", se.Op)

	require.NoError(t, store.Write(ctx, "washer_1", &model.MachineRecord{
		Status: model.StatusPaused, PausedTimeRemaining: 10,
	}))
	_, err = engine.Pause(ctx, "washer_1")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, model.StatusPaused, se.Current)
}

func TestResume_RequiresPaused(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Resume(ctx, "dryer_1")
	var se *InvalidStateError
	require.ErrorAs(t, err, &se)

	_, err = engine.Claim(ctx, "dryer_1", 30)
	require.NoError(t, err)
	_, err = engine.Resume(ctx, "dryer_1")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, model.StatusActive, se.Current)
}

// Claim 60 minutes, pause after 10: the 50 remaining minutes are banked;
// resume later computes a fresh end time from that snapshot.
func TestPauseResume_RoundTrip(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Claim(ctx, "dryer_2", 60)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	paused, err := engine.Pause(ctx, "dryer_2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, paused.Status)
	assert.Equal(t, 50, paused.PausedTimeRemaining)
	assert.Zero(t, paused.EndTime, "pause drops end_time")
	assert.Equal(t, clock.Now().UnixMilli(), paused.PausedAt)

	clock.Advance(10 * time.Second)
	resumed, err := engine.Resume(ctx, "dryer_2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, resumed.Status)
	assert.Equal(t, clock.Now().UnixMilli()+50*60_000, resumed.EndTime)
	assert.Zero(t, resumed.PausedTimeRemaining, "resume drops pause fields")
	assert.Equal(t, clock.Now().UnixMilli(), resumed.ResumedAt)

	stored, err := store.Read(ctx, "dryer_2")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, resumed.EndTime, stored.EndTime)

	// Displayed remaining minutes round-trip within a minute.
	now := clock.Now().UnixMilli()
	display := model.DeriveDisplay("dryer_2", stored, now)
	assert.Equal(t, model.DisplayActive, display.Status)
	assert.InDelta(t, 50, display.MinutesRemaining, 1)
}

// Pausing mid-minute rounds the remaining time up to the next whole minute.
func TestPause_RoundsUp(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Claim(ctx, "dryer_2", 60)
	require.NoError(t, err)

	clock.Advance(10*time.Minute + 10*time.Second)
	paused, err := engine.Pause(ctx, "dryer_2")
	require.NoError(t, err)
	assert.Equal(t, 50, paused.PausedTimeRemaining, "49m50s remaining rounds up to 50")
}

// flakyStore fails Transact a set number of times before delegating.
type flakyStore struct {
	kvstore.Store
	failures int
	calls    int
}

func (f *flakyStore) Transact(ctx context.Context, key string, fn kvstore.TxFunc) error {
	f.calls++
	if f.calls <= f.failures {
		return kvstore.ErrConflict
	}
	return f.Store.Transact(ctx, key, fn)
}

func TestClaim_RetriesCommitConflict(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &flakyStore{Store: kvstore.NewMemoryStore(), failures: 1}
	engine := NewEngine(store, clock)
	ctx := context.Background()

	var rec *model.MachineRecord
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec, err = engine.Claim(ctx, "washer_1", 30)
	}()

	// First attempt hits the conflict; the retry sleeps before going again.
	clock.BlockUntil(1)
	clock.Advance(claimRetryDelay)
	<-done

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusActive, rec.Status)
	assert.Equal(t, 2, store.calls)

	stored, readErr := store.Read(ctx, "washer_1")
	require.NoError(t, readErr)
	require.NotNil(t, stored)
	assert.Equal(t, rec.EndTime, stored.EndTime)
}

func TestClaim_TransactionErrorAfterRetriesExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &flakyStore{Store: kvstore.NewMemoryStore(), failures: claimAttempts}
	engine := NewEngine(store, clock)
	ctx := context.Background()

	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err = engine.Claim(ctx, "washer_1", 30)
	}()

	for i := 1; i < claimAttempts; i++ {
		clock.BlockUntil(1)
		clock.Advance(claimRetryDelay)
	}
	<-done

	var te *TransactionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "claim", te.Op)
	assert.Equal(t, claimAttempts, te.Attempts)
	assert.ErrorIs(t, err, kvstore.ErrConflict)
	assert.Equal(t, claimAttempts, store.calls)

	stored, readErr := store.Read(ctx, "washer_1")
	require.NoError(t, readErr)
	assert.Nil(t, stored, "a claim that never committed leaves nothing behind")
}

func TestStop_Idempotent(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Stop(ctx, "washer_4"), "stopping an absent machine succeeds")

	_, err := engine.Claim(ctx, "washer_4", 15)
	require.NoError(t, err)
	require.NoError(t, engine.Stop(ctx, "washer_4"))

	rec, err := store.Read(ctx, "washer_4")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, engine.Stop(ctx, "washer_4"))
}

func TestStop_Validation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	err := engine.Stop(context.Background(), "washer_9")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(&ValidationError{Field: "machine_id"}))
	assert.True(t, IsRecoverable(&InvalidStateError{MachineID: "washer_1"}))
	assert.False(t, IsRecoverable(&TransactionError{MachineID: "washer_1"}))
	assert.False(t, IsRecoverable(context.Canceled))
}
