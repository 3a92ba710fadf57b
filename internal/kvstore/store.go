package kvstore

import (
	"context"
	"errors"

	"laundry-room-coordinator/internal/model"
)

var (
	// ErrNoChange may be returned from a TxFunc to abort a transaction
	// without mutating or deleting anything. Transact reports it back to the
	// caller so compare-and-abort protocols can tell a skip from a delete.
	ErrNoChange = errors.New("kvstore: no change")

	// ErrConflict indicates the store could not commit the transaction.
	ErrConflict = errors.New("kvstore: transaction conflict")
)

// Snapshot is a point-in-time copy of machine records keyed by machine id.
// Absent machines have no entry.
type Snapshot map[string]*model.MachineRecord

// TxFunc receives the current record (nil when absent) and returns the next
// record. Returning nil deletes the record; returning ErrNoChange leaves the
// store untouched. Any other error aborts the transaction and is returned
// unchanged to the caller.
type TxFunc func(current *model.MachineRecord) (*model.MachineRecord, error)

// Store is the shared machine-state store. It is the single source of truth;
// every mutation of machine records goes through it.
type Store interface {
	// Transact runs fn atomically against the record at key.
	Transact(ctx context.Context, key string, fn TxFunc) error

	// Read returns the record at key, or nil when absent.
	Read(ctx context.Context, key string) (*model.MachineRecord, error)

	// Write stores rec at key without transactional isolation.
	Write(ctx context.Context, key string, rec *model.MachineRecord) error

	// Delete removes the record at key. Deleting an absent record succeeds.
	Delete(ctx context.Context, key string) error

	// Subscribe registers fn to receive a snapshot of all records whose key
	// starts with prefix after every successful mutation. The returned
	// function detaches the subscription.
	Subscribe(prefix string, fn func(Snapshot)) (unsubscribe func())
}

// CloneSnapshot deep-copies a snapshot so subscribers cannot alias stored
// records.
func CloneSnapshot(snap Snapshot) Snapshot {
	out := make(Snapshot, len(snap))
	for k, v := range snap {
		out[k] = v.Clone()
	}
	return out
}
