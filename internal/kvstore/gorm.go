package kvstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"laundry-room-coordinator/internal/model"
)

// gormStore implements Store on a GORM-managed database. Each Transact runs
// inside a database transaction, which serializes writers per key.
type gormStore struct {
	db   *gorm.DB
	subs *subscribers
}

// NewGormStore creates a database-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db, subs: newSubscribers()}
}

func (s *gormStore) Transact(ctx context.Context, key string, fn TxFunc) error {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := readRecord(lockForTx(tx), key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		if next == nil {
			if current == nil {
				return nil
			}
			if err := tx.Delete(&model.MachineRecord{}, "machine_id = ?", key).Error; err != nil {
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
			changed = true
			return nil
		}

		next.MachineID = key
		if err := upsertRecord(tx, next); err != nil {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}

	if changed {
		s.broadcast(ctx)
	}
	return nil
}

// lockForTx takes a row lock on dialects where a plain read inside a
// transaction is not enough for atomic read-modify-write. Postgres runs
// READ COMMITTED by default, so without FOR UPDATE a concurrent writer can
// commit between the read and the delete; sqlite serializes writers on its
// own.
func lockForTx(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (s *gormStore) Read(ctx context.Context, key string) (*model.MachineRecord, error) {
	return readRecord(s.db.WithContext(ctx), key)
}

func (s *gormStore) Write(ctx context.Context, key string, rec *model.MachineRecord) error {
	out := rec.Clone()
	out.MachineID = key
	if err := upsertRecord(s.db.WithContext(ctx), out); err != nil {
		return err
	}
	s.broadcast(ctx)
	return nil
}

func (s *gormStore) Delete(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Delete(&model.MachineRecord{}, "machine_id = ?", key)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.broadcast(ctx)
	}
	return nil
}

func (s *gormStore) Subscribe(prefix string, fn func(Snapshot)) func() {
	return s.subs.add(prefix, fn)
}

func (s *gormStore) broadcast(ctx context.Context) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		// Subscribers simply miss one notification; the next mutation
		// delivers a fresh snapshot.
		return
	}
	s.subs.broadcast(snap)
}

func (s *gormStore) snapshot(ctx context.Context) (Snapshot, error) {
	var rows []model.MachineRecord
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	snap := make(Snapshot, len(rows))
	for i := range rows {
		snap[rows[i].MachineID] = &rows[i]
	}
	return snap, nil
}

func readRecord(tx *gorm.DB, key string) (*model.MachineRecord, error) {
	var rec model.MachineRecord
	err := tx.Where("machine_id = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func upsertRecord(tx *gorm.DB, rec *model.MachineRecord) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "machine_id"}},
		UpdateAll: true,
	}).Create(rec).Error
}
