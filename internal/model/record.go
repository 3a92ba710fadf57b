package model

// MachineStatus is the stored status of a machine record. Availability is
// never stored; it is the absence of a record.
type MachineStatus string

const (
	StatusActive MachineStatus = "active"
	StatusPaused MachineStatus = "paused"
)

// Duration bounds accepted by a claim, in minutes.
const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 120
)

const msPerMinute = 60_000

// MachineRecord is the stored state for one machine slot. At most one record
// exists per machine id.
//
// EndTime is set only while active; PausedTimeRemaining only while paused.
// UpdatedAt, PausedAt and ResumedAt are bookkeeping only and must never feed
// a correctness decision.
type MachineRecord struct {
	MachineID           string        `gorm:"primaryKey;size:16" json:"machine_id"`
	Status              MachineStatus `gorm:"size:16;not null" json:"status"`
	EndTime             int64         `json:"end_time,omitempty"`
	PausedTimeRemaining int           `json:"paused_time_remaining,omitempty"`
	DurationMinutes     int           `json:"duration_minutes,omitempty"`
	UpdatedAt           int64         `gorm:"autoUpdateTime:false" json:"updated_at,omitempty"`
	PausedAt            int64         `json:"paused_at,omitempty"`
	ResumedAt           int64         `json:"resumed_at,omitempty"`
}

// TableName sets the table used by the GORM-backed store.
func (MachineRecord) TableName() string {
	return "machine_records"
}

// Clone returns a copy so callers can hand records across goroutines without
// aliasing the stored value.
func (r *MachineRecord) Clone() *MachineRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// RemainingMS returns how many milliseconds remain on an active record at
// the given time. Zero for anything not active.
func (r *MachineRecord) RemainingMS(nowMS int64) int64 {
	if r == nil || r.Status != StatusActive {
		return 0
	}
	left := r.EndTime - nowMS
	if left < 0 {
		return 0
	}
	return left
}

// MinutesCeil converts a millisecond duration to whole minutes, rounding up.
func MinutesCeil(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int((ms + msPerMinute - 1) / msPerMinute)
}
