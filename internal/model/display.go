package model

// Display status values emitted to presentation.
const (
	DisplayAvailable = "available"
	DisplayActive    = "active"
	DisplayPaused    = "paused"
)

// Timing thresholds, in milliseconds.
const (
	// ExpireBufferMS is the buffer below which an active record is shown as
	// available: near-zero server time counts as done whether or not the
	// sweeper has caught up.
	ExpireBufferMS = 30_000

	// AlmostDoneMS is the remaining time at which the urgency flag asserts.
	AlmostDoneMS = 60_000

	// CriticalWindowMS bounds the window before expiry in which sweeping is
	// suppressed to avoid racing a client about to read or extend the record.
	CriticalWindowMS = 120_000
)

// DisplayState is what presentation consumes for one machine. EndTime is
// carried for active machines so countdowns can tick locally without
// re-reading the store every second.
type DisplayState struct {
	MachineID        string `json:"machine_id"`
	Status           string `json:"status"`
	MinutesRemaining int    `json:"minutes_remaining"`
	EndTime          int64  `json:"end_time,omitempty"`
	AlmostDone       bool   `json:"almost_done,omitempty"`
}

// DeriveDisplay computes the display state for a machine from its stored
// record and the current time. Pure; rec may be nil for an absent record.
func DeriveDisplay(machineID string, rec *MachineRecord, nowMS int64) DisplayState {
	if rec == nil {
		return DisplayState{MachineID: machineID, Status: DisplayAvailable}
	}

	switch rec.Status {
	case StatusPaused:
		return DisplayState{
			MachineID:        machineID,
			Status:           DisplayPaused,
			MinutesRemaining: rec.PausedTimeRemaining,
		}
	case StatusActive:
		left := rec.EndTime - nowMS
		if left <= ExpireBufferMS {
			return DisplayState{MachineID: machineID, Status: DisplayAvailable}
		}
		return DisplayState{
			MachineID:        machineID,
			Status:           DisplayActive,
			MinutesRemaining: MinutesCeil(left),
			EndTime:          rec.EndTime,
			AlmostDone:       left <= AlmostDoneMS,
		}
	default:
		// Unknown stored status: treat as absent rather than invent a state.
		return DisplayState{MachineID: machineID, Status: DisplayAvailable}
	}
}
