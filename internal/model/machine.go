package model

import (
	"fmt"
	"regexp"
)

// The room has a fixed set of 8 machine slots.
const (
	washersPerRoom = 4
	dryersPerRoom  = 4
)

var machineIDRe = regexp.MustCompile(`^(washer|dryer)_[1-4]$`)

// ValidMachineID reports whether id names one of the room's machine slots.
func ValidMachineID(id string) bool {
	return machineIDRe.MatchString(id)
}

// AllMachineIDs returns every machine id in the room, washers first.
func AllMachineIDs() []string {
	ids := make([]string, 0, washersPerRoom+dryersPerRoom)
	for i := 1; i <= washersPerRoom; i++ {
		ids = append(ids, fmt.Sprintf("washer_%d", i))
	}
	for i := 1; i <= dryersPerRoom; i++ {
		ids = append(ids, fmt.Sprintf("dryer_%d", i))
	}
	return ids
}
