package models

// CountStatus classifies one audited (location, item) pair.
// Stored values match the legacy audit sheet ("Mismatch" for a catalog miss).
type CountStatus string

const (
	CountStatusOK               CountStatus = "OK"
	CountStatusShort            CountStatus = "Short"
	CountStatusExcess           CountStatus = "Excess"
	CountStatusLocationMismatch CountStatus = "Mismatch"
	CountStatusMisplaced        CountStatus = "Misplaced"
)

// IsDiscrepancy reports whether the row belongs on the discrepancy list.
func (s CountStatus) IsDiscrepancy() bool {
	return s != CountStatusOK
}

// CountMode selects whether a submitted quantity overwrites or adds to
// any prior count for the same key.
type CountMode string

const (
	CountModeAbsolute  CountMode = "Absolute"
	CountModeIncrement CountMode = "Increment"
)

type UserRole string

const (
	UserRoleAdmin   UserRole = "A"
	UserRoleCounter UserRole = "C"
)
