package db

import "strings"

// IsUniqueViolation reports whether the provided error references a Postgres
// unique violation constraint. When constraintName is provided, the helper looks
// for the constraint text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value")
}

// IsLockTimeout reports whether the error looks like a row-lock wait timeout.
// Both the Postgres lock_timeout error and a NOWAIT lock failure are covered.
func IsLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "canceling statement due to lock timeout") ||
		strings.Contains(msg, "could not obtain lock on row")
}
