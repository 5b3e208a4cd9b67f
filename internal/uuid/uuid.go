// Package uuid generates queue record identifiers.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New generates a time-ordered UUID v7, so ids sort by creation time.
// Falls back to a random v4 if the v7 generator fails.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Time returns the creation time encoded in a UUID v7 string.
func Time(s string) (time.Time, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 7 {
		return time.Time{}, fmt.Errorf("expected UUID v7, got v%d", id.Version())
	}
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec), nil
}

// IsValid checks if a string parses as any UUID version.
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
