// Package uuid provides unit tests for record id generation.
package uuid

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestNew tests that New() generates v7 UUID strings.
func TestNew(t *testing.T) {
	id := New()

	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("New() = %q is not a UUID: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Errorf("Version() = %d, want 7", parsed.Version())
	}
}

// TestNewUniqueness tests that New() generates unique, ordered IDs.
func TestNewUniqueness(t *testing.T) {
	ids := make([]string, 0, 1000)
	seen := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("Duplicate UUID generated: %s", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if !sort.StringsAreSorted(ids) {
		t.Error("v7 ids generated in sequence should sort lexically")
	}
}

// TestTime tests decoding the timestamp of a v7 id.
func TestTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Time(New())
	if err != nil {
		t.Fatalf("Time() error = %v", err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("Time() = %v, want close to now", ts)
	}

	if _, err := Time("f47ac10b-58cc-4372-a567-0e02b2c3d479"); err == nil {
		t.Error("Time() should reject a v4 UUID")
	}
	if _, err := Time("not-a-uuid"); err == nil {
		t.Error("Time() should reject garbage")
	}
}

// TestIsValid tests UUID validation.
func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"v7", New(), true},
		{"v4", "f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"empty", "", false},
		{"garbage", "workout-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.in); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
