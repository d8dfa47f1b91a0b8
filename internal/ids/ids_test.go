package ids

import (
	"strings"
	"testing"
)

func TestNewEventID(t *testing.T) {
	id := NewEventID()
	if !strings.HasPrefix(id, EventPrefix) {
		t.Fatalf("event id %q missing prefix %q", id, EventPrefix)
	}
	if !IsValidEventID(id) {
		t.Fatalf("generated event id %q failed validation", id)
	}
}

func TestEventIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewEventID()
		if seen[id] {
			t.Fatalf("duplicate event id %q", id)
		}
		seen[id] = true
	}
}

func TestIsValidEventID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", NewEventID(), true},
		{"empty", "", false},
		{"prefix only", "evt-", false},
		{"wrong prefix", "mon-0190c3a1-7d7e-7b5a-9a3e-1f2e3d4c5b6a", false},
		{"not a uuid", "evt-not-a-uuid", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidEventID(tt.id); got != tt.want {
				t.Fatalf("IsValidEventID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
