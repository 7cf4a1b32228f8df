package model

import (
	"testing"
)

func TestGenerateMissionID(t *testing.T) {
	id := GenerateMissionID()
	if !ValidateMissionID(id) {
		t.Errorf("generated ID %q does not match regex", id)
	}
	if id[:4] != "msn_" {
		t.Errorf("expected prefix msn_, got %q", id[:4])
	}
}

func TestGenerateMissionID_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateMissionID()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestValidateMissionID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"valid", "msn_1771722000_a3f2b7c1", true},
		{"wrong prefix", "task_1771722000_a3f2b7c1", false},
		{"short timestamp", "msn_177172200_a3f2b7c1", false},
		{"long timestamp", "msn_17717220001_a3f2b7c1", false},
		{"uppercase hex", "msn_1771722000_A3F2B7C1", false},
		{"short hex", "msn_1771722000_a3f2b7c", false},
		{"empty", "", false},
		{"no separators", "msn1771722000a3f2b7c1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateMissionID(tt.id); got != tt.valid {
				t.Errorf("ValidateMissionID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestParseMissionIDTimestamp(t *testing.T) {
	ts, err := ParseMissionIDTimestamp("msn_1771722000_a3f2b7c1")
	if err != nil {
		t.Fatalf("ParseMissionIDTimestamp returned error: %v", err)
	}
	if ts.Unix() != 1771722000 {
		t.Errorf("expected timestamp 1771722000, got %d", ts.Unix())
	}
}

func TestParseMissionIDTimestamp_Invalid(t *testing.T) {
	if _, err := ParseMissionIDTimestamp("garbage"); err == nil {
		t.Error("expected error for invalid ID")
	}
}
