package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLedger_AppendWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mastery.jsonl")
	ledger, err := NewLedger(path)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	defer ledger.Close()

	entries := []ProgressEntry{
		{MissionID: "msn_1771722000_a3f2b7c1", LinkedID: "mastery_focus", Label: "Read", Amount: 2.5},
		{LinkedID: "mastery_strength", Label: "Pushups", Amount: 1},
	}
	for _, e := range entries {
		if err := ledger.Append(e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer f.Close()

	var got []ProgressEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e ProgressEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		got = append(got, e)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[0].LinkedID != "mastery_focus" || got[0].Amount != 2.5 {
		t.Errorf("first entry mismatch: %+v", got[0])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("zero timestamp should be filled in on append")
	}
}

func TestLedger_AppendAfterClose(t *testing.T) {
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "mastery.jsonl"))
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ledger.Append(ProgressEntry{LinkedID: "x", Amount: 1}); err == nil {
		t.Error("expected error appending to closed ledger")
	}
}

func TestEntryFromEvent(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	e := Event{
		Type:      EventMasteryProgress,
		Timestamp: now,
		Data:      MasteryPayload("msn_1771722000_a3f2b7c1", "mastery_focus", "Read", 2.5),
	}
	entry := EntryFromEvent(e)
	if entry.MissionID != "msn_1771722000_a3f2b7c1" {
		t.Errorf("mission id: %q", entry.MissionID)
	}
	if entry.LinkedID != "mastery_focus" || entry.Label != "Read" || entry.Amount != 2.5 {
		t.Errorf("entry mismatch: %+v", entry)
	}
	if !entry.Timestamp.Equal(now) {
		t.Errorf("timestamp not carried: %v", entry.Timestamp)
	}
}
