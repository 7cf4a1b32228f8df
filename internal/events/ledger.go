package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ProgressEntry is one mastery progress grant, as recorded on disk.
type ProgressEntry struct {
	Timestamp time.Time `json:"timestamp"`
	MissionID string    `json:"mission_id,omitempty"`
	LinkedID  string    `json:"linked_id"`
	Label     string    `json:"label"`
	Amount    float64   `json:"amount"`
}

// Ledger is the append-only JSONL record of mastery progress events. Appends
// are best-effort: the engine publishes and moves on, so a failed append is
// logged by the caller and otherwise ignored.
type Ledger struct {
	mu   sync.Mutex
	file *os.File
}

func NewLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	return &Ledger{file: file}, nil
}

// Append writes one entry as a JSON line. A zero timestamp is filled in.
func (l *Ledger) Append(entry ProgressEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("ledger is closed")
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// EntryFromEvent extracts a ProgressEntry from a mastery progress event.
func EntryFromEvent(e Event) ProgressEntry {
	entry := ProgressEntry{Timestamp: e.Timestamp}
	if v, ok := e.Data["mission_id"].(string); ok {
		entry.MissionID = v
	}
	if v, ok := e.Data["linked_id"].(string); ok {
		entry.LinkedID = v
	}
	if v, ok := e.Data["label"].(string); ok {
		entry.Label = v
	}
	if v, ok := e.Data["amount"].(float64); ok {
		entry.Amount = v
	}
	return entry
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
