package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"WARN", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn, "store")

	l.Debugf("dropped")
	l.Infof("dropped")
	l.Warnf("kept %d", 1)
	l.Errorf("kept %d", 2)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("below-level lines leaked: %s", out)
	}
	if !strings.Contains(out, "WARN store: kept 1") {
		t.Errorf("missing warn line: %s", out)
	}
	if !strings.Contains(out, "ERROR store: kept 2") {
		t.Errorf("missing error line: %s", out)
	}
}

func TestLogger_NilIsSilent(t *testing.T) {
	var l *Logger
	// Must not panic.
	l.Infof("into the void")
	l.WithComponent("x").Errorf("still nothing")
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo, "engine")
	l.WithComponent("refresh").Infof("tick")

	if !strings.Contains(buf.String(), "INFO refresh: tick") {
		t.Errorf("component tag not applied: %s", buf.String())
	}
}
