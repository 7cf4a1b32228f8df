package engine

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/mizuno/missiond/internal/lock"
	"github.com/mizuno/missiond/internal/model"
	"github.com/mizuno/missiond/internal/uds"
)

func testConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.Notify.Backend = "noop"
	cfg.Logging.Level = "error"
	cfg.Daemon.ShutdownTimeoutSec = 5
	return cfg
}

// startDaemon runs d in the background and waits for the socket to answer.
func startDaemon(t *testing.T, d *Daemon) (*uds.Client, chan error) {
	t.Helper()

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run() }()

	client := uds.NewClient(filepath.Join(d.home, uds.DefaultSocketName))
	client.SetTimeout(2 * time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := client.SendCommand("ping", nil)
		if err == nil && resp.Success {
			return client, runDone
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon never became ready: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func send(t *testing.T, client *uds.Client, command string, params any) *uds.Response {
	t.Helper()
	resp, err := client.SendCommand(command, params)
	if err != nil {
		t.Fatalf("%s: %v", command, err)
	}
	return resp
}

func TestNewDaemon_WiresComponents(t *testing.T) {
	d := newDaemon(t.TempDir(), testConfig(), io.Discard, nil)

	if d.store == nil || d.queue == nil || d.refresher == nil || d.dog == nil {
		t.Fatal("component left nil")
	}
	if d.server == nil || d.blobs == nil || d.bus == nil || d.sink == nil {
		t.Fatal("infrastructure left nil")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	d := newDaemon(t.TempDir(), testConfig(), io.Discard, nil)

	d.Shutdown()
	d.Shutdown() // second call must not panic

	select {
	case <-d.done:
	default:
		t.Error("done channel not closed after shutdown")
	}
}

func TestDaemon_LifecycleOverUDS(t *testing.T) {
	// /tmp keeps the socket path under the sun_path limit.
	home, err := os.MkdirTemp("/tmp", "missiond-engine-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(home)

	d := newDaemon(home, testConfig(), io.Discard, nil)
	client, runDone := startDaemon(t, d)

	// A second daemon on the same home must be rejected by the file lock.
	d2 := newDaemon(home, testConfig(), io.Discard, nil)
	if err := d2.Run(); err == nil || !strings.Contains(err.Error(), "daemon lock") {
		t.Errorf("second instance: got %v, want daemon lock error", err)
	}

	// Create a mastery-linked counter mission.
	resp := send(t, client, "mission_create", MissionCreateParams{
		Title:           "Pushups",
		Type:            "daily",
		IsCounterBased:  true,
		TargetCount:     2,
		LinkedMasteryID: "strength",
		MasteryValue:    1.5,
	})
	if !resp.Success {
		t.Fatalf("mission_create failed: %v", resp.Error)
	}
	var m model.Mission
	if err := json.Unmarshal(resp.Data, &m); err != nil {
		t.Fatalf("unmarshal mission: %v", err)
	}
	if m.NotificationID != 1 {
		t.Errorf("notification id = %d, want 1", m.NotificationID)
	}

	// Two increments hit the target and auto-complete.
	send(t, client, "mission_increment", MissionIncrementParams{ID: m.ID})
	resp = send(t, client, "mission_increment", MissionIncrementParams{ID: m.ID})
	if !resp.Success {
		t.Fatalf("second increment failed: %v", resp.Error)
	}
	var done model.Mission
	if err := json.Unmarshal(resp.Data, &done); err != nil {
		t.Fatalf("unmarshal mission: %v", err)
	}
	if !done.IsCompleted || done.CurrentCount != 2 {
		t.Errorf("after increments: completed=%v count=%d, want true/2", done.IsCompleted, done.CurrentCount)
	}

	// Unknown ids surface as NOT_FOUND, not as transport errors.
	resp = send(t, client, "mission_increment", MissionIncrementParams{ID: "mission_0000000000_ffffffff"})
	if resp.Success || resp.Error.Code != uds.ErrCodeNotFound {
		t.Errorf("unknown id: got %+v, want %s", resp.Error, uds.ErrCodeNotFound)
	}

	resp = send(t, client, "status", nil)
	if !resp.Success {
		t.Fatalf("status failed: %v", resp.Error)
	}
	var status StatusPayload
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Missions.Total != 1 || status.Missions.Completed != 1 {
		t.Errorf("status missions = %+v, want 1 total 1 completed", status.Missions)
	}
	if status.Daemon.PID != os.Getpid() {
		t.Errorf("status pid = %d, want %d", status.Daemon.PID, os.Getpid())
	}

	if resp = send(t, client, "check", nil); !resp.Success {
		t.Fatalf("check failed: %v", resp.Error)
	}
	if resp = send(t, client, "refresh", nil); !resp.Success {
		t.Fatalf("refresh failed: %v", resp.Error)
	}

	// Shutdown over UDS must unblock Run.
	resp = send(t, client, "shutdown", nil)
	if !resp.Success {
		t.Fatalf("shutdown failed: %v", resp.Error)
	}
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after UDS shutdown")
	}

	// Socket removed, lock released.
	if _, err := os.Stat(filepath.Join(home, uds.DefaultSocketName)); !os.IsNotExist(err) {
		t.Errorf("socket still present after shutdown: %v", err)
	}
	fl := lock.NewFileLock(filepath.Join(home, "locks", "daemon.lock"))
	if err := fl.TryLock(); err != nil {
		t.Errorf("lock not released: %v", err)
	} else {
		fl.Unlock()
	}

	// The metrics blob reflects the session.
	data, err := os.ReadFile(filepath.Join(home, "store", "metrics.yaml"))
	if err != nil {
		t.Fatalf("read metrics blob: %v", err)
	}
	var metrics model.Metrics
	if err := yamlv3.Unmarshal(data, &metrics); err != nil {
		t.Fatalf("parse metrics blob: %v", err)
	}
	if metrics.FileType != model.FileTypeMetrics {
		t.Errorf("metrics file type = %q", metrics.FileType)
	}
	if metrics.Buckets.Completed != 1 {
		t.Errorf("metrics completed bucket = %d, want 1", metrics.Buckets.Completed)
	}
	if metrics.DaemonHeartbeat == nil {
		t.Error("metrics heartbeat missing")
	}
	if metrics.Counters.MasteryEvents < 2 {
		t.Errorf("mastery events = %d, want >= 2", metrics.Counters.MasteryEvents)
	}

	// Mastery grants were appended to the progress ledger.
	f, err := os.Open(filepath.Join(home, "logs", "progress.jsonl"))
	if err != nil {
		t.Fatalf("open progress ledger: %v", err)
	}
	defer f.Close()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry struct {
			LinkedID string  `json:"linked_id"`
			Amount   float64 `json:"amount"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("parse ledger line: %v", err)
		}
		if entry.LinkedID != "strength" || entry.Amount != 1.5 {
			t.Errorf("ledger entry = %+v, want strength/1.5", entry)
		}
		lines++
	}
	if lines < 2 {
		t.Errorf("ledger lines = %d, want >= 2", lines)
	}
}

func TestDaemon_ExternalEditRepaired(t *testing.T) {
	home, err := os.MkdirTemp("/tmp", "missiond-watch-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(home)

	cfg := testConfig()
	cfg.Watchdog.WatchDebounceSec = 0.1

	d := newDaemon(home, cfg, io.Discard, nil)
	client, runDone := startDaemon(t, d)
	defer func() {
		send(t, client, "shutdown", nil)
		<-runDone
	}()

	// Let the startup writes age past the self-write window, then damage
	// the store from outside the daemon.
	time.Sleep(selfWriteWindow + 200*time.Millisecond)

	damaged := model.MissionSet{
		SchemaVersion: 1,
		FileType:      model.FileTypeMissions,
		Missions: []model.Mission{{
			ID:             "mission_0000000001_aaaaaaaa",
			NotificationID: 7,
			Title:          "",
			Type:           model.MissionTypeSimple,
			CurrentCount:   -4,
			CreatedAt:      time.Now().UTC(),
			UpdatedAt:      time.Now().UTC(),
		}},
	}
	raw, err := yamlv3.Marshal(damaged)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, "store", "missions.yaml"), raw, 0644); err != nil {
		t.Fatalf("external write: %v", err)
	}

	// The watcher should reload and the watchdog repair both violations.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := send(t, client, "mission_list", nil)
		if resp.Success {
			var payload struct {
				Missions []model.Mission `json:"missions"`
			}
			if err := json.Unmarshal(resp.Data, &payload); err != nil {
				t.Fatalf("unmarshal list: %v", err)
			}
			if len(payload.Missions) == 1 &&
				payload.Missions[0].Title == "Untitled Mission" &&
				payload.Missions[0].CurrentCount == 0 {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("external edit never repaired")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
