package status

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mizuno/missiond/internal/blob"
	"github.com/mizuno/missiond/internal/model"
	"github.com/mizuno/missiond/internal/store"
	"github.com/mizuno/missiond/internal/uds"
)

func seedHome(t *testing.T, home string) {
	t.Helper()
	blobs := blob.NewStore(home, 0)
	st := store.New(blobs, nil, nil, time.UTC, 0)
	if err := st.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	for _, title := range []string{"Stretch", "Read a chapter"} {
		if _, err := st.Create(store.CreateParams{Title: title, Type: model.MissionTypeDaily}); err != nil {
			t.Fatalf("create %q failed: %v", title, err)
		}
	}
	missions := st.ListActive()
	if _, err := st.Complete(missions[0].ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
}

func TestCollect_StoppedDaemon(t *testing.T) {
	home := t.TempDir()
	seedHome(t, home)

	overview, err := Collect(home)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if overview.Daemon.Running {
		t.Error("expected daemon not running")
	}
	m := overview.Missions
	if m.Total != 2 || m.Active != 1 || m.Completed != 1 {
		t.Errorf("stats: got total=%d active=%d completed=%d, want 2/1/1",
			m.Total, m.Active, m.Completed)
	}
	if m.ByType[model.MissionTypeDaily] != 2 {
		t.Errorf("by type daily: got %d, want 2", m.ByType[model.MissionTypeDaily])
	}
}

func TestCollect_EmptyHomeStartsClean(t *testing.T) {
	home := t.TempDir()

	overview, err := Collect(home)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if overview.Missions.Total != 0 || overview.Missions.Deleted != 0 {
		t.Errorf("expected empty stats, got %+v", overview.Missions)
	}
}

func TestCollect_RunningDaemon(t *testing.T) {
	// /tmp keeps the socket path under the sun_path limit.
	home, err := os.MkdirTemp("/tmp", "missiond-status-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(home)

	srv := uds.NewServer(filepath.Join(home, uds.DefaultSocketName), nil)
	srv.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	defer srv.Stop()

	if err := os.MkdirAll(filepath.Join(home, "locks"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, LockFileName), []byte("12345\n"), 0644); err != nil {
		t.Fatal(err)
	}

	overview, err := Collect(home)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if !overview.Daemon.Running {
		t.Fatal("expected daemon running")
	}
	if overview.Daemon.PID != 12345 {
		t.Errorf("pid: got %d, want 12345", overview.Daemon.PID)
	}
}

func TestReadLockPID(t *testing.T) {
	home := t.TempDir()

	if pid := readLockPID(home); pid != 0 {
		t.Errorf("missing lock file: got %d, want 0", pid)
	}

	lockPath := filepath.Join(home, LockFileName)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(lockPath, []byte("not-a-pid"), 0644); err != nil {
		t.Fatal(err)
	}
	if pid := readLockPID(home); pid != 0 {
		t.Errorf("garbage lock file: got %d, want 0", pid)
	}

	if err := os.WriteFile(lockPath, []byte(" 4711 \n"), 0644); err != nil {
		t.Fatal(err)
	}
	if pid := readLockPID(home); pid != 4711 {
		t.Errorf("valid lock file: got %d, want 4711", pid)
	}
}

func TestPrintOverview_DoesNotPanic(t *testing.T) {
	// Verify printing works without panicking for all cases
	o := Overview{
		Daemon: DaemonStatus{Running: false},
	}
	printOverview(o)

	o.Daemon = DaemonStatus{Running: true, PID: 99}
	o.Missions = store.Stats{
		Total:          3,
		Active:         1,
		Completed:      2,
		Failed:         1,
		CompletionRate: 66.7,
		ByType: map[model.MissionType]int{
			model.MissionTypeDaily:  2,
			model.MissionTypeSimple: 1,
		},
	}
	printOverview(o)
}
