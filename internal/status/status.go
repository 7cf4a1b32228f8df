// Package status renders the missiond home for the CLI: whether the daemon
// answers on its socket, and mission statistics read straight from the blob
// store. The store is persisted on every mutation, so the offline numbers
// match the daemon's memory.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mizuno/missiond/internal/blob"
	"github.com/mizuno/missiond/internal/model"
	"github.com/mizuno/missiond/internal/store"
	"github.com/mizuno/missiond/internal/uds"
)

type DaemonStatus struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

type Overview struct {
	Daemon   DaemonStatus `json:"daemon"`
	Missions store.Stats  `json:"missions"`
}

// LockFileName is where the daemon parks its flock'd PID.
const LockFileName = "locks/daemon.lock"

// Run prints the home's status, as JSON when asked.
func Run(home string, jsonOutput bool) error {
	overview, err := Collect(home)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(overview)
	}

	printOverview(overview)
	return nil
}

// Collect gathers the overview without printing.
func Collect(home string) (Overview, error) {
	overview := Overview{
		Daemon: checkDaemon(home),
	}

	blobs := blob.NewStore(home, 0)
	st := store.New(blobs, nil, nil, time.Local, 0)
	if err := st.Load(); err != nil {
		return overview, fmt.Errorf("load mission store: %w", err)
	}
	overview.Missions = st.Statistics()
	return overview, nil
}

func checkDaemon(home string) DaemonStatus {
	client := uds.NewClient(filepath.Join(home, uds.DefaultSocketName))
	client.SetTimeout(2 * time.Second)
	resp, err := client.SendCommand("ping", nil)
	if err != nil || !resp.Success {
		return DaemonStatus{Running: false}
	}
	return DaemonStatus{Running: true, PID: readLockPID(home)}
}

// readLockPID best-effort reads the daemon PID from the lock file.
func readLockPID(home string) int {
	data, err := os.ReadFile(filepath.Join(home, LockFileName))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func printOverview(o Overview) {
	if o.Daemon.Running {
		if o.Daemon.PID > 0 {
			fmt.Printf("Daemon: running (pid %d)\n", o.Daemon.PID)
		} else {
			fmt.Println("Daemon: running")
		}
	} else {
		fmt.Println("Daemon: stopped")
	}

	m := o.Missions
	fmt.Printf("\nMissions: %d total, %d active, %d completed, %d deleted\n",
		m.Total, m.Active, m.Completed, m.Deleted)
	if m.Total > 0 {
		fmt.Printf("Completion rate: %.1f%%\n", m.CompletionRate)
	}
	if m.Failed > 0 {
		fmt.Printf("Failed last cycle: %d\n", m.Failed)
	}

	if len(m.ByType) > 0 {
		fmt.Println("\nBy type:")
		types := make([]string, 0, len(m.ByType))
		for mt := range m.ByType {
			types = append(types, string(mt))
		}
		sort.Strings(types)
		for _, mt := range types {
			fmt.Printf("  %-12s %d\n", mt, m.ByType[model.MissionType(mt)])
		}
	}
}
