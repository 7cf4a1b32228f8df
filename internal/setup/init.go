// Package setup initializes a missiond home directory.
package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mizuno/missiond/internal/blob"
	"github.com/mizuno/missiond/internal/model"
)

// DirName is the home directory created under the base directory.
const DirName = ".missiond"

// Run creates <baseDir>/.missiond with the directory tree, a default
// config.yaml, and empty store blobs. It refuses to touch an existing home.
func Run(baseDir string) (string, error) {
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolve base dir: %w", err)
	}

	home := filepath.Join(absDir, DirName)
	if _, err := os.Stat(home); err == nil {
		return "", fmt.Errorf("%s already exists", home)
	}

	dirs := []string{
		"store",
		"logs",
		"locks",
		"quarantine",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(home, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg := model.DefaultConfig()
	cfg.Project.Name = filepath.Base(absDir)
	cfg.Missiond.Home = home
	cfg.Missiond.Created = time.Now().Format(time.RFC3339)
	if err := blob.AtomicWrite(filepath.Join(home, "config.yaml"), cfg); err != nil {
		return "", fmt.Errorf("write config.yaml: %w", err)
	}

	// Empty store blobs, so first reads never hit the recovery path.
	storeDir := filepath.Join(home, "store")
	for _, ft := range []string{model.FileTypeMissions, model.FileTypeDeletedMissions, model.FileTypeMetrics} {
		path := filepath.Join(storeDir, ft+".yaml")
		if err := blob.GenerateSkeleton(path, ft); err != nil {
			return "", err
		}
	}

	// Pre-create the daemon lock file so its permissions are set before
	// the first daemon run.
	if err := os.WriteFile(filepath.Join(home, "locks", "daemon.lock"), nil, 0600); err != nil {
		return "", fmt.Errorf("create daemon.lock: %w", err)
	}

	return home, nil
}
