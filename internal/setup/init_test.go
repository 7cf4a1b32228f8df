package setup

import (
	"os"
	"path/filepath"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/mizuno/missiond/internal/model"
)

func TestRun_CreatesDirectoryStructure(t *testing.T) {
	dir := t.TempDir()
	baseDir := filepath.Join(dir, "myhome")
	if err := os.Mkdir(baseDir, 0755); err != nil {
		t.Fatalf("create base dir: %v", err)
	}

	home, err := Run(baseDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if home != filepath.Join(baseDir, DirName) {
		t.Errorf("home = %q, want %q", home, filepath.Join(baseDir, DirName))
	}

	for _, d := range []string{"store", "logs", "locks", "quarantine"} {
		info, err := os.Stat(filepath.Join(home, d))
		if err != nil {
			t.Errorf("directory %s does not exist: %v", d, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}

func TestRun_WritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	baseDir := filepath.Join(dir, "myhome")
	os.Mkdir(baseDir, 0755)

	home, err := Run(baseDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	if err != nil {
		t.Fatalf("read config.yaml: %v", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse config.yaml: %v", err)
	}

	if cfg.Project.Name != "myhome" {
		t.Errorf("project name = %q, want myhome", cfg.Project.Name)
	}
	if cfg.Missiond.Home != home {
		t.Errorf("home = %q, want %q", cfg.Missiond.Home, home)
	}
	if cfg.Missiond.Created == "" {
		t.Error("created timestamp is empty")
	}
	if cfg.Queue.MaxConcurrent != 3 {
		t.Errorf("max concurrent = %d, want 3", cfg.Queue.MaxConcurrent)
	}
	if cfg.Refresh.TickIntervalSec != 60 {
		t.Errorf("tick interval = %d, want 60", cfg.Refresh.TickIntervalSec)
	}
}

func TestRun_WritesStoreSkeletons(t *testing.T) {
	dir := t.TempDir()
	baseDir := filepath.Join(dir, "myhome")
	os.Mkdir(baseDir, 0755)

	home, err := Run(baseDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, name := range []string{"missions", "deleted_missions", "metrics"} {
		path := filepath.Join(home, "store", name+".yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("skeleton %s missing: %v", name, err)
			continue
		}
		var header struct {
			SchemaVersion int    `yaml:"schema_version"`
			FileType      string `yaml:"file_type"`
		}
		if err := yamlv3.Unmarshal(data, &header); err != nil {
			t.Errorf("parse skeleton %s: %v", name, err)
			continue
		}
		if header.SchemaVersion != 1 || header.FileType != name {
			t.Errorf("skeleton %s header = %+v", name, header)
		}
	}

	var set model.MissionSet
	data, err := os.ReadFile(filepath.Join(home, "store", "missions.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := yamlv3.Unmarshal(data, &set); err != nil {
		t.Fatalf("parse missions skeleton: %v", err)
	}
	if len(set.Missions) != 0 {
		t.Errorf("expected empty missions, got %d", len(set.Missions))
	}
}

func TestRun_RefusesExistingHome(t *testing.T) {
	dir := t.TempDir()
	baseDir := filepath.Join(dir, "myhome")
	os.Mkdir(baseDir, 0755)

	if _, err := Run(baseDir); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := Run(baseDir); err == nil {
		t.Fatal("second Run should fail on existing home")
	}
}

func TestRun_LockFilePermissions(t *testing.T) {
	dir := t.TempDir()
	baseDir := filepath.Join(dir, "myhome")
	os.Mkdir(baseDir, 0755)

	home, err := Run(baseDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	info, err := os.Stat(filepath.Join(home, "locks", "daemon.lock"))
	if err != nil {
		t.Fatalf("daemon.lock missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("daemon.lock permissions = %o, want 0600", perm)
	}
}
