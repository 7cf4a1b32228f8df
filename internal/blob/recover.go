package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// Quarantine moves a corrupt file into <home>/quarantine, stamped so repeated
// failures never collide. Returns the destination path.
func Quarantine(home, path string) (string, error) {
	qdir := filepath.Join(home, "quarantine")
	if err := os.MkdirAll(qdir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	stamp := time.Now().Format("20060102T150405")
	dest := filepath.Join(qdir, fmt.Sprintf("%s.%s.corrupt", filepath.Base(path), stamp))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dest, nil
}

// RestoreFromBackup puts the .bak sibling back in place of path. The backup
// must itself parse as YAML.
func RestoreFromBackup(path string) error {
	content, err := os.ReadFile(path + ".bak")
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := yamlv3.Unmarshal(content, new(any)); err != nil {
		return fmt.Errorf("backup is also corrupt: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

// GenerateSkeleton writes an empty document of the given file type.
func GenerateSkeleton(path, fileType string) error {
	content, err := yamlv3.Marshal(skeletonFor(fileType))
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}
	return nil
}

func skeletonFor(fileType string) any {
	switch fileType {
	case "missions", "deleted_missions":
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      fileType,
			"missions":       []any{},
		}
	case "metrics":
		return map[string]any{
			"schema_version":   CurrentSchemaVersion,
			"file_type":        "metrics",
			"buckets":          map[string]any{"active": 0, "completed": 0, "deleted": 0},
			"counters":         map[string]any{},
			"daemon_heartbeat": nil,
			"updated_at":       nil,
		}
	default:
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      fileType,
		}
	}
}
