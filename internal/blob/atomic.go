// Package blob implements missiond's key→document persistence: one YAML file
// per key with atomic writes, .bak retention, and corrupt-file recovery.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWrite marshals data and lands it at path via AtomicWriteRaw.
func AtomicWrite(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content)
}

// AtomicWriteRaw lands content at path through a fsynced temp file and a
// same-directory rename. The previous version, when one exists, is kept as
// path+".bak" first. Content that does not parse as YAML is refused so a
// buggy caller can never land an unreadable blob.
func AtomicWriteRaw(path string, content []byte) error {
	if err := yamlv3.Unmarshal(content, new(any)); err != nil {
		return fmt.Errorf("refusing to write invalid yaml: %w", err)
	}

	tmpName, err := writeTemp(filepath.Dir(path), content)
	if err != nil {
		return err
	}
	// No-op after a successful rename.
	defer func() { _ = os.Remove(tmpName) }()

	if err := keepBackup(path); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func writeTemp(dir string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".missiond-tmp-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()

	_, werr := tmp.Write(content)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("write temp file: %w", werr)
	}
	return name, nil
}

// keepBackup copies the current file to path+".bak". Blobs are small, so a
// whole-file read is fine.
func keepBackup(path string) error {
	cur, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read current file for backup: %w", err)
	}
	if err := os.WriteFile(path+".bak", cur, 0644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}
