package blob

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/mizuno/missiond/internal/lock"
	"github.com/mizuno/missiond/internal/logging"
)

// BackupSuffix names the fallback key tried when a primary key write fails.
const BackupSuffix = "_backup"

// Store maps string keys to YAML documents, one file per key under
// <home>/store/. Writes are atomic with .bak retention; reads of corrupt
// files go through quarantine and recovery.
type Store struct {
	home     string
	dir      string
	maxBytes int
	locks    *lock.MutexMap
	logger   *logging.Logger
	onWrite  func(key string)
}

func NewStore(home string, maxBytes int) *Store {
	return &Store{
		home:     home,
		dir:      filepath.Join(home, "store"),
		maxBytes: maxBytes,
		locks:    lock.NewMutexMap(),
	}
}

// Dir returns the directory holding key files. The engine's file watcher
// points here.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing a key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+".yaml")
}

func BackupKey(key string) string {
	return key + BackupSuffix
}

// SetLogger attaches a logger for recovery events. Without one the store
// stays silent; errors still reach callers.
func (s *Store) SetLogger(l *logging.Logger) {
	s.logger = l.WithComponent("blob")
}

// SetWriteHook registers fn to run after each successful Write. The engine
// uses it to tell its own writes apart from external edits to the watched
// store directory. Set it before the store is shared across goroutines.
func (s *Store) SetWriteHook(fn func(key string)) {
	s.onWrite = fn
}

// Write marshals doc and atomically replaces the key's file.
func (s *Store) Write(key string, doc any) error {
	content, err := yamlv3.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal key %s: %w", key, err)
	}
	if s.maxBytes > 0 && len(content) > s.maxBytes {
		return fmt.Errorf("key %s: document is %d bytes, limit %d", key, len(content), s.maxBytes)
	}
	err = s.locks.WithLock(key, func() error {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
		return AtomicWriteRaw(s.Path(key), content)
	})
	if err == nil && s.onWrite != nil {
		s.onWrite(key)
	}
	return err
}

// Read unmarshals the key's file into out. A missing key surfaces as
// os.ErrNotExist so callers can treat absence as empty.
func (s *Store) Read(key string, out any) error {
	var content []byte
	err := s.locks.WithLock(key, func() error {
		var rerr error
		content, rerr = os.ReadFile(s.Path(key))
		return rerr
	})
	if err != nil {
		return fmt.Errorf("read key %s: %w", key, err)
	}
	if err := yamlv3.Unmarshal(content, out); err != nil {
		return fmt.Errorf("parse key %s: %w", key, err)
	}
	return nil
}

// ReadValidated reads a key whose document carries a schema header. A missing
// file is replaced by an empty skeleton. A corrupt or mistyped file is
// quarantined, then recovery is attempted in order: the .bak copy, the backup
// key, finally a fresh skeleton.
func (s *Store) ReadValidated(key, fileType string, out any) error {
	path := s.Path(key)

	var content []byte
	err := s.locks.WithLock(key, func() error {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := GenerateSkeleton(path, fileType); err != nil {
				return err
			}
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read key %s: %w", key, err)
		}

		if verr := ValidateHeader(raw, fileType); verr != nil {
			raw, err = s.recoverKey(key, fileType, verr)
			if err != nil {
				return err
			}
		}

		content = raw
		return nil
	})
	if err != nil {
		return err
	}

	if err := yamlv3.Unmarshal(content, out); err != nil {
		return fmt.Errorf("parse key %s: %w", key, err)
	}
	return nil
}

// recoverKey runs the recovery ladder for a corrupt key file and returns the
// recovered content. Caller holds the key lock.
func (s *Store) recoverKey(key, fileType string, cause error) ([]byte, error) {
	path := s.Path(key)

	dest, err := Quarantine(s.home, path)
	if err != nil {
		return nil, fmt.Errorf("quarantine key %s (corrupt: %v): %w", key, cause, err)
	}
	s.logger.Warnf("key %s corrupt (%v), quarantined to %s", key, cause, dest)

	// Ladder step 1: the .bak sibling from the last atomic write.
	if err := RestoreFromBackup(path); err == nil {
		if raw, rerr := os.ReadFile(path); rerr == nil {
			if ValidateHeader(raw, fileType) == nil {
				s.logger.Infof("key %s restored from .bak", key)
				return raw, nil
			}
		}
	}

	// Ladder step 2: the backup key written after a failed primary save.
	if raw, err := os.ReadFile(s.Path(BackupKey(key))); err == nil {
		if ValidateHeader(raw, fileType) == nil {
			if err := os.WriteFile(path, raw, 0644); err == nil {
				s.logger.Infof("key %s restored from backup key %s", key, BackupKey(key))
				return raw, nil
			}
		}
	}

	// Ladder step 3: start empty.
	if err := GenerateSkeleton(path, fileType); err != nil {
		return nil, fmt.Errorf("skeleton for key %s: %w", key, err)
	}
	s.logger.Warnf("key %s regenerated empty, previous content kept in quarantine", key)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regenerated key %s: %w", key, err)
	}
	return raw, nil
}
