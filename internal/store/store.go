// Package store implements the mission store: the three mission buckets
// behind a single writer lock, persisted to the blob store on every
// mutation. All read-modify-write steps are single methods here so no caller
// can observe or produce a half-applied change.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mizuno/missiond/internal/blob"
	"github.com/mizuno/missiond/internal/events"
	"github.com/mizuno/missiond/internal/logging"
	"github.com/mizuno/missiond/internal/model"
)

// ErrNotFound is returned for operations addressing a mission id that is not
// in the targeted bucket.
var ErrNotFound = errors.New("mission not found")

const (
	KeyMissions        = "missions"
	KeyDeletedMissions = "deleted_missions"
)

// Store holds active and completed missions in one bucket (the missions
// persistence key) and deleted missions in another. Reads hand out clones.
type Store struct {
	mu sync.RWMutex

	blobs  *blob.Store
	bus    *events.Bus
	logger *logging.Logger
	loc    *time.Location

	historyDays int

	missions []model.Mission // active and completed
	deleted  []model.Mission

	saves        int
	saveFailures int
}

func New(blobs *blob.Store, bus *events.Bus, logger *logging.Logger, loc *time.Location, historyDays int) *Store {
	if loc == nil {
		loc = time.Local
	}
	if historyDays <= 0 {
		historyDays = 30
	}
	return &Store{
		blobs:       blobs,
		bus:         bus,
		logger:      logger,
		loc:         loc,
		historyDays: historyDays,
	}
}

// Load reads both persistence keys into memory. Missing or corrupt keys come
// back empty after blob-level recovery, so a fresh or damaged home directory
// still yields a working store.
func (s *Store) Load() error {
	var missionsDoc, deletedDoc model.MissionSet
	if err := s.blobs.ReadValidated(KeyMissions, model.FileTypeMissions, &missionsDoc); err != nil {
		return fmt.Errorf("load missions: %w", err)
	}
	if err := s.blobs.ReadValidated(KeyDeletedMissions, model.FileTypeDeletedMissions, &deletedDoc); err != nil {
		return fmt.Errorf("load deleted missions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions = missionsDoc.Missions
	s.deleted = deletedDoc.Missions
	s.logger.Infof("loaded %d missions, %d deleted", len(s.missions), len(s.deleted))
	return nil
}

// Save persists both buckets now. Mutating methods already persist on every
// change; this exists for shutdown flushes and repair passes.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes both keys. A failed primary write falls back to the
// key's backup sibling; a failure of that too is logged and swallowed,
// because persistence here is explicitly best-effort.
func (s *Store) saveLocked() error {
	type doc struct {
		key string
		set model.MissionSet
	}
	docs := []doc{
		{KeyMissions, model.MissionSet{SchemaVersion: blob.CurrentSchemaVersion, FileType: model.FileTypeMissions, Missions: s.missions}},
		{KeyDeletedMissions, model.MissionSet{SchemaVersion: blob.CurrentSchemaVersion, FileType: model.FileTypeDeletedMissions, Missions: s.deleted}},
	}

	var firstErr error
	for _, d := range docs {
		err := s.blobs.Write(d.key, d.set)
		if err == nil {
			s.saves++
			continue
		}
		s.saveFailures++
		s.logger.Errorf("save key %s failed: %v", d.key, err)
		if firstErr == nil {
			firstErr = err
		}

		backup := blob.BackupKey(d.key)
		if berr := s.blobs.Write(backup, d.set); berr != nil {
			s.logger.Errorf("backup save key %s failed: %v", backup, berr)
		} else {
			s.logger.Warnf("saved key %s to backup key %s", d.key, backup)
		}
	}
	return firstErr
}

// Get returns a clone of a mission from the active/completed bucket.
func (s *Store) Get(id string) (model.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.missions {
		if s.missions[i].ID == id {
			return s.missions[i].Clone(), nil
		}
	}
	return model.Mission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ListAll returns clones of the active/completed bucket.
func (s *Store) ListAll() []model.Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CloneMissions(s.missions)
}

// ListActive returns clones of missions not yet completed.
func (s *Store) ListActive() []model.Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Mission
	for i := range s.missions {
		if !s.missions[i].IsCompleted {
			out = append(out, s.missions[i].Clone())
		}
	}
	return out
}

// ListCompleted returns clones of completed missions.
func (s *Store) ListCompleted() []model.Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Mission
	for i := range s.missions {
		if s.missions[i].IsCompleted {
			out = append(out, s.missions[i].Clone())
		}
	}
	return out
}

// ListDeleted returns clones of the deleted bucket.
func (s *Store) ListDeleted() []model.Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CloneMissions(s.deleted)
}

// Counts reports bucket sizes for the metrics heartbeat.
func (s *Store) Counts() model.BucketDepth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	depth := model.BucketDepth{Deleted: len(s.deleted)}
	for i := range s.missions {
		if s.missions[i].IsCompleted {
			depth.Completed++
		} else {
			depth.Active++
		}
	}
	return depth
}

// SaveStats reports how many bucket persists succeeded and failed.
func (s *Store) SaveStats() (saves, failures int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves, s.saveFailures
}

// nextNotificationIDLocked allocates the next platform notification id:
// one past the largest id in use across every bucket.
func (s *Store) nextNotificationIDLocked() int {
	next := 1
	for i := range s.missions {
		if s.missions[i].NotificationID >= next {
			next = s.missions[i].NotificationID + 1
		}
	}
	for i := range s.deleted {
		if s.deleted[i].NotificationID >= next {
			next = s.deleted[i].NotificationID + 1
		}
	}
	return next
}

func (s *Store) notificationIDInUseLocked(id int) bool {
	for i := range s.missions {
		if s.missions[i].NotificationID == id {
			return true
		}
	}
	for i := range s.deleted {
		if s.deleted[i].NotificationID == id {
			return true
		}
	}
	return false
}

func (s *Store) publishMastery(missionID, linkedID, label string, amount float64) {
	if s.bus == nil || linkedID == "" || amount <= 0 {
		return
	}
	s.bus.Publish(events.EventMasteryProgress, events.MasteryPayload(missionID, linkedID, label, amount))
}

func (s *Store) publishCompleted(m *model.Mission) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.EventMissionCompleted, map[string]interface{}{
		"mission_id": m.ID,
		"title":      m.Title,
		"type":       string(m.Type),
	})
}
