package store

import "github.com/mizuno/missiond/internal/model"

// Tx exposes the live buckets to a repair transaction. The watchdog runs its
// whole check/repair pass inside one Exclusive call, so everything it sees
// and touches is consistent.
type Tx struct {
	Missions *[]model.Mission
	Deleted  *[]model.Mission
}

// All iterates every mission across both buckets, deleted last. The pointers
// are live; mutating them mutates the store.
func (tx *Tx) All(fn func(m *model.Mission, deleted bool)) {
	for i := range *tx.Missions {
		fn(&(*tx.Missions)[i], false)
	}
	for i := range *tx.Deleted {
		fn(&(*tx.Deleted)[i], true)
	}
}

// Exclusive runs fn with the writer lock held. When fn reports changes the
// buckets are persisted once.
func (s *Store) Exclusive(fn func(tx *Tx) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{Missions: &s.missions, Deleted: &s.deleted}
	if !fn(tx) {
		return nil
	}
	return s.saveLocked()
}

// Snapshot clones both buckets for read-only consumers.
type Snapshot struct {
	Missions []model.Mission
	Deleted  []model.Mission
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Missions: model.CloneMissions(s.missions),
		Deleted:  model.CloneMissions(s.deleted),
	}
}
