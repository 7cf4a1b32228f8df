package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/mizuno/missiond/internal/model"
)

// CreateParams carries the caller-supplied fields for a new mission. The
// store assigns the id, the notification id (unless one is given), and the
// cycle anchor.
type CreateParams struct {
	Title           string
	Description     string
	Type            model.MissionType
	IsCounterBased  bool
	TargetCount     int
	Subtasks        []model.Subtask
	LinkedMasteryID string
	MasteryValue    float64
	NotificationID  *int
}

// EditParams updates a mission in place. Nil fields are left untouched.
type EditParams struct {
	Title           *string
	Description     *string
	TargetCount     *int
	Subtasks        *[]model.Subtask
	LinkedMasteryID *string
	MasteryValue    *float64
}

// Create validates and stores a new mission, persisting immediately.
func (s *Store) Create(p CreateParams) (model.Mission, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	m := model.Mission{
		ID:              model.GenerateMissionID(),
		Title:           strings.TrimSpace(p.Title),
		Description:     p.Description,
		Type:            p.Type,
		IsCounterBased:  p.IsCounterBased,
		TargetCount:     p.TargetCount,
		Subtasks:        append([]model.Subtask(nil), p.Subtasks...),
		LinkedMasteryID: p.LinkedMasteryID,
		MasteryValue:    p.MasteryValue,
		BoltColor:       model.SignalGreen,
		TimelapseColor:  model.SignalGreen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// New missions start with zero progress regardless of input.
	for i := range m.Subtasks {
		m.Subtasks[i].CurrentCompletions = 0
		m.Subtasks[i].CurrentCount = 0
	}

	if p.NotificationID != nil {
		if s.notificationIDInUseLocked(*p.NotificationID) {
			return model.Mission{}, fmt.Errorf("notification id %d already in use", *p.NotificationID)
		}
		m.NotificationID = *p.NotificationID
	} else {
		m.NotificationID = s.nextNotificationIDLocked()
	}

	if err := m.Validate(); err != nil {
		return model.Mission{}, err
	}

	s.missions = append(s.missions, m)
	if err := s.saveLocked(); err != nil {
		s.logger.Warnf("create %s persisted to fallback only: %v", m.ID, err)
	}
	s.logger.Infof("created mission %s type=%s notification_id=%d", m.ID, m.Type, m.NotificationID)
	return m.Clone(), nil
}

// Edit applies the non-nil fields, clamps subtask progress to its
// requirement, validates, and persists. An invalid result leaves the stored
// mission untouched.
func (s *Store) Edit(id string, p EditParams) (model.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Mission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m := s.missions[idx].Clone()
	if p.Title != nil {
		m.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.TargetCount != nil {
		m.TargetCount = *p.TargetCount
	}
	if p.Subtasks != nil {
		m.Subtasks = append([]model.Subtask(nil), (*p.Subtasks)...)
	}
	if p.LinkedMasteryID != nil {
		m.LinkedMasteryID = *p.LinkedMasteryID
	}
	if p.MasteryValue != nil {
		m.MasteryValue = *p.MasteryValue
	}

	// A successful edit never leaves subtask progress past its requirement.
	for i := range m.Subtasks {
		st := &m.Subtasks[i]
		if !st.IsCounterBased && st.RequiredCompletions >= 0 && st.CurrentCompletions > st.RequiredCompletions {
			st.CurrentCompletions = st.RequiredCompletions
		}
	}
	m.UpdatedAt = time.Now()

	if err := m.Validate(); err != nil {
		return model.Mission{}, err
	}

	s.missions[idx] = m
	if err := s.saveLocked(); err != nil {
		s.logger.Warnf("edit %s persisted to fallback only: %v", id, err)
	}
	return m.Clone(), nil
}

// Increment advances a counter mission by n (n >= 1). A bounded counter that
// reaches its target auto-completes; an open-ended counter never does.
// Completed missions ignore further increments.
func (s *Store) Increment(id string, n int) (model.Mission, error) {
	if n < 1 {
		return model.Mission{}, fmt.Errorf("increment must be positive, got %d", n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Mission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m := &s.missions[idx]
	if !m.IsCounterBased {
		return model.Mission{}, fmt.Errorf("mission %s is not counter-based", id)
	}
	if m.IsCompleted {
		return m.Clone(), nil
	}

	now := time.Now()
	m.CurrentCount += n
	m.UpdatedAt = now
	s.publishMastery(m.ID, m.LinkedMasteryID, m.Title, m.MasteryValue*float64(n))

	if m.MeetsTarget() {
		s.completeLocked(m, now)
	} else {
		m.RecordHistory(now, s.loc, s.historyDays)
	}

	if err := s.saveLocked(); err != nil {
		s.logger.Warnf("increment %s persisted to fallback only: %v", id, err)
	}
	return m.Clone(), nil
}

// IncrementSubtask advances one named subtask. Plain subtasks clamp at their
// requirement; counter subtasks count freely. When the last subtask finishes,
// the mission auto-completes.
func (s *Store) IncrementSubtask(id, subtask string, n int) (model.Mission, error) {
	if n < 1 {
		return model.Mission{}, fmt.Errorf("increment must be positive, got %d", n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Mission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m := &s.missions[idx]
	if m.IsCompleted {
		return m.Clone(), nil
	}

	var st *model.Subtask
	for i := range m.Subtasks {
		if m.Subtasks[i].Name == subtask {
			st = &m.Subtasks[i]
			break
		}
	}
	if st == nil {
		return model.Mission{}, fmt.Errorf("%w: %s has no subtask %q", ErrNotFound, id, subtask)
	}

	wasDone := st.Done()
	if st.IsCounterBased {
		st.CurrentCount += n
	} else {
		st.CurrentCompletions += n
		if st.CurrentCompletions > st.RequiredCompletions {
			st.CurrentCompletions = st.RequiredCompletions
		}
	}

	now := time.Now()
	m.UpdatedAt = now
	if !wasDone && st.Done() {
		s.publishMastery(m.ID, st.LinkedMasteryID, st.Name, st.MasteryValue)
	}

	if m.MeetsTarget() {
		s.completeLocked(m, now)
	} else {
		m.RecordHistory(now, s.loc, s.historyDays)
	}

	if err := s.saveLocked(); err != nil {
		s.logger.Warnf("increment subtask on %s persisted to fallback only: %v", id, err)
	}
	return m.Clone(), nil
}

// Complete marks a mission finished. Completing an already-completed mission
// is a no-op. A bounded counter snaps to its target so the completion
// invariant holds.
func (s *Store) Complete(id string) (model.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Mission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m := &s.missions[idx]
	if m.IsCompleted {
		return m.Clone(), nil
	}

	s.completeLocked(m, time.Now())
	if err := s.saveLocked(); err != nil {
		s.logger.Warnf("complete %s persisted to fallback only: %v", id, err)
	}
	return m.Clone(), nil
}

// completeLocked applies the completion transition and publishes its events.
func (s *Store) completeLocked(m *model.Mission, now time.Time) {
	if m.IsCounterBased && m.TargetCount > 0 && m.CurrentCount < m.TargetCount {
		m.CurrentCount = m.TargetCount
	}
	m.IsCompleted = true
	m.HasFailed = false
	t := now
	m.LastCompleted = &t
	m.UpdatedAt = now
	m.RecordHistory(now, s.loc, s.historyDays)

	s.logger.Infof("mission %s completed", m.ID)
	s.publishCompleted(m)
	s.publishMastery(m.ID, m.LinkedMasteryID, m.Title, m.MasteryValue)
}

// Delete moves a mission into the deleted bucket. The mission record is kept
// as-is so its notification id stays reserved until purged.
func (s *Store) Delete(id string) (model.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Mission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m := s.missions[idx]
	s.missions = append(s.missions[:idx], s.missions[idx+1:]...)
	m.UpdatedAt = time.Now()
	s.deleted = append(s.deleted, m)

	if err := s.saveLocked(); err != nil {
		s.logger.Warnf("delete %s persisted to fallback only: %v", id, err)
	}
	s.logger.Infof("deleted mission %s", id)
	return m.Clone(), nil
}

// ApplyResets swaps replacement values into the missions bucket as one
// atomic batch and persists once. A reader sees either none of the batch or
// all of it. Replacements whose id is gone are skipped.
func (s *Store) ApplyResets(replacements []model.Mission) int {
	if len(replacements) == 0 {
		return 0
	}

	byID := make(map[string]model.Mission, len(replacements))
	for i := range replacements {
		byID[replacements[i].ID] = replacements[i]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for i := range s.missions {
		if r, ok := byID[s.missions[i].ID]; ok {
			s.missions[i] = r
			applied++
		}
	}
	if applied > 0 {
		if err := s.saveLocked(); err != nil {
			s.logger.Warnf("reset batch persisted to fallback only: %v", err)
		}
	}
	return applied
}

// ApplyLockColors refreshes the per-mission color hints from the lock
// signal: recurring missions take the signal color on their timelapse, and
// every active mission's bolt reflects its failure state.
func (s *Store) ApplyLockColors(sig model.LockSignal) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for i := range s.missions {
		m := &s.missions[i]
		if m.IsCompleted {
			continue
		}

		bolt := model.SignalGreen
		if m.HasFailed {
			bolt = model.SignalRed
		}
		timelapse := m.TimelapseColor
		if m.Type.IsRecurring() {
			timelapse = sig.Color
		}

		if m.BoltColor != bolt || m.TimelapseColor != timelapse {
			m.BoltColor = bolt
			m.TimelapseColor = timelapse
			changed++
		}
	}
	if changed > 0 {
		if err := s.saveLocked(); err != nil {
			s.logger.Warnf("color update persisted to fallback only: %v", err)
		}
	}
	return changed
}

func (s *Store) indexLocked(id string) int {
	for i := range s.missions {
		if s.missions[i].ID == id {
			return i
		}
	}
	return -1
}
