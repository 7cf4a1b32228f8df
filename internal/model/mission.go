package model

import (
	"fmt"
	"time"
)

// DateLayout is the day key used for history points. Lexicographic order on
// this layout matches chronological order.
const DateLayout = "2006-01-02"

const (
	FileTypeMissions        = "missions"
	FileTypeDeletedMissions = "deleted_missions"
	FileTypeMetrics         = "metrics"
)

// MissionSet is the blob document stored under a persistence key. The
// "missions" key holds active and completed missions together; deleted
// missions live under "deleted_missions".
type MissionSet struct {
	SchemaVersion int       `yaml:"schema_version" json:"schemaVersion"`
	FileType      string    `yaml:"file_type" json:"fileType"`
	Missions      []Mission `yaml:"missions" json:"missions"`
}

type Mission struct {
	ID                      string          `yaml:"id" json:"id"`
	NotificationID          int             `yaml:"notification_id" json:"notificationId"`
	ScheduledNotificationID *int            `yaml:"scheduled_notification_id,omitempty" json:"scheduledNotificationId,omitempty"`
	Title                   string          `yaml:"title" json:"title"`
	Description             string          `yaml:"description,omitempty" json:"description,omitempty"`
	Type                    MissionType     `yaml:"type" json:"type"`
	IsCounterBased          bool            `yaml:"is_counter_based" json:"isCounterBased"`
	CurrentCount            int             `yaml:"current_count" json:"currentCount"`
	TargetCount             int             `yaml:"target_count" json:"targetCount"`
	Subtasks                []Subtask       `yaml:"subtasks,omitempty" json:"subtasks,omitempty"`
	IsCompleted             bool            `yaml:"is_completed" json:"isCompleted"`
	HasFailed               bool            `yaml:"has_failed" json:"hasFailed"`
	LastCompleted           *time.Time      `yaml:"last_completed,omitempty" json:"lastCompleted,omitempty"`
	CreatedAt               time.Time       `yaml:"created_at" json:"createdAt"`
	UpdatedAt               time.Time       `yaml:"updated_at" json:"updatedAt"`
	LinkedMasteryID         string          `yaml:"linked_mastery_id,omitempty" json:"linkedMasteryId,omitempty"`
	MasteryValue            float64         `yaml:"mastery_value,omitempty" json:"masteryValue,omitempty"`
	BoltColor               string          `yaml:"bolt_color,omitempty" json:"boltColor,omitempty"`
	TimelapseColor          string          `yaml:"timelapse_color,omitempty" json:"timelapseColor,omitempty"`
	History                 []ProgressPoint `yaml:"history,omitempty" json:"history,omitempty"`
}

type Subtask struct {
	Name                string  `yaml:"name" json:"name"`
	RequiredCompletions int     `yaml:"required_completions" json:"requiredCompletions"`
	CurrentCompletions  int     `yaml:"current_completions" json:"currentCompletions"`
	IsCounterBased      bool    `yaml:"is_counter_based" json:"isCounterBased"`
	CurrentCount        int     `yaml:"current_count" json:"currentCount"`
	LinkedMasteryID     string  `yaml:"linked_mastery_id,omitempty" json:"linkedMasteryId,omitempty"`
	MasteryValue        float64 `yaml:"mastery_value,omitempty" json:"masteryValue,omitempty"`
}

// ProgressPoint is one completion-fraction sample. Date uses DateLayout; at
// most one point per day is kept.
type ProgressPoint struct {
	Date     string  `yaml:"date" json:"date"`
	Fraction float64 `yaml:"fraction" json:"fraction"`
}

// Done reports whether the subtask has met its requirement. A requirement of
// zero counts as met.
func (s *Subtask) Done() bool {
	if s.RequiredCompletions <= 0 {
		return true
	}
	if s.IsCounterBased {
		return s.CurrentCount >= s.RequiredCompletions
	}
	return s.CurrentCompletions >= s.RequiredCompletions
}

// Fraction reports subtask progress in [0,1].
func (s *Subtask) Fraction() float64 {
	if s.RequiredCompletions <= 0 {
		return 1
	}
	cur := s.CurrentCompletions
	if s.IsCounterBased {
		cur = s.CurrentCount
	}
	f := float64(cur) / float64(s.RequiredCompletions)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// CompletionFraction reports mission progress in [0,1]. Open-ended counters
// (target_count == 0) report 1 once any progress exists; they never
// auto-complete, so the fraction is a display hint only.
func (m *Mission) CompletionFraction() float64 {
	if m.IsCompleted {
		return 1
	}
	if m.IsCounterBased {
		if m.TargetCount <= 0 {
			if m.CurrentCount >= 1 {
				return 1
			}
			return 0
		}
		f := float64(m.CurrentCount) / float64(m.TargetCount)
		if f > 1 {
			return 1
		}
		return f
	}
	if len(m.Subtasks) > 0 {
		var sum float64
		for i := range m.Subtasks {
			sum += m.Subtasks[i].Fraction()
		}
		return sum / float64(len(m.Subtasks))
	}
	return 0
}

// MeetsTarget reports whether automatic completion should fire: a bounded
// counter at or past its target, or all subtasks done. Open-ended counters
// and plain missions complete only by explicit request.
func (m *Mission) MeetsTarget() bool {
	if m.IsCounterBased {
		return m.TargetCount > 0 && m.CurrentCount >= m.TargetCount
	}
	if len(m.Subtasks) > 0 {
		for i := range m.Subtasks {
			if !m.Subtasks[i].Done() {
				return false
			}
		}
		return true
	}
	return false
}

// RecordHistory samples the current completion fraction for now's calendar
// day, replacing an earlier sample from the same day and pruning points older
// than retentionDays.
func (m *Mission) RecordHistory(now time.Time, loc *time.Location, retentionDays int) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	day := now.In(loc).Format(DateLayout)
	point := ProgressPoint{Date: day, Fraction: m.CompletionFraction()}

	replaced := false
	for i := range m.History {
		if m.History[i].Date == day {
			m.History[i] = point
			replaced = true
			break
		}
	}
	if !replaced {
		m.History = append(m.History, point)
	}

	cutoff := now.In(loc).AddDate(0, 0, -retentionDays).Format(DateLayout)
	kept := m.History[:0]
	for _, p := range m.History {
		if p.Date >= cutoff {
			kept = append(kept, p)
		}
	}
	m.History = kept
}

// Clone returns a deep copy. Store reads hand out clones so callers can never
// alias the store's backing slices.
func (m *Mission) Clone() Mission {
	out := *m
	if m.ScheduledNotificationID != nil {
		v := *m.ScheduledNotificationID
		out.ScheduledNotificationID = &v
	}
	if m.LastCompleted != nil {
		v := *m.LastCompleted
		out.LastCompleted = &v
	}
	if m.Subtasks != nil {
		out.Subtasks = append([]Subtask(nil), m.Subtasks...)
	}
	if m.History != nil {
		out.History = append([]ProgressPoint(nil), m.History...)
	}
	return out
}

// CloneMissions deep-copies a mission slice.
func CloneMissions(in []Mission) []Mission {
	if in == nil {
		return nil
	}
	out := make([]Mission, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// Validate checks the structural invariants a stored mission must hold.
// Violations found here are what the watchdog exists to repair.
func (m *Mission) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("mission has empty id")
	}
	if m.Title == "" {
		return fmt.Errorf("mission %s: empty title", m.ID)
	}
	if !ValidMissionType(m.Type) {
		return fmt.Errorf("mission %s: invalid type %q", m.ID, m.Type)
	}
	if m.IsCompleted && m.HasFailed {
		return fmt.Errorf("mission %s: both completed and failed", m.ID)
	}
	if m.CurrentCount < 0 {
		return fmt.Errorf("mission %s: negative current_count %d", m.ID, m.CurrentCount)
	}
	if m.TargetCount < 0 {
		return fmt.Errorf("mission %s: negative target_count %d", m.ID, m.TargetCount)
	}
	if m.LinkedMasteryID != "" && m.MasteryValue <= 0 {
		return fmt.Errorf("mission %s: linked mastery value must be positive, got %v", m.ID, m.MasteryValue)
	}
	for i := range m.Subtasks {
		s := &m.Subtasks[i]
		if s.Name == "" {
			return fmt.Errorf("mission %s: subtask %d has empty name", m.ID, i)
		}
		if s.RequiredCompletions < 0 {
			return fmt.Errorf("mission %s: subtask %q has negative required_completions", m.ID, s.Name)
		}
		if s.CurrentCompletions < 0 || s.CurrentCount < 0 {
			return fmt.Errorf("mission %s: subtask %q has negative progress", m.ID, s.Name)
		}
		if !s.IsCounterBased && s.CurrentCompletions > s.RequiredCompletions {
			return fmt.Errorf("mission %s: subtask %q progress %d exceeds required %d",
				m.ID, s.Name, s.CurrentCompletions, s.RequiredCompletions)
		}
	}
	return nil
}
