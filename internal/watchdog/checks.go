package watchdog

import (
	"fmt"
	"strings"

	"github.com/mizuno/missiond/internal/model"
	"github.com/mizuno/missiond/internal/store"
)

// The built-in checks cover the invariants Mission.Validate enforces on
// single missions plus the cross-mission uniqueness rules the store cannot
// express per-record. Iteration order is missions then deleted, so on a
// duplicate the earliest occupant keeps its id.

func checkNotificationIDs(tx *store.Tx) []string {
	var violations []string
	seen := make(map[int]string)
	tx.All(func(m *model.Mission, _ bool) {
		if m.NotificationID <= 0 {
			violations = append(violations, fmt.Sprintf("mission %s: unassigned notification id %d", m.ID, m.NotificationID))
			return
		}
		if first, ok := seen[m.NotificationID]; ok {
			violations = append(violations, fmt.Sprintf("mission %s: notification id %d already held by %s", m.ID, m.NotificationID, first))
			return
		}
		seen[m.NotificationID] = m.ID
	})
	return violations
}

func repairNotificationIDs(tx *store.Tx) int {
	max := 0
	tx.All(func(m *model.Mission, _ bool) {
		if m.NotificationID > max {
			max = m.NotificationID
		}
	})

	n := 0
	used := make(map[int]bool)
	tx.All(func(m *model.Mission, _ bool) {
		if m.NotificationID > 0 && !used[m.NotificationID] {
			used[m.NotificationID] = true
			return
		}
		// Reissue above the global max so the new id cannot collide with a
		// later first occupant.
		max++
		m.NotificationID = max
		used[max] = true
		n++
	})
	return n
}

func checkMissionIDs(tx *store.Tx) []string {
	var violations []string
	seen := make(map[string]bool)
	tx.All(func(m *model.Mission, _ bool) {
		if m.ID == "" {
			violations = append(violations, fmt.Sprintf("mission %q: empty id", m.Title))
			return
		}
		if seen[m.ID] {
			violations = append(violations, fmt.Sprintf("mission %s: duplicate id", m.ID))
			return
		}
		seen[m.ID] = true
	})
	return violations
}

func repairMissionIDs(tx *store.Tx) int {
	n := 0
	seen := make(map[string]bool)
	tx.All(func(m *model.Mission, _ bool) {
		if m.ID != "" && !seen[m.ID] {
			seen[m.ID] = true
			return
		}
		m.ID = model.GenerateMissionID()
		seen[m.ID] = true
		n++
	})
	return n
}

func checkCompletedFailed(tx *store.Tx) []string {
	var violations []string
	tx.All(func(m *model.Mission, _ bool) {
		if m.IsCompleted && m.HasFailed {
			violations = append(violations, fmt.Sprintf("mission %s: both completed and failed", m.ID))
		}
	})
	return violations
}

func repairCompletedFailed(tx *store.Tx) int {
	n := 0
	tx.All(func(m *model.Mission, _ bool) {
		if m.IsCompleted && m.HasFailed {
			m.HasFailed = false
			n++
		}
	})
	return n
}

func checkEmptyTitles(tx *store.Tx) []string {
	var violations []string
	tx.All(func(m *model.Mission, _ bool) {
		if strings.TrimSpace(m.Title) == "" {
			violations = append(violations, fmt.Sprintf("mission %s: empty title", m.ID))
		}
	})
	return violations
}

func repairEmptyTitles(tx *store.Tx) int {
	n := 0
	tx.All(func(m *model.Mission, _ bool) {
		if strings.TrimSpace(m.Title) == "" {
			m.Title = "Untitled Mission"
			n++
		}
	})
	return n
}

func checkMasteryValues(tx *store.Tx) []string {
	var violations []string
	tx.All(func(m *model.Mission, _ bool) {
		if m.LinkedMasteryID != "" && m.MasteryValue <= 0 {
			violations = append(violations, fmt.Sprintf("mission %s: linked mastery value %v not positive", m.ID, m.MasteryValue))
		}
	})
	return violations
}

func repairMasteryValues(tx *store.Tx) int {
	n := 0
	tx.All(func(m *model.Mission, _ bool) {
		if m.LinkedMasteryID != "" && m.MasteryValue <= 0 {
			m.MasteryValue = 1
			n++
		}
	})
	return n
}

func checkNegativeCounters(tx *store.Tx) []string {
	var violations []string
	tx.All(func(m *model.Mission, _ bool) {
		if m.CurrentCount < 0 || m.TargetCount < 0 {
			violations = append(violations, fmt.Sprintf("mission %s: negative counter (current=%d target=%d)", m.ID, m.CurrentCount, m.TargetCount))
		}
		for i := range m.Subtasks {
			s := &m.Subtasks[i]
			if s.CurrentCompletions < 0 || s.RequiredCompletions < 0 || s.CurrentCount < 0 {
				violations = append(violations, fmt.Sprintf("mission %s: subtask %q negative progress", m.ID, s.Name))
			}
		}
	})
	return violations
}

func repairNegativeCounters(tx *store.Tx) int {
	n := 0
	clamp := func(v *int) bool {
		if *v < 0 {
			*v = 0
			return true
		}
		return false
	}
	tx.All(func(m *model.Mission, _ bool) {
		fixed := clamp(&m.CurrentCount)
		fixed = clamp(&m.TargetCount) || fixed
		for i := range m.Subtasks {
			s := &m.Subtasks[i]
			fixed = clamp(&s.CurrentCompletions) || fixed
			fixed = clamp(&s.RequiredCompletions) || fixed
			fixed = clamp(&s.CurrentCount) || fixed
		}
		if fixed {
			n++
		}
	})
	return n
}

func checkSubtaskBounds(tx *store.Tx) []string {
	var violations []string
	tx.All(func(m *model.Mission, _ bool) {
		for i := range m.Subtasks {
			s := &m.Subtasks[i]
			if s.Name == "" {
				violations = append(violations, fmt.Sprintf("mission %s: subtask %d unnamed", m.ID, i))
				continue
			}
			if !s.IsCounterBased && s.CurrentCompletions > s.RequiredCompletions {
				violations = append(violations, fmt.Sprintf("mission %s: subtask %q progress %d exceeds required %d",
					m.ID, s.Name, s.CurrentCompletions, s.RequiredCompletions))
			}
		}
	})
	return violations
}

func repairSubtaskBounds(tx *store.Tx) int {
	n := 0
	tx.All(func(m *model.Mission, _ bool) {
		kept := m.Subtasks[:0]
		for i := range m.Subtasks {
			s := m.Subtasks[i]
			if s.Name == "" {
				n++
				continue
			}
			if !s.IsCounterBased && s.CurrentCompletions > s.RequiredCompletions {
				s.CurrentCompletions = s.RequiredCompletions
				n++
			}
			kept = append(kept, s)
		}
		m.Subtasks = kept
	})
	return n
}
