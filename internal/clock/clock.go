// Package clock implements the pure calendar logic behind mission resets,
// failure sweeps, and edit-lock windows. Functions here take explicit times
// and never touch stored state, so every rule is testable with fixed inputs.
package clock

import (
	"time"

	"github.com/mizuno/missiond/internal/model"
)

const weekLength = 7 * 24 * time.Hour

// NeedsReset reports whether a mission's cycle has rolled over at now.
// Daily missions reset on any calendar-day change relative to their anchor.
// Weekly missions reset once the anchor is a full week old, or early when the
// Sunday-night closing minute arrives.
func NeedsReset(m *model.Mission, now time.Time, loc *time.Location) bool {
	switch m.Type {
	case model.MissionTypeDaily:
		return !sameCalendarDay(m.CreatedAt, now, loc)
	case model.MissionTypeWeekly:
		return weekElapsed(m.CreatedAt, now, loc)
	default:
		return false
	}
}

// NeedsFailureSweep reports whether a persistent mission should have its
// failure flag re-evaluated. Persistent missions keep their progress across
// weeks; only the weekly boundary rule applies.
func NeedsFailureSweep(m *model.Mission, now time.Time, loc *time.Location) bool {
	if m.Type != model.MissionTypePersistent {
		return false
	}
	return weekElapsed(m.CreatedAt, now, loc)
}

// HasUnfinishedProgress reports whether the current cycle's work is not done:
// a counter short of its target (open-ended counters count as unfinished
// until the first increment), any subtask below its requirement, or a plain
// mission not completed.
func HasUnfinishedProgress(m *model.Mission) bool {
	if m.IsCounterBased {
		if m.TargetCount > 0 {
			return m.CurrentCount < m.TargetCount
		}
		return m.CurrentCount < 1
	}
	if len(m.Subtasks) > 0 {
		for i := range m.Subtasks {
			if !m.Subtasks[i].Done() {
				return true
			}
		}
		return false
	}
	return !m.IsCompleted
}

// LockState returns the edit-lock signal for now. The last minute of every
// day locks daily missions; the last minute of Sunday also locks weekly
// missions. The color runs green → amber (23:00) → red (23:59).
func LockState(now time.Time, loc *time.Location) model.LockSignal {
	local := now.In(loc)
	closing := local.Hour() == 23 && local.Minute() == 59

	sig := model.LockSignal{
		DailyLocked:  closing,
		WeeklyLocked: closing && local.Weekday() == time.Sunday,
	}
	switch {
	case closing:
		sig.Color = model.SignalRed
	case local.Hour() == 23:
		sig.Color = model.SignalAmber
	default:
		sig.Color = model.SignalGreen
	}
	return sig
}

// ResetValue builds the replacement for a recurring mission at its cycle
// boundary. The finished cycle's completion fraction is sampled into history,
// then progress is zeroed, the anchor moves to now, and hasFailed records
// whether the cycle ended with work undone.
func ResetValue(m model.Mission, now time.Time, loc *time.Location, historyDays int) model.Mission {
	wasUnfinished := HasUnfinishedProgress(&m)

	out := m.Clone()
	out.RecordHistory(now, loc, historyDays)

	out.CurrentCount = 0
	for i := range out.Subtasks {
		out.Subtasks[i].CurrentCompletions = 0
		out.Subtasks[i].CurrentCount = 0
	}
	out.IsCompleted = false
	out.HasFailed = wasUnfinished
	out.CreatedAt = now
	out.UpdatedAt = now
	return out
}

// SweepValue builds the replacement for a persistent mission at the weekly
// boundary. Progress is kept; only the failure flag and the anchor change.
// A completed mission is never marked failed.
func SweepValue(m model.Mission, now time.Time, loc *time.Location, historyDays int) model.Mission {
	wasUnfinished := HasUnfinishedProgress(&m)

	out := m.Clone()
	out.RecordHistory(now, loc, historyDays)

	if out.IsCompleted {
		out.HasFailed = false
	} else {
		out.HasFailed = wasUnfinished
	}
	out.CreatedAt = now
	out.UpdatedAt = now
	return out
}

func sameCalendarDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// weekElapsed applies the weekly boundary rule: a full week since the anchor,
// or now inside the Sunday closing minute with the anchor set before it.
// The second clause keeps missions created during the closing minute itself
// from resetting immediately.
func weekElapsed(createdAt, now time.Time, loc *time.Location) bool {
	if now.Sub(createdAt) >= weekLength {
		return true
	}
	closing, ok := sundayClosingStart(now, loc)
	if !ok {
		return false
	}
	return createdAt.Before(closing)
}

// sundayClosingStart returns the start of the Sunday 23:59 minute when now is
// inside it.
func sundayClosingStart(now time.Time, loc *time.Location) (time.Time, bool) {
	local := now.In(loc)
	if local.Weekday() != time.Sunday || local.Hour() != 23 || local.Minute() != 59 {
		return time.Time{}, false
	}
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 0, 0, loc), true
}
