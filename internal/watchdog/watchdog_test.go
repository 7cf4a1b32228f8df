package watchdog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizuno/missiond/internal/blob"
	"github.com/mizuno/missiond/internal/events"
	"github.com/mizuno/missiond/internal/model"
	"github.com/mizuno/missiond/internal/store"
)

func newFixture(t *testing.T) (*Watchdog, *store.Store, *events.Bus) {
	t.Helper()
	blobs := blob.NewStore(t.TempDir(), 0)
	bus := events.NewBus(100)
	t.Cleanup(bus.Close)
	st := store.New(blobs, bus, nil, time.UTC, 30)
	require.NoError(t, st.Load())
	w := New(st, bus, model.WatchdogConfig{PeriodicIntervalSec: 300}, nil)
	return w, st, bus
}

// seed injects missions directly into the store buckets, bypassing Create's
// validation, which is exactly how damaged data enters real stores.
func seed(t *testing.T, st *store.Store, missions ...model.Mission) {
	t.Helper()
	err := st.Exclusive(func(tx *store.Tx) bool {
		*tx.Missions = append(*tx.Missions, missions...)
		return true
	})
	require.NoError(t, err)
}

func mission(id string, notificationID int, title string) model.Mission {
	now := time.Now()
	return model.Mission{
		ID:             id,
		NotificationID: notificationID,
		Title:          title,
		Type:           model.MissionTypeSimple,
		BoltColor:      model.SignalGreen,
		TimelapseColor: model.SignalGreen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestRunOnce_CleanSetIsNoOp(t *testing.T) {
	w, st, _ := newFixture(t)

	_, err := st.Create(store.CreateParams{Title: "Fine", Type: model.MissionTypeDaily})
	require.NoError(t, err)

	report := w.RunOnce()
	assert.Equal(t, 0, report.Violations)
	assert.Equal(t, 0, report.Repairs)
	assert.Equal(t, StateIdle, w.State())
}

func TestRunOnce_DuplicateNotificationIDs(t *testing.T) {
	w, st, _ := newFixture(t)

	first := mission(model.GenerateMissionID(), 42, "First")
	second := mission(model.GenerateMissionID(), 42, "Second")
	seed(t, st, first, second)

	report := w.RunOnce()
	assert.Equal(t, 1, report.Violations)
	assert.Equal(t, 1, report.Repairs)

	gotFirst, err := st.Get(first.ID)
	require.NoError(t, err)
	gotSecond, err := st.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, gotFirst.NotificationID, "first occupant keeps its id")
	assert.NotEqual(t, 42, gotSecond.NotificationID)
	assert.Greater(t, gotSecond.NotificationID, 42)

	again := w.RunOnce()
	assert.Equal(t, 0, again.Violations, "repair must be idempotent")
}

func TestRunOnce_RepairsEveryBuiltInViolation(t *testing.T) {
	w, st, _ := newFixture(t)

	bad := mission(model.GenerateMissionID(), 1, "")
	bad.IsCompleted = true
	bad.HasFailed = true
	bad.CurrentCount = -3
	bad.LinkedMasteryID = "mastery_focus"
	bad.MasteryValue = 0
	bad.Subtasks = []model.Subtask{
		{Name: "over", RequiredCompletions: 2, CurrentCompletions: 9},
		{Name: "", RequiredCompletions: 1},
	}
	seed(t, st, bad)

	report := w.RunOnce()
	assert.GreaterOrEqual(t, report.Violations, 5)
	assert.GreaterOrEqual(t, report.Repairs, 5)

	got, err := st.Get(bad.ID)
	require.NoError(t, err)
	assert.NoError(t, got.Validate(), "repaired mission must pass validation")
	assert.Equal(t, "Untitled Mission", got.Title)
	assert.False(t, got.HasFailed)
	assert.Equal(t, 0, got.CurrentCount)
	assert.InDelta(t, 1.0, got.MasteryValue, 1e-9)
	require.Len(t, got.Subtasks, 1, "unnamed subtask dropped")
	assert.Equal(t, 2, got.Subtasks[0].CurrentCompletions, "overflow clamped")

	again := w.RunOnce()
	assert.Equal(t, 0, again.Violations)
}

func TestRunOnce_DuplicateMissionIDs(t *testing.T) {
	w, st, _ := newFixture(t)

	id := model.GenerateMissionID()
	seed(t, st, mission(id, 1, "A"), mission(id, 2, "B"))

	report := w.RunOnce()
	assert.Equal(t, 1, report.Violations)
	assert.Equal(t, 1, report.Repairs)

	ids := map[string]bool{}
	for _, m := range st.ListAll() {
		assert.False(t, ids[m.ID], "mission id %s still duplicated", m.ID)
		ids[m.ID] = true
		assert.True(t, model.ValidateMissionID(m.ID))
	}
}

func TestRunOnce_PanickingCheckIsIsolated(t *testing.T) {
	w, st, _ := newFixture(t)

	seed(t, st, mission(model.GenerateMissionID(), 7, ""))

	w.RegisterCheck("explosive", 1, func(tx *store.Tx) []string {
		panic("check gone wrong")
	}, func(tx *store.Tx) int { return 0 })

	report := w.RunOnce()
	assert.Equal(t, 1, report.ByCheck["empty_titles"], "later checks still run after a panic")
	assert.Equal(t, StateIdle, w.State())
}

func TestRunOnce_CustomCheckPriorityOrder(t *testing.T) {
	w, st, _ := newFixture(t)
	seed(t, st, mission(model.GenerateMissionID(), 1, "ok"))

	var order []string
	record := func(name string) CheckFunc {
		return func(tx *store.Tx) []string {
			order = append(order, name)
			return nil
		}
	}
	noop := func(tx *store.Tx) int { return 0 }
	w.RegisterCheck("late", 900, record("late"), noop)
	w.RegisterCheck("early", 1, record("early"), noop)

	w.RunOnce()
	require.Len(t, order, 2)
	assert.Equal(t, []string{"early", "late"}, order)
}

func TestRunOnce_RepairsArePersisted(t *testing.T) {
	blobs := blob.NewStore(t.TempDir(), 0)
	st := store.New(blobs, nil, nil, time.UTC, 30)
	require.NoError(t, st.Load())
	w := New(st, nil, model.WatchdogConfig{}, nil)

	seed(t, st, mission(model.GenerateMissionID(), 3, ""))
	report := w.RunOnce()
	require.Greater(t, report.Repairs, 0)

	reloaded := store.New(blobs, nil, nil, time.UTC, 30)
	require.NoError(t, reloaded.Load())
	all := reloaded.ListAll()
	require.Len(t, all, 1)
	assert.Equal(t, "Untitled Mission", all[0].Title)
}

func TestRunOnce_PublishesRepairEvent(t *testing.T) {
	w, st, bus := newFixture(t)

	var repairsSeen int32
	bus.Subscribe(events.EventRepairApplied, func(e events.Event) {
		atomic.AddInt32(&repairsSeen, 1)
	})

	seed(t, st, mission(model.GenerateMissionID(), 5, ""))
	w.RunOnce()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&repairsSeen))
}

func TestStartStopPeriodic(t *testing.T) {
	w, _, _ := newFixture(t)
	w.interval = 30 * time.Millisecond

	w.StartPeriodic()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Stats().Passes > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	w.StopPeriodic()

	assert.Greater(t, w.Stats().Passes, 0, "periodic loop never ran")
	assert.Equal(t, "idle", w.Stats().State)
}
