package model

type MissionType string

const (
	MissionTypeDaily      MissionType = "daily"
	MissionTypeWeekly     MissionType = "weekly"
	MissionTypeSimple     MissionType = "simple"
	MissionTypePersistent MissionType = "persistent"
)

var validMissionTypes = map[MissionType]bool{
	MissionTypeDaily:      true,
	MissionTypeWeekly:     true,
	MissionTypeSimple:     true,
	MissionTypePersistent: true,
}

func ValidMissionType(t MissionType) bool {
	return validMissionTypes[t]
}

// IsRecurring reports whether missions of this type are cycle-reset by the
// refresh controller. Persistent missions are swept for failure but keep
// their progress; simple missions are one-off.
func (t MissionType) IsRecurring() bool {
	return t == MissionTypeDaily || t == MissionTypeWeekly
}

// Signal colors shown while a lock window approaches or holds.
const (
	SignalGreen = "green"
	SignalAmber = "amber"
	SignalRed   = "red"
)

// LockSignal is the state published every refresh tick: whether edits to
// daily/weekly missions are currently locked, plus a UI color hint.
type LockSignal struct {
	DailyLocked  bool   `yaml:"daily_locked" json:"dailyLocked"`
	WeeklyLocked bool   `yaml:"weekly_locked" json:"weeklyLocked"`
	Color        string `yaml:"color" json:"color"`
}
