package store

import "github.com/mizuno/missiond/internal/model"

// Stats is the aggregate mission snapshot behind `missiond status` and the
// notification summary.
type Stats struct {
	Total        int                       `json:"total"`
	Active       int                       `json:"active"`
	Completed    int                       `json:"completed"`
	Failed       int                       `json:"failed"`
	Deleted      int                       `json:"deleted"`
	CounterBased int                       `json:"counterBased"`
	SubtaskCount int                       `json:"subtaskCount"`
	ByType       map[model.MissionType]int `json:"byType"`
	// CompletionRate is a percentage over the non-deleted buckets.
	CompletionRate float64 `json:"completionRate"`
}

func (s *Store) Statistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Total:   len(s.missions),
		Deleted: len(s.deleted),
		ByType:  make(map[model.MissionType]int),
	}
	for i := range s.missions {
		m := &s.missions[i]
		stats.ByType[m.Type]++
		stats.SubtaskCount += len(m.Subtasks)
		if m.IsCounterBased {
			stats.CounterBased++
		}
		if m.IsCompleted {
			stats.Completed++
		} else {
			stats.Active++
		}
		if m.HasFailed {
			stats.Failed++
		}
	}
	if stats.Total > 0 {
		stats.CompletionRate = float64(stats.Completed) / float64(stats.Total) * 100
	}
	return stats
}
