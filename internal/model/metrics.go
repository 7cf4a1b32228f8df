package model

type Metrics struct {
	SchemaVersion   int             `yaml:"schema_version"`
	FileType        string          `yaml:"file_type"`
	Buckets         BucketDepth     `yaml:"buckets"`
	Counters        MetricsCounters `yaml:"counters"`
	DaemonHeartbeat *string         `yaml:"daemon_heartbeat"`
	UpdatedAt       *string         `yaml:"updated_at"`
}

type BucketDepth struct {
	Active    int `yaml:"active"`
	Completed int `yaml:"completed"`
	Deleted   int `yaml:"deleted"`
}

type MetricsCounters struct {
	Resets                int `yaml:"resets"`
	FailureSweeps         int `yaml:"failure_sweeps"`
	ChecksRun             int `yaml:"checks_run"`
	ViolationsFound       int `yaml:"violations_found"`
	RepairsApplied        int `yaml:"repairs_applied"`
	TasksExecuted         int `yaml:"tasks_executed"`
	TaskRetries           int `yaml:"task_retries"`
	TasksDropped          int `yaml:"tasks_dropped"`
	StoreSaves            int `yaml:"store_saves"`
	StoreSaveFailures     int `yaml:"store_save_failures"`
	NotificationsRendered int `yaml:"notifications_rendered"`
	MasteryEvents         int `yaml:"mastery_events"`
}
