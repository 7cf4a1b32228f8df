// Package model defines the data structures for missiond's configuration,
// missions, and persisted state.
package model

import "time"

type Config struct {
	Project  ProjectConfig  `yaml:"project"`
	Missiond MissiondConfig `yaml:"missiond"`
	Store    StoreConfig    `yaml:"store"`
	Queue    QueueConfig    `yaml:"queue"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Clock    ClockConfig    `yaml:"clock"`
	Notify   NotifyConfig   `yaml:"notify"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ProjectConfig struct {
	Name string `yaml:"name"`
}

type MissiondConfig struct {
	Version string `yaml:"version"`
	Created string `yaml:"created"`
	Home    string `yaml:"home"`
}

type StoreConfig struct {
	HistoryDays      int `yaml:"history_days"`
	MaxBlobFileBytes int `yaml:"max_blob_file_bytes"`
}

type QueueConfig struct {
	MaxConcurrent     int `yaml:"max_concurrent"`
	MaxAttempts       int `yaml:"max_attempts"`
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

type RefreshConfig struct {
	TickIntervalSec int `yaml:"tick_interval_sec"`
}

type WatchdogConfig struct {
	PeriodicIntervalSec int     `yaml:"periodic_interval_sec"`
	WatchDebounceSec    float64 `yaml:"watch_debounce_sec"`
}

type ClockConfig struct {
	// Timezone is an IANA zone name ("Asia/Tokyo"). Empty means system local.
	Timezone string `yaml:"timezone"`
}

type NotifyConfig struct {
	Backend string `yaml:"backend"` // desktop | noop
	Summary bool   `yaml:"summary"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Location resolves the configured timezone, falling back to system local
// when unset or unparseable. All calendar math goes through this.
func (c ClockConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DefaultConfig returns the configuration written by `missiond setup`.
func DefaultConfig() Config {
	return Config{
		Missiond: MissiondConfig{
			Version: "1.0",
		},
		Store: StoreConfig{
			HistoryDays:      30,
			MaxBlobFileBytes: 1048576,
		},
		Queue: QueueConfig{
			MaxConcurrent:     3,
			MaxAttempts:       3,
			DefaultTimeoutSec: 30,
		},
		Refresh: RefreshConfig{
			TickIntervalSec: 60,
		},
		Watchdog: WatchdogConfig{
			PeriodicIntervalSec: 300,
			WatchDebounceSec:    2.0,
		},
		Notify: NotifyConfig{
			Backend: "desktop",
			Summary: true,
		},
		Daemon: DaemonConfig{
			ShutdownTimeoutSec: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
