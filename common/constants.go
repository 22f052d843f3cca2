// Package common provides shared constants, types, and utilities
// used across relayhop.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "relayhop"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "relayhop"
)

// File names used by the application.
const (
	ConfigFileName  = "config.yaml"
	HistoryFileName = "history.db"
	LogFileName     = "relayhop.log"
)

// Default timeouts and intervals.
const (
	// DirectoryTimeout is the maximum time to wait for the relay directory fetch.
	DirectoryTimeout = 30 * time.Second
	// ProbeTimeout is the per-candidate reachability check timeout.
	ProbeTimeout = 2 * time.Second
	// ProbeConcurrency is the default number of concurrent reachability checks.
	ProbeConcurrency = 100
	// ReadyTimeout is the maximum time to wait for the tunnel routes to come up.
	ReadyTimeout = 30 * time.Second
	// MonitorInterval is how long the monitoring loop waits for a reload
	// request before looping again.
	MonitorInterval = 5 * time.Minute
	// TerminateGrace is how long to wait after each termination signal
	// before escalating.
	TerminateGrace = 5 * time.Second
	// MeasureTimeout bounds a single throughput measurement.
	MeasureTimeout = 30 * time.Second
	// HealthFloor is the minimum acceptable throughput in bytes per second.
	HealthFloor = 500 * 1024
)
