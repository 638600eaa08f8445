package config

import "time"

// Timeout constants
const (
	// HTTP timeouts
	DefaultHTTPTimeout    = 60 * time.Second
	WorkerShutdownTimeout = 30 * time.Second
	TestTimeout           = 100 * time.Millisecond

	// Database timeouts
	DatabaseConnMaxLifetime = 5 * time.Minute

	// Worker timeouts
	WorkerRunInterval     = 1 * time.Hour
	WorkerTriggerThrottle = 30 * time.Second
	WorkerSleepDuration   = 100 * time.Millisecond

	// Retry timeouts
	StudentRetryBackoffBase = 1 * time.Hour
)

// Engine defaults applied when the config file leaves a knob unset
const (
	DefaultQuestionsPerSubject = 30
	DefaultRecencyWindowDays   = 15
	DefaultWeakMasteryMax      = 30
	DefaultWeakStrengthMax     = 40
	DefaultWeakTopicCap        = 10
	DefaultMinRevisionTopics   = 5
	DefaultLevelOverfetch      = 3
	DefaultBackfillOverfetch   = 2
	DefaultRecentTestWindow    = 5
	DefaultDurationPadding     = 1.1
)

// Cache defaults
const (
	DefaultMasteryCacheTTL = 10 * time.Minute
)
