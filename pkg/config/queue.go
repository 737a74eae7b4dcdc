package config

// QueueConfig configures the durable task queue's SQLite-backed store
// and its stale-lease/cleanup horizons.
type QueueConfig struct {
	// Path is the SQLite database file path, created if absent.
	Path string `yaml:"path"`

	// StaleLeaseSeconds is how long a claimed task may sit in PROCESSING
	// without completion before RecoverStaleLeases reclaims it. Defaults
	// to 10x the orchestrator poll interval per SPEC_FULL.md §3 item 3
	// when left at zero.
	StaleLeaseSeconds int `yaml:"stale_lease_seconds"`

	// CleanupAgeHours is how old a terminal-state task must be before
	// Cleanup deletes it.
	CleanupAgeHours int `yaml:"cleanup_age_hours"`
}
