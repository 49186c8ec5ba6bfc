package cachestore

import "time"

// CachedRun is one persisted workflow run, keyed by repository and run
// id. The canonical run record is stored as a JSON payload so the
// schema tracks the model without migrations.
type CachedRun struct {
	ID        uint   `gorm:"primaryKey"`
	Repo      string `gorm:"not null;uniqueIndex:idx_cached_runs_repo_run"`
	RunID     int64  `gorm:"not null;uniqueIndex:idx_cached_runs_repo_run"`
	Payload   string `gorm:"type:text"`
	UpdatedAt time.Time
}

// CollectionStatus is the persisted streaming status for one
// repository: the durable half of the session state machine.
type CollectionStatus struct {
	ID            uint   `gorm:"primaryKey"`
	Repo          string `gorm:"uniqueIndex;not null"`
	IsStreaming   bool
	IsComplete    bool
	Phase         string
	TotalRuns     int
	CollectedRuns int
	Error         string
	UpdatedAt     time.Time
}

// Setting is a single key/value row; used for the current-repository
// pointer.
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// currentRepoKey is the Setting key holding the repository the UI is
// currently pointed at.
const currentRepoKey = "current_repo"

// CacheInfo answers the cache-check query for one repository.
type CacheInfo struct {
	Exists      bool      `json:"exists"`
	LastUpdated time.Time `json:"last_updated"`
	TotalRuns   int       `json:"total_runs"`
}
