// Package cachestore persists collected runs and collection status to
// a host database, so a dashboard can rehydrate from cache without
// re-streaming a repository's history.
package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/actionsdash/actionsdash/pkg/config"
	"github.com/actionsdash/actionsdash/pkg/model"
)

// Store provides persistence for collected runs and per-repository
// collection status.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	SaveRuns(ctx context.Context, repo string, runs []model.Run) error
	LoadRuns(ctx context.Context, repo string) ([]model.Run, error)
	CountRuns(ctx context.Context, repo string) (int, error)

	UpsertStatus(ctx context.Context, status *CollectionStatus) error
	GetStatus(ctx context.Context, repo string) (*CollectionStatus, error)

	SetCurrentRepo(ctx context.Context, repo string) error
	GetCurrentRepo(ctx context.Context) (string, error)

	CheckCache(ctx context.Context, repo string) (CacheInfo, error)
	Clear(ctx context.Context, repo string) error
	ClearAll(ctx context.Context) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new cache Store backed by the configured database
// driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "cachestore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening cache database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&CachedRun{},
		&CollectionStatus{},
		&Setting{},
	); err != nil {
		return fmt.Errorf("running cache migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Cache database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// SaveRuns upserts a batch of runs for a repository in a single
// transaction. For each run it deletes-then-creates to avoid the
// overhead of individual FirstOrCreate round-trips.
func (s *store) SaveRuns(
	ctx context.Context, repo string, runs []model.Run,
) error {
	if len(runs) == 0 {
		return nil
	}

	rows := make([]CachedRun, 0, len(runs))
	ids := make([]int64, 0, len(runs))

	now := time.Now().UTC()

	for _, run := range runs {
		payload, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshaling run %d: %w", run.ID, err)
		}

		rows = append(rows, CachedRun{
			Repo:      repo,
			RunID:     run.ID,
			Payload:   string(payload),
			UpdatedAt: now,
		})
		ids = append(ids, run.ID)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("repo = ? AND run_id IN ?", repo, ids).
			Delete(&CachedRun{}).Error; err != nil {
			return fmt.Errorf("replacing cached runs: %w", err)
		}

		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("inserting cached runs: %w", err)
		}

		return nil
	})
}

// LoadRuns returns all cached runs for a repository, in insertion
// order. Rows whose payload no longer unmarshals are skipped.
func (s *store) LoadRuns(
	ctx context.Context, repo string,
) ([]model.Run, error) {
	var rows []CachedRun
	if err := s.db.WithContext(ctx).
		Where("repo = ?", repo).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading cached runs: %w", err)
	}

	runs := make([]model.Run, 0, len(rows))

	for _, row := range rows {
		var run model.Run
		if err := json.Unmarshal([]byte(row.Payload), &run); err != nil {
			s.log.WithError(err).WithField("run_id", row.RunID).
				Warn("Skipping corrupt cached run")

			continue
		}

		runs = append(runs, run)
	}

	return runs, nil
}

// CountRuns returns the number of cached runs for a repository.
func (s *store) CountRuns(
	ctx context.Context, repo string,
) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&CachedRun{}).
		Where("repo = ?", repo).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting cached runs: %w", err)
	}

	return int(count), nil
}

// UpsertStatus inserts or updates the collection status row for a
// repository.
func (s *store) UpsertStatus(
	ctx context.Context, status *CollectionStatus,
) error {
	status.UpdatedAt = time.Now().UTC()

	result := s.db.WithContext(ctx).
		Where("repo = ?", status.Repo).
		Assign(map[string]any{
			"is_streaming":   status.IsStreaming,
			"is_complete":    status.IsComplete,
			"phase":          status.Phase,
			"total_runs":     status.TotalRuns,
			"collected_runs": status.CollectedRuns,
			"error":          status.Error,
			"updated_at":     status.UpdatedAt,
		}).
		FirstOrCreate(status)
	if result.Error != nil {
		return fmt.Errorf("upserting collection status: %w", result.Error)
	}

	return nil
}

// GetStatus returns the collection status for a repository, or nil
// when none has been recorded.
func (s *store) GetStatus(
	ctx context.Context, repo string,
) (*CollectionStatus, error) {
	var status CollectionStatus

	err := s.db.WithContext(ctx).
		Where("repo = ?", repo).
		First(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("getting collection status: %w", err)
	}

	return &status, nil
}

// SetCurrentRepo records the repository the UI is pointed at.
func (s *store) SetCurrentRepo(ctx context.Context, repo string) error {
	setting := Setting{Key: currentRepoKey, Value: repo}

	result := s.db.WithContext(ctx).
		Where("key = ?", currentRepoKey).
		Assign(Setting{Value: repo}).
		FirstOrCreate(&setting)
	if result.Error != nil {
		return fmt.Errorf("setting current repo: %w", result.Error)
	}

	return nil
}

// GetCurrentRepo returns the recorded current repository, or an empty
// string when none is set.
func (s *store) GetCurrentRepo(ctx context.Context) (string, error) {
	var setting Setting

	err := s.db.WithContext(ctx).
		Where("key = ?", currentRepoKey).
		First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("getting current repo: %w", err)
	}

	return setting.Value, nil
}

// CheckCache answers whether a repository has usable cached data.
func (s *store) CheckCache(
	ctx context.Context, repo string,
) (CacheInfo, error) {
	count, err := s.CountRuns(ctx, repo)
	if err != nil {
		return CacheInfo{}, err
	}

	if count == 0 {
		return CacheInfo{}, nil
	}

	info := CacheInfo{Exists: true, TotalRuns: count}

	status, err := s.GetStatus(ctx, repo)
	if err != nil {
		return CacheInfo{}, err
	}

	if status != nil {
		info.LastUpdated = status.UpdatedAt
	}

	return info, nil
}

// Clear removes one repository's cached runs and status.
func (s *store) Clear(ctx context.Context, repo string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("repo = ?", repo).
			Delete(&CachedRun{}).Error; err != nil {
			return fmt.Errorf("clearing cached runs: %w", err)
		}

		if err := tx.
			Where("repo = ?", repo).
			Delete(&CollectionStatus{}).Error; err != nil {
			return fmt.Errorf("clearing collection status: %w", err)
		}

		return nil
	})
}

// ClearAll removes every repository's cached data.
func (s *store) ClearAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("1 = 1").
			Delete(&CachedRun{}).Error; err != nil {
			return fmt.Errorf("clearing all cached runs: %w", err)
		}

		if err := tx.
			Where("1 = 1").
			Delete(&CollectionStatus{}).Error; err != nil {
			return fmt.Errorf("clearing all collection statuses: %w", err)
		}

		if err := tx.
			Where("key = ?", currentRepoKey).
			Delete(&Setting{}).Error; err != nil {
			return fmt.Errorf("clearing current repo: %w", err)
		}

		return nil
	})
}
