// Package storage provides storage implementations for the outbox package.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/durable-outbox/pkg/core"
	"github.com/jdziat/durable-outbox/pkg/security"
)

// jobSequence names the sequence row that hands out job identifiers.
const jobSequence = "outbox_jobs"

// GormStorage implements Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying *gorm.DB.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the storage is backed by SQLite.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector != nil && s.db.Dialector.Name() == "sqlite"
}

// Close releases the underlying connection pool.
func (s *GormStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the necessary tables and seeds the identifier sequence.
// Seeding starts past every identifier already present so a store created
// before the sequence table existed never hands out a duplicate.
func (s *GormStorage) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&core.Job{}, &core.Sequence{}, &core.DeadLetter{}); err != nil {
		return core.NewStorageError("migrate", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var seq core.Sequence
		err := tx.First(&seq, "name = ?", jobSequence).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var maxJob, maxDead int64
		if err := tx.Model(&core.Job{}).Select("COALESCE(MAX(id), 0)").Scan(&maxJob).Error; err != nil {
			return err
		}
		if err := tx.Model(&core.DeadLetter{}).Select("COALESCE(MAX(id), 0)").Scan(&maxDead).Error; err != nil {
			return err
		}
		return tx.Create(&core.Sequence{Name: jobSequence, Value: max(maxJob, maxDead)}).Error
	})
	return core.NewStorageError("migrate", err)
}

// nextID advances the named sequence inside tx and returns the new value.
func nextID(tx *gorm.DB, name string) (int64, error) {
	res := tx.Model(&core.Sequence{}).
		Where("name = ?", name).
		Update("value", gorm.Expr("value + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		// Migrate seeds the row; this only happens on an unmigrated store.
		if err := tx.Create(&core.Sequence{Name: name, Value: 1}).Error; err != nil {
			return 0, err
		}
		return 1, nil
	}

	var seq core.Sequence
	if err := tx.First(&seq, "name = ?", name).Error; err != nil {
		return 0, err
	}
	return seq.Value, nil
}

// Enqueue assigns the next identifier and capture timestamp, then persists
// the job. On success job.ID, job.CreatedAt and job.IdempotencyKey are set.
func (s *GormStorage) Enqueue(ctx context.Context, job *core.Job) error {
	if job.Kind != core.KindRPC && job.Kind != core.KindInsert {
		return core.ErrUnknownKind
	}

	row := *job
	row.Attempts = 0
	row.LastError = ""
	row.CreatedAt = time.Now().UTC()
	if row.Version == 0 {
		row.Version = core.SchemaVersion
	}
	if row.IdempotencyKey == "" {
		row.IdempotencyKey = uuid.New().String()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := nextID(tx, jobSequence)
		if err != nil {
			return err
		}
		row.ID = id
		return tx.Create(&row).Error
	})
	if err != nil {
		return core.NewStorageError("enqueue", err)
	}

	*job = row
	return nil
}

// Count returns the number of pending jobs.
func (s *GormStorage) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&core.Job{}).Count(&n).Error
	return n, core.NewStorageError("count", err)
}

// ListInOrder returns a snapshot of every pending job, ascending by ID.
func (s *GormStorage) ListInOrder(ctx context.Context) ([]*core.Job, error) {
	var jobList []*core.Job
	err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&jobList).Error
	if err != nil {
		return nil, core.NewStorageError("list", err)
	}
	return jobList, nil
}

// GetJob retrieves a pending job by ID.
func (s *GormStorage) GetJob(ctx context.Context, id int64) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, core.NewStorageError("get", err)
	}
	return &job, nil
}

// Remove deletes a job. Removing an absent ID is not an error.
func (s *GormStorage) Remove(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&core.Job{}).Error
	return core.NewStorageError("remove", err)
}

// Discard deletes a pending job and reports core.ErrJobNotFound when no row
// matched, for example because a drain pass removed it first.
func (s *GormStorage) Discard(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&core.Job{})
	if res.Error != nil {
		return core.NewStorageError("discard", res.Error)
	}
	if res.RowsAffected == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

// RecordFailure bumps the consecutive failure count of a job and stores the
// sanitized error. It returns the new attempt count.
func (s *GormStorage) RecordFailure(ctx context.Context, id int64, errMsg string) (int, error) {
	var attempts int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&core.Job{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": security.SanitizeErrorMessage(errMsg),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return core.ErrJobNotFound
		}

		var job core.Job
		if err := tx.Select("attempts").First(&job, "id = ?", id).Error; err != nil {
			return err
		}
		attempts = job.Attempts
		return nil
	})
	if errors.Is(err, core.ErrJobNotFound) {
		return 0, err
	}
	if err != nil {
		return 0, core.NewStorageError("record failure", err)
	}
	return attempts, nil
}

// DeadLetter moves a job out of the main queue into the dead-letter table.
func (s *GormStorage) DeadLetter(ctx context.Context, id int64, reason string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.Job
		err := tx.First(&job, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrJobNotFound
		}
		if err != nil {
			return err
		}

		entry := &core.DeadLetter{
			ID:             job.ID,
			Kind:           job.Kind,
			Target:         job.Target,
			Args:           job.Args,
			Version:        job.Version,
			IdempotencyKey: job.IdempotencyKey,
			Attempts:       job.Attempts,
			Reason:         security.SanitizeErrorMessage(reason),
			CreatedAt:      job.CreatedAt,
			FailedAt:       time.Now().UTC(),
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&core.Job{}).Error
	})
	if errors.Is(err, core.ErrJobNotFound) {
		return err
	}
	return core.NewStorageError("dead letter", err)
}

// ListDeadLetters returns dead-lettered jobs, oldest failure first.
func (s *GormStorage) ListDeadLetters(ctx context.Context, limit int) ([]*core.DeadLetter, error) {
	var entries []*core.DeadLetter
	err := s.db.WithContext(ctx).
		Order("failed_at ASC, id ASC").
		Limit(security.ClampLimit(limit, 100)).
		Find(&entries).Error
	if err != nil {
		return nil, core.NewStorageError("list dead letters", err)
	}
	return entries, nil
}

// CountDeadLetters returns the number of dead-lettered jobs.
func (s *GormStorage) CountDeadLetters(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&core.DeadLetter{}).Count(&n).Error
	return n, core.NewStorageError("count dead letters", err)
}

// RequeueDeadLetter puts a dead-lettered job back at the tail of the queue
// under a fresh ID. The idempotency key is kept since the mutation is the same.
func (s *GormStorage) RequeueDeadLetter(ctx context.Context, id int64) (*core.Job, error) {
	var job *core.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry core.DeadLetter
		err := tx.First(&entry, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrNotDeadLetter
		}
		if err != nil {
			return err
		}

		newID, err := nextID(tx, jobSequence)
		if err != nil {
			return err
		}
		job = &core.Job{
			ID:             newID,
			Kind:           entry.Kind,
			Target:         entry.Target,
			Args:           entry.Args,
			Version:        entry.Version,
			IdempotencyKey: entry.IdempotencyKey,
			CreatedAt:      time.Now().UTC(),
		}
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&core.DeadLetter{}).Error
	})
	if errors.Is(err, core.ErrNotDeadLetter) {
		return nil, err
	}
	if err != nil {
		return nil, core.NewStorageError("requeue dead letter", err)
	}
	return job, nil
}

// PurgeDeadLetter permanently deletes a dead-lettered job. Purging an absent
// ID is not an error.
func (s *GormStorage) PurgeDeadLetter(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&core.DeadLetter{}).Error
	return core.NewStorageError("purge dead letter", err)
}
