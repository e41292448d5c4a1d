package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/apperrors"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/observer"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/logger"
)

// CreateDeadLetter inserts a new dead letter record. The record must carry an
// explicit version (new records start at 1); a missing version is a programmer
// error surfaced as validation failure. A primary-key collision maps to
// ErrDuplicate so callers can fold the concurrent-ingest race.
func (r *PostgresRepo) CreateDeadLetter(ctx context.Context, letter *model.DeadLetter) error {
	startTime := time.Now()
	var err error
	defer func() {
		observer.ObserveDbOperationDuration("create", "dead_letter", time.Since(startTime), err)
	}()

	if letter == nil {
		err = fmt.Errorf("%w: dead letter is nil", apperrors.ErrValidation)
		return err
	}
	if letter.ID == "" {
		err = fmt.Errorf("%w: dead letter id is required", apperrors.ErrValidation)
		return err
	}
	if letter.Version < 1 {
		err = fmt.Errorf("%w: dead letter version is required", apperrors.ErrValidation)
		return err
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err = retryableOperation(ctx, policy, "create_dead_letter", func() error {
		result := r.db.WithContext(ctx).Create(letter)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Debug("Dead letter created",
		zap.String("id", letter.ID),
		zap.Int("version", letter.Version),
	)
	return nil
}

// FindDeadLetterByID fetches a single record or ErrNotFound.
func (r *PostgresRepo) FindDeadLetterByID(ctx context.Context, id string) (*model.DeadLetter, error) {
	startTime := time.Now()
	var err error
	defer func() {
		observer.ObserveDbOperationDuration("find_by_id", "dead_letter", time.Since(startTime), err)
	}()

	var letter model.DeadLetter
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err = retryableOperation(ctx, policy, "find_dead_letter_by_id", func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&letter)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: dead letter %s", apperrors.ErrNotFound, id)
			}
			return checkConstraintViolation(result.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &letter, nil
}

// UpdateDeadLetter applies mutate to the record identified by id under
// optimistic concurrency. The stored row must still be at expectedVersion when
// read; otherwise the caller's copy is stale and ErrStaleVersion is returned.
// The write itself is conditional on (id, expectedVersion) and bumps the
// version by exactly one. A conditional write matching zero rows after a
// successful pre-read returns ErrNoModification; that means the row changed
// underneath us mid-flight and the state must be re-read, never blind-retried.
func (r *PostgresRepo) UpdateDeadLetter(ctx context.Context, id string, expectedVersion int, mutate func(*model.DeadLetter) error) (*model.DeadLetter, error) {
	startTime := time.Now()
	var err error
	defer func() {
		observer.ObserveDbOperationDuration("update", "dead_letter", time.Since(startTime), err)
	}()

	if expectedVersion < 1 {
		err = fmt.Errorf("%w: expected version is required", apperrors.ErrValidation)
		return nil, err
	}

	var updated model.DeadLetter
	err = r.WithTransaction(ctx, func(tx *gorm.DB) error {
		var current model.DeadLetter
		result := tx.Where("id = ? AND version = ?", id, expectedVersion).First(&current)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				observer.IncStaleVersionConflict()
				return fmt.Errorf("%w: dead letter %s at version %d", apperrors.ErrStaleVersion, id, expectedVersion)
			}
			return checkConstraintViolation(result.Error)
		}

		if mErr := mutate(&current); mErr != nil {
			return mErr
		}

		// The mutator must not tamper with the concurrency token or identity.
		current.ID = id
		current.Version = expectedVersion + 1

		result = tx.Model(&model.DeadLetter{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(map[string]interface{}{
				"version":       current.Version,
				"status":        current.Status,
				"retry_count":   current.RetryCount,
				"error_message": current.ErrorMessage,
				"last_tried_at": current.LastTriedAt,
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			// Pre-read succeeded but the conditional write matched nothing:
			// another writer won the race inside our window.
			return fmt.Errorf("%w: dead letter %s at version %d", apperrors.ErrNoModification, id, expectedVersion)
		}

		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("Dead letter updated",
		zap.String("id", id),
		zap.Int("version", updated.Version),
		zap.String("status", updated.Status),
	)
	return &updated, nil
}

// ListDeadLettersByStatus returns records in the given disposition, newest
// first. An empty status lists everything.
func (r *PostgresRepo) ListDeadLettersByStatus(ctx context.Context, status string, limit int) ([]model.DeadLetter, error) {
	startTime := time.Now()
	var err error
	defer func() {
		observer.ObserveDbOperationDuration("list_by_status", "dead_letter", time.Since(startTime), err)
	}()

	if limit <= 0 {
		limit = 100
	}

	var letters []model.DeadLetter
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err = retryableOperation(ctx, policy, "list_dead_letters_by_status", func() error {
		query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
		if status != "" {
			query = query.Where("status = ?", status)
		}
		if result := query.Find(&letters); result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return letters, nil
}

// DeleteDeadLetter removes a record by id. Administrative use only; replay
// never deletes.
func (r *PostgresRepo) DeleteDeadLetter(ctx context.Context, id string) error {
	startTime := time.Now()
	var err error
	defer func() {
		observer.ObserveDbOperationDuration("delete", "dead_letter", time.Since(startTime), err)
	}()

	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.DeadLetter{})
	if result.Error != nil {
		err = checkConstraintViolation(result.Error)
		return err
	}
	if result.RowsAffected == 0 {
		err = fmt.Errorf("%w: dead letter %s", apperrors.ErrNotFound, id)
		return err
	}
	return nil
}
