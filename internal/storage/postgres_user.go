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

// FindUserByID fetches a caller identity or ErrNotFound.
func (r *PostgresRepo) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	startTime := time.Now()
	var err error
	defer func() {
		observer.ObserveDbOperationDuration("find_by_id", "user", time.Since(startTime), err)
	}()

	var user model.User
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err = retryableOperation(ctx, policy, "find_user_by_id", func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&user)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user %s", apperrors.ErrNotFound, id)
			}
			return checkConstraintViolation(result.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindEmailsWithPermission returns addresses of users granted the given
// permission. Permission sets live in a jsonb column, so the grant check
// happens here after decoding rather than in SQL. Users with undecodable
// permission sets are skipped with a warning instead of failing the batch.
func (r *PostgresRepo) FindEmailsWithPermission(ctx context.Context, permissionID string) ([]string, error) {
	startTime := time.Now()
	var err error
	defer func() {
		observer.ObserveDbOperationDuration("find_by_permission", "user", time.Since(startTime), err)
	}()

	var users []model.User
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err = retryableOperation(ctx, policy, "find_emails_with_permission", func() error {
		if result := r.db.WithContext(ctx).Find(&users); result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	emails := make([]string, 0)
	for _, user := range users {
		set, decodeErr := user.PermissionSet()
		if decodeErr != nil {
			logger.FromContext(ctx).Warn("Skipping user with undecodable permission set",
				zap.String("user_id", user.ID),
				zap.Error(decodeErr),
			)
			continue
		}
		perm, getErr := set.Get(permissionID)
		if getErr != nil {
			continue
		}
		if perm.Granted && user.Email != "" {
			emails = append(emails, user.Email)
		}
	}
	return emails, nil
}
