package storage

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/observer"
)

// FindEndpointsByTopicPath resolves the push endpoints currently subscribed to
// a topic, in stable position order. The result is what gets snapshotted into
// a new dead letter record. An unknown topic yields an empty slice, not an
// error; records without endpoints are still captured.
func (r *PostgresRepo) FindEndpointsByTopicPath(ctx context.Context, topicPath string) ([]string, error) {
	startTime := time.Now()
	var err error
	defer func() {
		observer.ObserveDbOperationDuration("find_endpoints", "subscription", time.Since(startTime), err)
	}()

	var subscriptions []model.Subscription
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err = retryableOperation(ctx, policy, "find_endpoints_by_topic_path", func() error {
		result := r.db.WithContext(ctx).
			Where("topic_path = ?", topicPath).
			Order("position ASC, id ASC").
			Find(&subscriptions)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	endpoints := make([]string, 0, len(subscriptions))
	for _, sub := range subscriptions {
		if sub.Endpoint != "" {
			endpoints = append(endpoints, sub.Endpoint)
		}
	}
	return endpoints, nil
}

// UpsertSubscription creates or replaces a subscription row. Used by
// administrative tooling and tests to manage topic routing.
func (r *PostgresRepo) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	startTime := time.Now()
	var err error
	defer func() {
		observer.ObserveDbOperationDuration("upsert", "subscription", time.Since(startTime), err)
	}()

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err = retryableOperation(ctx, policy, "upsert_subscription", func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(sub)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	})
	return err
}
