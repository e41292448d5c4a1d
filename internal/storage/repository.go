package storage

import (
	"context"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
)

// DeadLetterRepo defines dead letter storage operations
type DeadLetterRepo interface {
	Create(ctx context.Context, letter *model.DeadLetter) error
	FindByID(ctx context.Context, id string) (*model.DeadLetter, error)
	// Update applies mutate under optimistic concurrency: the row must still be
	// at expectedVersion, and the persisted version becomes expectedVersion+1.
	Update(ctx context.Context, id string, expectedVersion int, mutate func(*model.DeadLetter) error) (*model.DeadLetter, error)
	FindByStatus(ctx context.Context, status string, limit int) ([]model.DeadLetter, error)
	Delete(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

// SubscriptionRepo defines topic-to-endpoint routing lookups
type SubscriptionRepo interface {
	FindEndpointsByTopicPath(ctx context.Context, topicPath string) ([]string, error)
	Upsert(ctx context.Context, sub *model.Subscription) error
	Close(ctx context.Context) error
}

// UserRepo defines caller identity and permission lookups
type UserRepo interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindEmailsWithPermission(ctx context.Context, permissionID string) ([]string, error)
	Close(ctx context.Context) error
}
