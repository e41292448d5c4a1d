package storage

import (
	"context"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
)

// DeadLetterRepoAdapter adapts the PostgresRepo to the DeadLetterRepo interface
type DeadLetterRepoAdapter struct {
	postgres *PostgresRepo
}

// NewDeadLetterRepoAdapter creates a new dead letter repository adapter
func NewDeadLetterRepoAdapter(postgres *PostgresRepo) DeadLetterRepo {
	return &DeadLetterRepoAdapter{postgres: postgres}
}

// Create inserts a new dead letter record
func (a *DeadLetterRepoAdapter) Create(ctx context.Context, letter *model.DeadLetter) error {
	return a.postgres.CreateDeadLetter(ctx, letter)
}

// FindByID finds a dead letter by ID
func (a *DeadLetterRepoAdapter) FindByID(ctx context.Context, id string) (*model.DeadLetter, error) {
	return a.postgres.FindDeadLetterByID(ctx, id)
}

// Update applies a mutation under optimistic concurrency
func (a *DeadLetterRepoAdapter) Update(ctx context.Context, id string, expectedVersion int, mutate func(*model.DeadLetter) error) (*model.DeadLetter, error) {
	return a.postgres.UpdateDeadLetter(ctx, id, expectedVersion, mutate)
}

// FindByStatus lists dead letters by disposition
func (a *DeadLetterRepoAdapter) FindByStatus(ctx context.Context, status string, limit int) ([]model.DeadLetter, error) {
	return a.postgres.ListDeadLettersByStatus(ctx, status, limit)
}

// Delete removes a dead letter record
func (a *DeadLetterRepoAdapter) Delete(ctx context.Context, id string) error {
	return a.postgres.DeleteDeadLetter(ctx, id)
}

func (a *DeadLetterRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// SubscriptionRepoAdapter adapts the PostgresRepo to the SubscriptionRepo interface
type SubscriptionRepoAdapter struct {
	postgres *PostgresRepo
}

// NewSubscriptionRepoAdapter creates a new subscription repository adapter
func NewSubscriptionRepoAdapter(postgres *PostgresRepo) SubscriptionRepo {
	return &SubscriptionRepoAdapter{postgres: postgres}
}

// FindEndpointsByTopicPath resolves push endpoints for a topic in position order
func (a *SubscriptionRepoAdapter) FindEndpointsByTopicPath(ctx context.Context, topicPath string) ([]string, error) {
	return a.postgres.FindEndpointsByTopicPath(ctx, topicPath)
}

// Upsert creates or replaces a subscription
func (a *SubscriptionRepoAdapter) Upsert(ctx context.Context, sub *model.Subscription) error {
	return a.postgres.UpsertSubscription(ctx, sub)
}

func (a *SubscriptionRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// UserRepoAdapter adapts the PostgresRepo to the UserRepo interface
type UserRepoAdapter struct {
	postgres *PostgresRepo
}

// NewUserRepoAdapter creates a new user repository adapter
func NewUserRepoAdapter(postgres *PostgresRepo) UserRepo {
	return &UserRepoAdapter{postgres: postgres}
}

// FindByID finds a user by ID
func (a *UserRepoAdapter) FindByID(ctx context.Context, id string) (*model.User, error) {
	return a.postgres.FindUserByID(ctx, id)
}

// FindEmailsWithPermission returns addresses of users granted a permission
func (a *UserRepoAdapter) FindEmailsWithPermission(ctx context.Context, permissionID string) ([]string, error) {
	return a.postgres.FindEmailsWithPermission(ctx, permissionID)
}

func (a *UserRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// Ensure adapters implement the interfaces
var _ DeadLetterRepo = (*DeadLetterRepoAdapter)(nil)
var _ SubscriptionRepo = (*SubscriptionRepoAdapter)(nil)
var _ UserRepo = (*UserRepoAdapter)(nil)
