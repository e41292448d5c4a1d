package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
)

// --- DeadLetterRepo Mock ---

// DeadLetterRepoMock mocks the DeadLetterRepo interface
type DeadLetterRepoMock struct {
	mock.Mock
}

// Create mocks the Create method
func (m *DeadLetterRepoMock) Create(ctx context.Context, letter *model.DeadLetter) error {
	args := m.Called(ctx, letter)
	return args.Error(0)
}

// FindByID mocks the FindByID method
func (m *DeadLetterRepoMock) FindByID(ctx context.Context, id string) (*model.DeadLetter, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeadLetter), args.Error(1)
}

// Update mocks the optimistic-concurrency Update method. When the expectation
// supplies a *model.DeadLetter result the mutate function is applied to it so
// tests observe the same transition the repository would persist.
func (m *DeadLetterRepoMock) Update(ctx context.Context, id string, expectedVersion int, mutate func(*model.DeadLetter) error) (*model.DeadLetter, error) {
	args := m.Called(ctx, id, expectedVersion, mutate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	letter := args.Get(0).(*model.DeadLetter)
	if mutate != nil {
		if err := mutate(letter); err != nil {
			return nil, err
		}
		letter.Version = expectedVersion + 1
	}
	return letter, args.Error(1)
}

// FindByStatus mocks the FindByStatus method
func (m *DeadLetterRepoMock) FindByStatus(ctx context.Context, status string, limit int) ([]model.DeadLetter, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DeadLetter), args.Error(1)
}

// Delete mocks the Delete method
func (m *DeadLetterRepoMock) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Close mocks the Close method
func (m *DeadLetterRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- SubscriptionRepo Mock ---

// SubscriptionRepoMock mocks the SubscriptionRepo interface
type SubscriptionRepoMock struct {
	mock.Mock
}

// FindEndpointsByTopicPath mocks the FindEndpointsByTopicPath method
func (m *SubscriptionRepoMock) FindEndpointsByTopicPath(ctx context.Context, topicPath string) ([]string, error) {
	args := m.Called(ctx, topicPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Upsert mocks the Upsert method
func (m *SubscriptionRepoMock) Upsert(ctx context.Context, sub *model.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

// Close mocks the Close method
func (m *SubscriptionRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- UserRepo Mock ---

// UserRepoMock mocks the UserRepo interface
type UserRepoMock struct {
	mock.Mock
}

// FindByID mocks the FindByID method
func (m *UserRepoMock) FindByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

// FindEmailsWithPermission mocks the FindEmailsWithPermission method
func (m *UserRepoMock) FindEmailsWithPermission(ctx context.Context, permissionID string) ([]string, error) {
	args := m.Called(ctx, permissionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Close mocks the Close method
func (m *UserRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
