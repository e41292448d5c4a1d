package auth

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/apperrors"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
	storagemock "gitlab.com/timkado/api/daisi-deadletter-service/internal/storage/mock"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/logger"
)

func newTestGate(t *testing.T) (*Gate, *storagemock.UserRepoMock) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	userRepo := new(storagemock.UserRepoMock)
	return NewGate(userRepo), userRepo
}

func TestAuthorize_Granted(t *testing.T) {
	gate, userRepo := newTestGate(t)
	ctx := context.Background()

	user := model.NewFakeUser(model.PermReplayDeadLetter)
	userRepo.On("FindByID", ctx, user.ID).Return(user, nil)

	err := gate.Authorize(ctx, user.ID, model.PermReplayDeadLetter)

	assert.NoError(t, err)
	userRepo.AssertExpectations(t)
}

func TestAuthorize_DeniedCarriesHumanReadableMessage(t *testing.T) {
	gate, userRepo := newTestGate(t)
	ctx := context.Background()

	user := model.NewFakeUser() // no grants
	userRepo.On("FindByID", ctx, user.ID).Return(user, nil)

	err := gate.Authorize(ctx, user.ID, model.PermReplayDeadLetter)

	assert.True(t, apperrors.IsUnauthorizedError(err))
	assert.Contains(t, err.Error(), "You are not authorized to replay dead letters")
	userRepo.AssertExpectations(t)
}

func TestAuthorize_MissingCallerID(t *testing.T) {
	gate, userRepo := newTestGate(t)

	err := gate.Authorize(context.Background(), "", model.PermReplayDeadLetter)

	assert.True(t, apperrors.IsUnauthorizedError(err))
	userRepo.AssertNotCalled(t, "FindByID")
}

func TestAuthorize_UnknownCaller(t *testing.T) {
	gate, userRepo := newTestGate(t)
	ctx := context.Background()

	userRepo.On("FindByID", ctx, "ghost").
		Return(nil, fmt.Errorf("%w: user ghost", apperrors.ErrNotFound))

	err := gate.Authorize(ctx, "ghost", model.PermReplayDeadLetter)

	assert.True(t, apperrors.IsUnauthorizedError(err))
	userRepo.AssertExpectations(t)
}

func TestAuthorize_LookupFailurePropagates(t *testing.T) {
	gate, userRepo := newTestGate(t)
	ctx := context.Background()

	userRepo.On("FindByID", ctx, "user-1").
		Return(nil, fmt.Errorf("%w: connection refused", apperrors.ErrDatabase))

	err := gate.Authorize(ctx, "user-1", model.PermReplayDeadLetter)

	assert.Error(t, err)
	assert.False(t, apperrors.IsUnauthorizedError(err))
	assert.True(t, apperrors.IsDatabaseError(err))
	userRepo.AssertExpectations(t)
}

func TestAuthorize_UndecodablePermissionSetFailsClosed(t *testing.T) {
	gate, userRepo := newTestGate(t)
	ctx := context.Background()

	user := model.NewFakeUser()
	user.Permissions = datatypes.JSON([]byte(`not-json`))
	userRepo.On("FindByID", ctx, user.ID).Return(user, nil)

	err := gate.Authorize(ctx, user.ID, model.PermReplayDeadLetter)

	assert.True(t, apperrors.IsUnauthorizedError(err))
	userRepo.AssertExpectations(t)
}

func TestAuthorize_PermissionAbsentFromSetFailsClosed(t *testing.T) {
	gate, userRepo := newTestGate(t)
	ctx := context.Background()

	user := model.NewFakeUser(model.PermReplayDeadLetter)
	userRepo.On("FindByID", ctx, user.ID).Return(user, nil)

	err := gate.Authorize(ctx, user.ID, "canDoSomethingUnknown")

	assert.True(t, apperrors.IsUnauthorizedError(err))
	userRepo.AssertExpectations(t)
}
