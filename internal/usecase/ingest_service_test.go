package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	testifymock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/apperrors"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
	storagemock "gitlab.com/timkado/api/daisi-deadletter-service/internal/storage/mock"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/logger"
)

// recordingNotifier captures announcements for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	letters []*model.DeadLetter
}

func (n *recordingNotifier) NotifyNewDeadLetter(_ context.Context, letter *model.DeadLetter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.letters = append(n.letters, letter)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.letters)
}

func newTestIngestService(t *testing.T) (*IngestService, *storagemock.DeadLetterRepoMock, *storagemock.SubscriptionRepoMock, *recordingNotifier) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	letters := new(storagemock.DeadLetterRepoMock)
	subs := new(storagemock.SubscriptionRepoMock)
	notifier := &recordingNotifier{}
	return NewIngestService(letters, subs, notifier), letters, subs, notifier
}

func testNotification(id string) *model.FailureNotification {
	return &model.FailureNotification{
		MessageID:         id,
		OriginalMessage:   json.RawMessage(`{"orderId":"o-1"}`),
		OriginalTopicPath: "projects/p/topics/orders",
	}
}

func TestCreateDeadLetter_NewRecord(t *testing.T) {
	svc, letters, subs, notifier := newTestIngestService(t)
	ctx := context.Background()
	notification := testNotification("msg-1")

	letters.On("FindByID", ctx, "msg-1").
		Return(nil, fmt.Errorf("%w: dead letter msg-1", apperrors.ErrNotFound)).Once()
	subs.On("FindEndpointsByTopicPath", ctx, notification.OriginalTopicPath).
		Return([]string{"http://a/x", "http://b/y"}, nil).Once()
	letters.On("Create", ctx, testifymock.MatchedBy(func(l *model.DeadLetter) bool {
		return l.ID == "msg-1" && l.Version == 1 && l.Status == model.StatusPending
	})).Return(nil).Once()

	letter, created, err := svc.CreateDeadLetter(ctx, notification)

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "msg-1", letter.ID)

	endpoints, err := letter.EndPointList()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a/x", "http://b/y"}, endpoints)

	assert.Equal(t, 1, notifier.count())
	letters.AssertExpectations(t)
	subs.AssertExpectations(t)
}

func TestCreateDeadLetter_AlreadyExists(t *testing.T) {
	svc, letters, subs, notifier := newTestIngestService(t)
	ctx := context.Background()
	notification := testNotification("msg-1")

	existing := model.NewFakeDeadLetter(&model.DeadLetter{ID: "msg-1", Version: 4, RetryCount: 2})
	letters.On("FindByID", ctx, "msg-1").Return(existing, nil).Once()

	letter, created, err := svc.CreateDeadLetter(ctx, notification)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, existing, letter)
	// No re-resolution, no new record, no announcement.
	assert.Equal(t, 4, letter.Version)
	assert.Equal(t, 2, letter.RetryCount)
	assert.Equal(t, 0, notifier.count())
	subs.AssertNotCalled(t, "FindEndpointsByTopicPath")
	letters.AssertNotCalled(t, "Create")
}

func TestCreateDeadLetter_ResolutionFailureCapturesEmptySnapshot(t *testing.T) {
	svc, letters, subs, _ := newTestIngestService(t)
	ctx := context.Background()
	notification := testNotification("msg-2")

	letters.On("FindByID", ctx, "msg-2").
		Return(nil, fmt.Errorf("%w", apperrors.ErrNotFound)).Once()
	subs.On("FindEndpointsByTopicPath", ctx, notification.OriginalTopicPath).
		Return(nil, fmt.Errorf("%w: lookup failed", apperrors.ErrDatabase)).Once()
	letters.On("Create", ctx, testifymock.Anything).Return(nil).Once()

	letter, created, err := svc.CreateDeadLetter(ctx, notification)

	require.NoError(t, err)
	assert.True(t, created)
	endpoints, err := letter.EndPointList()
	require.NoError(t, err)
	assert.Empty(t, endpoints)
	letters.AssertExpectations(t)
	subs.AssertExpectations(t)
}

func TestCreateDeadLetter_DuplicateRaceFoldsToAlreadyExists(t *testing.T) {
	svc, letters, subs, notifier := newTestIngestService(t)
	ctx := context.Background()
	notification := testNotification("msg-3")

	winner := model.NewFakeDeadLetter(&model.DeadLetter{ID: "msg-3"})

	letters.On("FindByID", ctx, "msg-3").
		Return(nil, fmt.Errorf("%w", apperrors.ErrNotFound)).Once()
	subs.On("FindEndpointsByTopicPath", ctx, notification.OriginalTopicPath).
		Return([]string{"http://a/x"}, nil).Once()
	letters.On("Create", ctx, testifymock.Anything).
		Return(fmt.Errorf("%w: constraint dead_letters_pkey", apperrors.ErrDuplicate)).Once()
	letters.On("FindByID", ctx, "msg-3").Return(winner, nil).Once()

	letter, created, err := svc.CreateDeadLetter(ctx, notification)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, winner, letter)
	assert.Equal(t, 0, notifier.count())
	letters.AssertExpectations(t)
}

func TestCreateDeadLetter_MissingMessageID(t *testing.T) {
	svc, letters, _, _ := newTestIngestService(t)

	_, _, err := svc.CreateDeadLetter(context.Background(), &model.FailureNotification{})

	assert.True(t, apperrors.IsValidationError(err))
	letters.AssertNotCalled(t, "FindByID")
}

func TestListDeadLetters_UnknownStatusRejected(t *testing.T) {
	svc, letters, _, _ := newTestIngestService(t)

	_, err := svc.ListDeadLetters(context.Background(), "sideways", 10)

	assert.True(t, apperrors.IsValidationError(err))
	letters.AssertNotCalled(t, "FindByStatus")
}

func TestListDeadLetters_ByStatus(t *testing.T) {
	svc, letters, _, _ := newTestIngestService(t)
	ctx := context.Background()

	stored := []model.DeadLetter{*model.NewFakeDeadLetter(&model.DeadLetter{Status: model.StatusFailed})}
	letters.On("FindByStatus", ctx, model.StatusFailed, 10).Return(stored, nil).Once()

	result, err := svc.ListDeadLetters(ctx, model.StatusFailed, 10)

	require.NoError(t, err)
	assert.Len(t, result, 1)
	letters.AssertExpectations(t)
}
