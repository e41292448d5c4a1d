package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/apperrors"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/observer"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/storage"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/logger"
)

// EndpointResolver resolves the push endpoints bound to a topic at ingestion
// time. The resolved list is snapshotted onto the record and never re-resolved.
type EndpointResolver interface {
	FindEndpointsByTopicPath(ctx context.Context, topicPath string) ([]string, error)
}

// Notifier announces newly captured dead letters. Implementations are
// fire-and-forget; failures never propagate into the ingestion result.
type Notifier interface {
	NotifyNewDeadLetter(ctx context.Context, letter *model.DeadLetter)
}

// IngestService captures failure notifications as dead letter records.
// Capture is idempotent on message id: at-least-once redelivery of the same
// notification converges on a single stored record.
type IngestService struct {
	letters  storage.DeadLetterRepo
	resolver EndpointResolver
	notifier Notifier
}

// NewIngestService creates the ingestion gateway. notifier may be nil when
// email announcements are disabled.
func NewIngestService(letters storage.DeadLetterRepo, resolver EndpointResolver, notifier Notifier) *IngestService {
	return &IngestService{
		letters:  letters,
		resolver: resolver,
		notifier: notifier,
	}
}

// CreateDeadLetter captures a failure notification. It returns the stored
// record and whether this call created it. An existing record with the same
// message id is returned untouched: no endpoint re-resolution, no side
// effects. The read-check and the unique constraint race converge on the same
// outcome; a DuplicateKey loss folds into "already exists" instead of erroring.
func (s *IngestService) CreateDeadLetter(ctx context.Context, notification *model.FailureNotification) (*model.DeadLetter, bool, error) {
	if notification == nil || notification.MessageID == "" {
		return nil, false, fmt.Errorf("%w: failure notification has no message id", apperrors.ErrValidation)
	}

	log := logger.FromContext(ctx).With(
		zap.String("message_id", notification.MessageID),
		zap.String("original_topic_path", notification.OriginalTopicPath),
	)

	existing, err := s.letters.FindByID(ctx, notification.MessageID)
	if err == nil {
		log.Info("Dead letter already exists, skipping capture")
		observer.IncDeadLetterDuplicate()
		return existing, false, nil
	}
	if !apperrors.IsNotFoundError(err) {
		return nil, false, fmt.Errorf("failed to check for existing dead letter: %w", err)
	}

	// Resolution failures do not abort capture. An empty snapshot is a valid
	// persisted state; replay flags it as a configuration error later.
	endpoints, err := s.resolver.FindEndpointsByTopicPath(ctx, notification.OriginalTopicPath)
	if err != nil {
		log.Warn("Endpoint resolution failed, capturing with empty snapshot", zap.Error(err))
		endpoints = nil
	}

	letter := model.NewDeadLetter(
		notification.MessageID,
		notification.OriginalMessage,
		notification.OriginalTopicPath,
		endpoints,
	)

	if err := s.letters.Create(ctx, letter); err != nil {
		if apperrors.IsDuplicateError(err) {
			// Concurrent capture won the race between our read-check and the
			// unique constraint. Same idempotent outcome as the pre-check.
			log.Info("Concurrent capture detected, returning existing record")
			observer.IncDeadLetterDuplicate()
			winner, findErr := s.letters.FindByID(ctx, notification.MessageID)
			if findErr != nil {
				return nil, false, fmt.Errorf("failed to load dead letter after duplicate race: %w", findErr)
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("failed to persist dead letter: %w", err)
	}

	log.Info("Dead letter captured",
		zap.Int("endpoint_count", len(endpoints)),
	)
	observer.IncDeadLetterCreated()

	if s.notifier != nil {
		s.notifier.NotifyNewDeadLetter(ctx, letter)
	}

	return letter, true, nil
}

// GetDeadLetter fetches a single record.
func (s *IngestService) GetDeadLetter(ctx context.Context, id string) (*model.DeadLetter, error) {
	return s.letters.FindByID(ctx, id)
}

// ListDeadLetters lists records by disposition, newest first. Empty status
// lists all.
func (s *IngestService) ListDeadLetters(ctx context.Context, status string, limit int) ([]model.DeadLetter, error) {
	if status != "" && status != model.StatusPending && status != model.StatusSuccess && status != model.StatusFailed {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, status)
	}
	return s.letters.FindByStatus(ctx, status, limit)
}

// DeleteDeadLetter removes a record. Administrative operation, never called by
// the automated capture/replay paths.
func (s *IngestService) DeleteDeadLetter(ctx context.Context, id string) error {
	return s.letters.Delete(ctx, id)
}
