package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/apperrors"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/observer"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/storage"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/validator"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/logger"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/utils"
)

// Authorizer confirms a caller holds a permission before a privileged
// operation proceeds.
type Authorizer interface {
	Authorize(ctx context.Context, callerID, permissionID string) error
}

// ReplayRequest is a caller's instruction to redeliver one dead letter.
// ExpectedVersion is the version the caller last read; the persisted outcome
// is conditional on it.
type ReplayRequest struct {
	DeadLetterID     string `json:"deadLetterId" validate:"required"`
	ExpectedVersion  int    `json:"expectedVersion" validate:"required,gte=1"`
	Mode             string `json:"mode" validate:"required,oneof=local remote"`
	OverrideEndpoint string `json:"overrideEndpoint,omitempty" validate:"omitempty,url"`
}

// ReplayService redelivers captured dead letters to recovery endpoints and
// persists the outcome under optimistic concurrency.
type ReplayService struct {
	letters         storage.DeadLetterRepo
	gate            Authorizer
	client          *http.Client
	pool            *ants.Pool
	endpointTimeout time.Duration
}

// NewReplayService creates the replay dispatcher with a bounded fan-out pool.
func NewReplayService(letters storage.DeadLetterRepo, gate Authorizer, endpointTimeout time.Duration, fanoutWorkers int) (*ReplayService, error) {
	if endpointTimeout <= 0 {
		endpointTimeout = 5 * time.Second
	}
	if fanoutWorkers <= 0 {
		fanoutWorkers = 4
	}

	pool, err := ants.NewPool(fanoutWorkers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create fan-out pool: %w", err)
	}

	return &ReplayService{
		letters: letters,
		gate:    gate,
		client: &http.Client{
			Timeout: endpointTimeout,
		},
		pool:            pool,
		endpointTimeout: endpointTimeout,
	}, nil
}

// Close releases the fan-out pool.
func (s *ReplayService) Close() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// AuthorizeReplay checks the replay permission without performing a replay.
// Administrative surfaces use it to gate destructive operations on the queue.
func (s *ReplayService) AuthorizeReplay(ctx context.Context, callerID string) error {
	return s.gate.Authorize(ctx, callerID, model.PermReplayDeadLetter)
}

// Replay executes a replay attempt end to end: authorize, validate the mode,
// fan out deliveries, then persist the outcome via a conditional update on the
// caller's expected version. A StaleVersion result means a concurrent replay
// already advanced the record; the caller must re-read before retrying. The
// attempt is always recorded on the persisted record regardless of delivery
// outcome. A record already in its terminal status is rejected before any
// delivery. Local mode probes a single override endpoint and never yields
// SUCCESS.
func (s *ReplayService) Replay(ctx context.Context, callerID string, req *ReplayRequest) (*model.DeadLetter, error) {
	startTime := time.Now()
	defer func() {
		observer.ObserveReplayDuration(time.Since(startTime))
	}()

	if err := s.gate.Authorize(ctx, callerID, model.PermReplayDeadLetter); err != nil {
		return nil, err
	}

	if err := validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}

	log := logger.FromContext(ctx).With(
		zap.String("dead_letter_id", req.DeadLetterID),
		zap.Int("expected_version", req.ExpectedVersion),
		zap.String("mode", req.Mode),
	)

	letter, err := s.letters.FindByID(ctx, req.DeadLetterID)
	if err != nil {
		return nil, err
	}
	if letter.IsTerminal() {
		return nil, fmt.Errorf("%w: dead letter %s was already replayed successfully", apperrors.ErrValidation, letter.ID)
	}
	if letter.Version != req.ExpectedVersion {
		observer.IncStaleVersionConflict()
		return nil, fmt.Errorf("%w: dead letter %s is at version %d, not %d",
			apperrors.ErrStaleVersion, letter.ID, letter.Version, req.ExpectedVersion)
	}

	targets, err := s.resolveTargets(req, letter)
	if err != nil {
		return nil, err
	}

	body, err := s.buildEnvelope(letter)
	if err != nil {
		return nil, fmt.Errorf("failed to build replay envelope: %w", err)
	}

	deliveryErrs := s.fanOut(ctx, targets, body)

	allSucceeded := true
	var failures []string
	for i, deliveryErr := range deliveryErrs {
		observer.IncReplayEndpointRequest(deliveryErr == nil)
		if deliveryErr != nil {
			allSucceeded = false
			failures = append(failures, fmt.Sprintf(" - %s: %s", targets[i], deliveryErr.Error()))
		}
	}
	errorMessage := strings.Join(failures, "\n")

	updated, err := s.letters.Update(ctx, req.DeadLetterID, req.ExpectedVersion, func(d *model.DeadLetter) error {
		d.RecordAttempt()
		if req.Mode == model.ReplayModeRemote && allSucceeded {
			d.MarkSuccess()
		} else {
			d.MarkFailed(errorMessage)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	observer.IncReplayAttempt(req.Mode, updated.Status)
	log.Info("Replay attempt persisted",
		zap.String("status", updated.Status),
		zap.Int("version", updated.Version),
		zap.Int("retry_count", updated.RetryCount),
		zap.Int("target_count", len(targets)),
	)
	return updated, nil
}

// resolveTargets applies the mode rules and returns the endpoints to deliver
// to, in the order failures will be reported.
func (s *ReplayService) resolveTargets(req *ReplayRequest, letter *model.DeadLetter) ([]string, error) {
	switch req.Mode {
	case model.ReplayModeLocal:
		if req.OverrideEndpoint == "" {
			return nil, fmt.Errorf("%w: local replay requires an override endpoint", apperrors.ErrValidation)
		}
		return []string{req.OverrideEndpoint}, nil

	case model.ReplayModeRemote:
		if req.OverrideEndpoint != "" {
			return nil, fmt.Errorf("%w: remote replay does not accept an override endpoint", apperrors.ErrValidation)
		}
		endpoints, err := letter.EndPointList()
		if err != nil {
			return nil, fmt.Errorf("failed to decode endpoint snapshot: %w", err)
		}
		if len(endpoints) == 0 {
			return nil, fmt.Errorf("%w: dead letter %s has no recovery endpoints", apperrors.ErrConfiguration, letter.ID)
		}
		return endpoints, nil

	default:
		return nil, fmt.Errorf("%w: unknown replay mode %q", apperrors.ErrValidation, req.Mode)
	}
}

// buildEnvelope canonicalizes the stored payload and wraps it in the push
// envelope recovery services expect.
func (s *ReplayService) buildEnvelope(letter *model.DeadLetter) ([]byte, error) {
	payload, err := utils.CanonicalJSON(letter.OriginalMessage)
	if err != nil {
		return nil, err
	}
	envelope := model.NewReplayEnvelope(letter.ID, letter.OriginalTopicPath, payload, utils.Now())
	return json.Marshal(envelope)
}

// fanOut delivers the envelope to every target with bounded parallelism.
// Results are indexed by target position so the aggregate failure text keeps
// endpoint order. One failing endpoint never aborts the others.
func (s *ReplayService) fanOut(ctx context.Context, targets []string, body []byte) []error {
	results := make([]error, len(targets))
	var wg sync.WaitGroup

	for i, endpoint := range targets {
		i, endpoint := i, endpoint
		wg.Add(1)
		submitErr := s.pool.Submit(func() {
			defer wg.Done()
			results[i] = s.deliverGuarded(ctx, endpoint, body)
		})
		if submitErr != nil {
			results[i] = fmt.Errorf("failed to schedule delivery: %w", submitErr)
			wg.Done()
		}
	}

	wg.Wait()
	return results
}

// deliverGuarded converts a panic during delivery into that endpoint's
// failure. A swallowed panic would otherwise leave the slot nil and count the
// endpoint as delivered.
func (s *ReplayService) deliverGuarded(ctx context.Context, endpoint string, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("Replay delivery panicked",
				zap.String("endpoint", endpoint),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("delivery panicked: %v", r)
		}
	}()
	return s.deliver(ctx, endpoint, body)
}

// deliver POSTs the envelope to a single endpoint with a bounded timeout.
// A timeout counts as that endpoint's failure only.
func (s *ReplayService) deliver(ctx context.Context, endpoint string, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.endpointTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid endpoint: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
