package ingestworker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/caller"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/config"
	internal_js "gitlab.com/timkado/api/daisi-deadletter-service/internal/jetstream"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/observer"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/usecase"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/logger"
)

const (
	defaultMsgChanCap = 100
	fetchBatchSize    = 10
	fetchMaxWait      = 5 * time.Second
	nakRetryDelay     = 30 * time.Second
)

// Worker consumes failure notifications from the JetStream stream and captures
// them as dead letter records.
type Worker struct {
	cfg     *config.Config
	logger  *zap.Logger
	js      internal_js.ClientInterface
	pool    *ants.Pool
	gateway *usecase.IngestService
	msgCh   chan *nats.Msg
	stopWg  sync.WaitGroup
	cancel  context.CancelFunc
}

// NewWorker creates and initializes the ingest worker, including setting up
// the required JetStream resources.
func NewWorker(cfg *config.Config, log *zap.Logger, jsClient internal_js.ClientInterface, gateway *usecase.IngestService) (*Worker, error) {
	pool, err := ants.NewPool(cfg.NATS.Workers,
		ants.WithLogger(newAntsLoggerAdapter(log.Named("ants_pool"))),
		ants.WithPanicHandler(func(err interface{}) {
			log.Error("Worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	// --- JetStream Setup ---
	setupCtx := context.Background()
	streamName := cfg.NATS.Stream
	subject := cfg.NATS.Subject + ".>"
	subjectCleaned := strings.ReplaceAll(cfg.NATS.Subject, ".", "_")
	durableName := fmt.Sprintf("%s_ingest_consumer", subjectCleaned)

	maxAge := time.Duration(cfg.NATS.MaxAgeDays) * 24 * time.Hour

	streamCfg := &nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAge,
	}

	if err := jsClient.SetupStream(setupCtx, streamCfg); err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to setup stream '%s': %w", streamName, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    cfg.NATS.MaxDeliver,
		AckWait:       cfg.NATS.AckWait,
		MaxAckPending: cfg.NATS.MaxAckPending,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}

	if err := jsClient.SetupConsumer(setupCtx, streamName, consumerCfg); err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to setup consumer '%s' for stream '%s': %w", durableName, streamName, err)
	}
	// --- End JetStream Setup ---

	worker := &Worker{
		cfg:     cfg,
		logger:  log.Named("ingest_worker"),
		js:      jsClient,
		pool:    pool,
		gateway: gateway,
		msgCh:   make(chan *nats.Msg, defaultMsgChanCap),
	}

	worker.logger.Info("Ingest worker initialized", zap.Int("pool_size", cfg.NATS.Workers))
	return worker, nil
}

// Start begins the processing loops (fetcher and dispatcher) and blocks until
// the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	derivedCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.logger.Info("Starting ingest worker...")

	subjectCleaned := strings.ReplaceAll(w.cfg.NATS.Subject, ".", "_")
	durableName := fmt.Sprintf("%s_ingest_consumer", subjectCleaned)
	subSubject := fmt.Sprintf("%s.>", w.cfg.NATS.Subject)

	sub, err := w.js.SubscribePull(w.cfg.NATS.Stream, subSubject, durableName)
	if err != nil {
		w.logger.Error("Failed to create pull subscription", zap.Error(err))
		cancel()
		return fmt.Errorf("failed to create pull subscription: %w", err)
	}

	w.stopWg.Add(1)
	go w.fetchMessages(derivedCtx, sub)

	w.stopWg.Add(1)
	go w.dispatchMessages(derivedCtx)

	w.logger.Info("Ingest worker started successfully")

	<-derivedCtx.Done()
	w.logger.Info("Ingest worker context cancelled, initiating shutdown...")

	return nil
}

// Stop gracefully shuts down the ingest worker.
func (w *Worker) Stop() {
	w.logger.Info("Stopping ingest worker...")
	if w.cancel != nil {
		w.cancel()
	}

	w.stopWg.Wait()
	w.logger.Info("Fetcher and dispatcher stopped")

	close(w.msgCh)

	w.pool.Release()
	w.logger.Info("Ingest worker stopped successfully")
}

// fetchMessages pulls messages from the JetStream subscription and sends them to msgCh.
func (w *Worker) fetchMessages(ctx context.Context, sub *nats.Subscription) {
	defer w.stopWg.Done()
	w.logger.Info("Starting message fetcher loop...")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Fetcher loop stopping due to context cancellation")
			return
		default:
			observer.IncIngestFetchRequest()
			msgs, err := sub.Fetch(fetchBatchSize, nats.MaxWait(fetchMaxWait))
			if err != nil {
				if err == context.Canceled || err == nats.ErrTimeout || err == nats.ErrConnectionClosed {
					if ctx.Err() != nil {
						return
					}
					continue
				}
				observer.IncIngestFetchError()
				w.logger.Error("Fetcher loop error retrieving messages", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}

			if len(msgs) == 0 {
				continue
			}

			w.logger.Debug("Fetched failure notifications", zap.Int("count", len(msgs)))
			for _, msg := range msgs {
				select {
				case w.msgCh <- msg:
				case <-ctx.Done():
					w.logger.Info("Fetcher loop stopping while sending to channel")
					return
				}
			}
		}
	}
}

// dispatchMessages reads messages from msgCh and submits them to the worker pool.
func (w *Worker) dispatchMessages(ctx context.Context) {
	defer w.stopWg.Done()
	w.logger.Info("Starting message dispatcher loop...")

	for {
		observer.SetIngestQueueLength(len(w.msgCh))
		observer.SetIngestWorkersActive(w.pool.Running())

		select {
		case <-ctx.Done():
			w.logger.Info("Dispatcher loop stopping due to context cancellation")
			return
		case msg, ok := <-w.msgCh:
			if !ok {
				w.logger.Info("Message channel closed, dispatcher loop stopping")
				return
			}
			currentMsg := msg
			err := w.pool.Submit(func() {
				taskCtx, taskCancel := context.WithTimeout(context.Background(), 1*time.Minute)
				defer taskCancel()
				w.handleMessage(taskCtx, currentMsg)
			})
			if err != nil {
				w.logger.Error("Failed to submit task to ants pool", zap.Error(err))
				if nakErr := currentMsg.NakWithDelay(5 * time.Second); nakErr != nil {
					w.logger.Error("Failed to NAK message after pool submission error", zap.Error(nakErr))
				}
			}
		}
	}
}

// msgDisposition is the acknowledgement a consumed notification receives.
type msgDisposition int

const (
	dispositionAck msgDisposition = iota
	dispositionTerm
	dispositionNak
)

// processNotification decodes and captures one failure notification and
// returns the disposition for the message. Undecodable envelopes are
// terminated: redelivery cannot fix them. Capture failures are NAKed with a
// delay so the notification is retried.
func (w *Worker) processNotification(ctx context.Context, data []byte) (msgDisposition, time.Duration, error) {
	notification, err := model.DecodeFailureNotification(data)
	if err != nil {
		observer.IncIngestDecodeError()
		return dispositionTerm, 0, err
	}

	if _, _, err := w.gateway.CreateDeadLetter(ctx, notification); err != nil {
		return dispositionNak, nakRetryDelay, err
	}

	return dispositionAck, 0, nil
}

// handleMessage processes one message and applies the resulting disposition.
func (w *Worker) handleMessage(ctx context.Context, msg *nats.Msg) {
	requestID := uuid.NewString()
	handlerCtx := caller.WithRequestID(ctx, requestID)
	handlerCtx = logger.WithLogger(handlerCtx, w.logger.With(
		zap.String("request_id", requestID),
		zap.String("subject", msg.Subject),
	))
	log := logger.FromContext(handlerCtx)

	meta, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to get message metadata", zap.Error(err))
		if termErr := msg.Term(); termErr != nil {
			log.Error("Failed to terminate message after metadata error", zap.Error(termErr))
		}
		return
	}

	disposition, delay, procErr := w.processNotification(handlerCtx, msg.Data)
	switch disposition {
	case dispositionTerm:
		log.Error("Failed to decode failure notification, terminating",
			zap.Error(procErr),
			zap.Uint64("stream_sequence", meta.Sequence.Stream),
		)
		if termErr := msg.Term(); termErr != nil {
			log.Error("Failed to terminate undecodable message", zap.Error(termErr))
		}

	case dispositionNak:
		log.Warn("Failed to capture dead letter, scheduling redelivery",
			zap.Uint64("num_delivered", meta.NumDelivered),
			zap.Error(procErr),
		)
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}

	case dispositionAck:
		log.Info("Failure notification processed",
			zap.Uint64("stream_sequence", meta.Sequence.Stream),
		)
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK processed message", zap.Error(ackErr))
		}
	}
}

// --- Ants Logger Adapter ---

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
