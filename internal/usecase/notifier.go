package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/storage"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/logger"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/utils"
)

// emailRequest is the payload the external sender API accepts.
type emailRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// EmailNotifier announces newly captured dead letters to every user granted
// the receive-mail permission. Delivery is best effort: failures are logged
// and never propagate into the ingestion result.
type EmailNotifier struct {
	users     storage.UserRepo
	client    *http.Client
	senderURL string
	subject   string
}

// NewEmailNotifier creates a notifier posting to the given sender API.
func NewEmailNotifier(users storage.UserRepo, senderURL, subject string) *EmailNotifier {
	return &EmailNotifier{
		users: users,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		senderURL: senderURL,
		subject:   subject,
	}
}

// NotifyNewDeadLetter sends the announcement in a detached goroutine so
// ingestion latency never depends on the sender API. The inbound context may
// be cancelled as soon as ingestion returns, so the send runs on its own
// bounded context.
func (n *EmailNotifier) NotifyNewDeadLetter(ctx context.Context, letter *model.DeadLetter) {
	if n.senderURL == "" || letter == nil {
		return
	}

	id := letter.ID
	topicPath := letter.OriginalTopicPath
	createdAt := letter.CreatedAt

	utils.SafeGo(func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		n.send(sendCtx, id, topicPath, createdAt)
	}, nil)
}

func (n *EmailNotifier) send(ctx context.Context, id, topicPath string, createdAt time.Time) {
	log := logger.Log.With(
		zap.String("dead_letter_id", id),
		zap.String("original_topic_path", topicPath),
	)

	recipients, err := n.users.FindEmailsWithPermission(ctx, model.PermReceiveDeadLetterMail)
	if err != nil {
		log.Warn("Dead letter email skipped: recipient lookup failed", zap.Error(err))
		return
	}
	if len(recipients) == 0 {
		log.Debug("Dead letter email skipped: no recipients")
		return
	}

	body, err := json.Marshal(emailRequest{
		To:      recipients,
		Subject: n.subject,
		Body: fmt.Sprintf("A new dead letter was captured.\n\nMessage ID: %s\nTopic: %s\nCaptured at: %s\n",
			id, topicPath, utils.FormatISO8601(createdAt)),
	})
	if err != nil {
		log.Warn("Dead letter email skipped: payload encoding failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.senderURL, bytes.NewReader(body))
	if err != nil {
		log.Warn("Dead letter email skipped: invalid sender URL", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn("Dead letter email failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("Dead letter email rejected by sender", zap.Int("status", resp.StatusCode))
		return
	}

	log.Info("Dead letter email sent", zap.Int("recipient_count", len(recipients)))
}
