package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeSessionSweep is the task type for pruning expired session rows.
	TaskTypeSessionSweep = "sessions:sweep"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewSessionSweepTask constructs a session sweep task.
func NewSessionSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSessionSweep, nil)
}

// SMTPConfig carries the delivery settings for outbound mail.
type SMTPConfig struct {
	Host string
	Port int
	From string
}

// Mailer delivers transactional mail over SMTP. An empty host turns the
// mailer into a logger, which keeps local development working without a
// mail server.
type Mailer struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewMailer constructs a Mailer.
func NewMailer(cfg SMTPConfig, logger *slog.Logger) *Mailer {
	return &Mailer{cfg: cfg, logger: logger}
}

// Send delivers a single message.
func (m *Mailer) Send(_ context.Context, payload SendEmailPayload) error {
	if m.cfg.Host == "" {
		m.logger.Info("mail skipped, no SMTP host configured",
			slog.String("to", payload.To), slog.String("subject", payload.Subject))
		return nil
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + payload.To,
		"Subject: " + payload.Subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		payload.Body,
	}, "\r\n")
	return smtp.SendMail(addr, nil, m.cfg.From, []string{payload.To}, []byte(msg))
}

// HandleSendEmail returns the Asynq handler for TaskTypeSendEmail.
func HandleSendEmail(mailer *Mailer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.To == "" {
			return asynq.SkipRetry
		}
		return mailer.Send(ctx, payload)
	}
}

// SessionStore prunes expired session rows.
type SessionStore interface {
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// HandleSessionSweep returns the Asynq handler for TaskTypeSessionSweep.
func HandleSessionSweep(store SessionStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		removed, err := store.DeleteExpiredSessions(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info("session sweep", slog.Int64("removed", removed))
		}
		return nil
	}
}
