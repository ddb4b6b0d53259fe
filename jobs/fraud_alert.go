package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gatewatch/gatewatch/internal/jobs"
)

// Mailer sends a plain-text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer delivers mail through a plain SMTP relay (Mailpit in dev).
type SMTPMailer struct {
	Addr string
	From string
}

// Send delivers one message.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(m.Addr, nil, m.From, []string{to}, []byte(msg))
}

// FraudAlertJob emails administrators when a code is scanned again after its
// recorded exit.
type FraudAlertJob struct {
	Mailer  Mailer
	To      string
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewFraudAlertJob wires dependencies for the alert handler.
func NewFraudAlertJob(mailer Mailer, to string, logger *slog.Logger, metrics *jobmetrics.Metrics) *FraudAlertJob {
	return &FraudAlertJob{Mailer: mailer, To: to, Logger: logger, Metrics: metrics}
}

// Handle processes fraud alert tasks.
func (j *FraudAlertJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Mailer == nil || j.To == "" {
		return errors.New("fraud alert: handler not configured")
	}
	var payload FraudAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Event.Code == "" {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskFraudAlert)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	subject := fmt.Sprintf("ALERTE FRAUDE - Code %s", payload.Event.Code)
	body := fmt.Sprintf(
		"Une tentative de fraude a été détectée.\n\n"+
			"Code: %s\n"+
			"Produit: %s\n"+
			"Chauffeur: %s\n"+
			"Nombre de scans précédents: %d\n"+
			"Date du scan: %s\n"+
			"Agent: #%d\n",
		payload.Event.Code,
		payload.Event.Product,
		payload.Event.Driver,
		payload.PreviousCount,
		payload.Event.ScannedAt.Format("02/01/2006 à 15:04"),
		payload.Event.AgentID,
	)

	if err := j.Mailer.Send(ctx, j.To, subject, body); err != nil {
		j.logger().Error("fraud alert mail failed",
			slog.String("code", payload.Event.Code),
			slog.Any("error", err))
		resultErr = err
		return resultErr
	}

	j.Metrics.AddFraudAlert("email")
	j.logger().Info("fraud alert sent",
		slog.String("code", payload.Event.Code),
		slog.String("to", j.To))
	return nil
}

func (j *FraudAlertJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
