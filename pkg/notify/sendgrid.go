package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/observability"
)

const kindQuotaExhausted = "quota_exhausted"

// ErrNotConfigured is returned when the SendGrid key or sender is missing
var ErrNotConfigured = errors.New("sendgrid notifier is not configured")

// Sender delivers a prepared message
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// AccountReader loads the account a notice is addressed to
type AccountReader interface {
	GetAccount(ctx context.Context, userID string) (*accounts.Account, error)
}

// Config configures the SendGrid notifier
type Config struct {
	APIKey      string
	FromAddress string
	FromName    string
}

// SendGridNotifier emails account owners through SendGrid
type SendGridNotifier struct {
	sender   Sender
	accounts AccountReader
	from     *mail.Email
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewSendGridNotifier creates a notifier. metrics may be nil.
func NewSendGridNotifier(cfg Config, reader AccountReader, logger *observability.Logger, metrics *observability.Metrics) (*SendGridNotifier, error) {
	if cfg.APIKey == "" || cfg.FromAddress == "" {
		return nil, ErrNotConfigured
	}
	return newSendGridNotifier(sendgrid.NewSendClient(cfg.APIKey), cfg, reader, logger, metrics), nil
}

func newSendGridNotifier(sender Sender, cfg Config, reader AccountReader, logger *observability.Logger, metrics *observability.Metrics) *SendGridNotifier {
	name := cfg.FromName
	if name == "" {
		name = "Meter"
	}
	return &SendGridNotifier{
		sender:   sender,
		accounts: reader,
		from:     mail.NewEmail(name, cfg.FromAddress),
		logger:   logger,
		metrics:  metrics,
	}
}

// QuotaExhausted tells the owner of userID that the period's executions are
// used up and when they come back
func (n *SendGridNotifier) QuotaExhausted(ctx context.Context, userID string, usage accounts.ConsumeResult) error {
	acct, err := n.accounts.GetAccount(ctx, userID)
	if err != nil {
		n.metrics.RecordNotification(kindQuotaExhausted, "error")
		return fmt.Errorf("failed to load account for notification: %w", err)
	}
	if acct.Email == "" {
		n.metrics.RecordNotification(kindQuotaExhausted, "skipped")
		return nil
	}

	name := acct.DisplayName
	if name == "" {
		name = acct.Email
	}

	subject := fmt.Sprintf("You have used all %d executions for this period", usage.Limit)
	resetDate := usage.ResetAt.UTC().Format(time.RFC1123)
	plain := fmt.Sprintf(
		"Hi %s,\n\nYour account has used %d of %d executions for the current period. "+
			"New executions will be refused until the usage resets on %s, or until you upgrade your plan.\n",
		name, usage.Used, usage.Limit, resetDate)
	htmlBody := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your account has used <strong>%d of %d</strong> executions for the current period. "+
			"New executions will be refused until the usage resets on %s, or until you upgrade your plan.</p>",
		html.EscapeString(name), usage.Used, usage.Limit, resetDate)

	message := mail.NewSingleEmail(n.from, subject, mail.NewEmail(name, acct.Email), plain, htmlBody)

	resp, err := n.sender.SendWithContext(ctx, message)
	if err != nil {
		n.metrics.RecordNotification(kindQuotaExhausted, "error")
		return fmt.Errorf("failed to send notification: %w", err)
	}
	if resp.StatusCode >= 300 {
		n.metrics.RecordNotification(kindQuotaExhausted, "rejected")
		return fmt.Errorf("sendgrid rejected notification: status %d: %s", resp.StatusCode, resp.Body)
	}

	n.metrics.RecordNotification(kindQuotaExhausted, "sent")
	n.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"status":  resp.StatusCode,
	}).Info("quota exhausted notification sent")
	return nil
}

// NopNotifier drops every notification
type NopNotifier struct{}

// QuotaExhausted does nothing
func (NopNotifier) QuotaExhausted(ctx context.Context, userID string, usage accounts.ConsumeResult) error {
	return nil
}
