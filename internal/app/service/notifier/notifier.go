package notifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/types"
)

// Notifier emits side effects for subscription status changes.
// Implementations must not block the caller on delivery failures.
type Notifier interface {
	SubscriptionChanged(ctx context.Context, user *models.User, before, after *models.SubscriptionRecord)
}

type EmailNotifier struct {
	sender Sender
	from   string
	log    *zap.SugaredLogger
}

func NewEmailNotifier(sender Sender, from string, log *zap.SugaredLogger) *EmailNotifier {
	return &EmailNotifier{sender: sender, from: from, log: log}
}

// New picks the sender configured under email.provider.
func New(cfg *config.Config, log *zap.SugaredLogger) Notifier {
	var sender Sender
	switch cfg.Email.Provider {
	case config.EmailProviderSMTP:
		sender = NewSMTPSender(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.Username, cfg.Email.Password)
	default:
		sender = NewLogSender(log)
	}
	return NewEmailNotifier(sender, cfg.Email.From, log)
}

var subjects = map[types.SubscriptionStatus]string{
	types.SubscriptionStatusTrial:     "Your trial has started",
	types.SubscriptionStatusActive:    "Your subscription is active",
	types.SubscriptionStatusCancelled: "Your subscription has been cancelled",
	types.SubscriptionStatusExpired:   "Your subscription has expired",
}

func (n *EmailNotifier) SubscriptionChanged(ctx context.Context, user *models.User, before, after *models.SubscriptionRecord) {
	if user == nil || after == nil {
		return
	}
	log := logctx.FromCtx(ctx, n.log).With("user_id", user.ID)

	status := after.Status.Normalize()
	if before != nil && before.Status.Normalize() == status {
		return
	}
	subject, ok := subjects[status]
	if !ok {
		return
	}
	if user.Email == "" {
		log.Debugw("subscription_email_skipped_no_address", "status", status)
		return
	}

	msg := Message{
		From:    n.from,
		To:      user.Email,
		Subject: subject,
		Text:    body(user, after),
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		log.Errorw("subscription_email_failed", "status", status, "error", err)
		return
	}
	log.Infow("subscription_email_sent", "status", status)
}

func body(user *models.User, rec *models.SubscriptionRecord) string {
	name := user.Name
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf("Hi %s,\n\nYour %s subscription is now %s.", name, rec.Plan, rec.Status.Normalize())
	if rec.EndDate != nil {
		text += fmt.Sprintf("\nAccess ends on %s.", rec.EndDate.UTC().Format("2006-01-02"))
	}
	return text + "\n"
}
