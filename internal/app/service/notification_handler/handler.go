package notification_handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/app/service/identity"
	notificationlog "github.com/fatflowers/entitlement/internal/app/service/notification_log"
	"github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/app/service/validator"
	"github.com/fatflowers/entitlement/internal/platform/apple/apple_notification"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/metrics"
	"github.com/fatflowers/entitlement/pkg/types"
)

// Result is the acknowledged outcome of one notification.
type Result struct {
	Kind    NotificationKind         `json:"kind"`
	Outcome string                   `json:"outcome"`
	UserID  string                   `json:"user_id,omitempty"`
	Status  types.SubscriptionStatus `json:"status,omitempty"`
	EndDate *time.Time               `json:"end_date,omitempty"`
	Changed bool                     `json:"changed"`
}

type NotificationHandler struct {
	cfg       *config.Config
	decoder   *apple_notification.Decoder
	validator validator.Validator
	resolver  *identity.Resolver
	subSvc    *subscription.Service
	notifSvc  *notificationlog.Service
	dedup     *Deduper
	Logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewNotificationHandler(
	cfg *config.Config,
	decoder *apple_notification.Decoder,
	v validator.Validator,
	resolver *identity.Resolver,
	sub *subscription.Service,
	notif *notificationlog.Service,
	dedup *Deduper,
	log *zap.SugaredLogger,
) *NotificationHandler {
	return &NotificationHandler{
		cfg:       cfg,
		decoder:   decoder,
		validator: v,
		resolver:  resolver,
		subSvc:    sub,
		notifSvc:  notif,
		dedup:     dedup,
		Logger:    log,
		now:       time.Now,
	}
}

func (h *NotificationHandler) parser(provider types.PaymentProvider, body []byte) (NotificationParser, error) {
	switch provider {
	case types.PaymentProviderApple:
		return GetAppleNotificationParser(h.cfg, h.decoder, body, h.now())
	case types.PaymentProviderGoogle:
		return GetGoogleNotificationParser(h.cfg, h.validator, body, h.now())
	default:
		return nil, fmt.Errorf("%w: unsupported provider %s", ErrMalformedNotification, provider)
	}
}

// HandleNotification decodes and applies one vendor notification.
// Errors wrapping ErrMalformedNotification must not be retried by the vendor; any other error should be.
func (h *NotificationHandler) HandleNotification(ctx context.Context, provider types.PaymentProvider, body []byte) (res *Result, resErr error) {
	log := logctx.FromCtx(ctx, h.Logger).With("provider", provider)

	parser, err := h.parser(provider, body)
	if err != nil {
		log.Warnw("webhook_decode_failed", "error", err)
		metrics.WebhookNotifications.WithLabelValues(platformOf(provider), "unknown", metrics.OutcomeRejected).Inc()
		return nil, err
	}

	kind := parser.GetKind(ctx)
	uuid := parser.GetNotificationUUID(ctx)
	log = log.With(
		"notification_type", parser.GetNotificationType(ctx),
		"notification_uuid", uuid,
		"kind", kind,
		"transaction_id", parser.GetTransactionID(ctx),
	)
	ctx = logctx.WithLogger(ctx, log)
	log.Infow("webhook_received")

	claimed, err := h.dedup.Claim(ctx, provider, uuid)
	if err != nil {
		log.Warnw("webhook_dedup_unavailable", "error", err)
	}
	if !claimed {
		log.Infow("webhook_duplicate_ignored")
		metrics.WebhookNotifications.WithLabelValues(string(parser.GetPlatform(ctx)), string(kind), metrics.OutcomeDuplicate).Inc()
		return &Result{Kind: kind, Outcome: metrics.OutcomeDuplicate}, nil
	}

	received := h.notifSvc.Received(ctx, string(provider), parser.GetTransactionID(ctx), parser.GetNotificationType(ctx), uuid,
		parser.GetNotificationTime(ctx), parser.GetData(ctx))
	defer func() {
		outcome := metrics.OutcomeError
		var userID string
		if res != nil {
			outcome = res.Outcome
			userID = res.UserID
		} else if errors.Is(resErr, ErrMalformedNotification) {
			outcome = metrics.OutcomeRejected
		}
		h.notifSvc.Finish(ctx, received, userID, outcome, res, resErr)
		if resErr != nil {
			if err := h.dedup.Release(context.WithoutCancel(ctx), provider, uuid); err != nil {
				log.Warnw("webhook_dedup_release_failed", "error", err)
			}
			log.Errorw("webhook_handle_failed", "error", resErr)
		}
		metrics.WebhookNotifications.WithLabelValues(string(parser.GetPlatform(ctx)), string(kind), outcome).Inc()
	}()

	return h.dispatch(ctx, log, parser, kind)
}

func (h *NotificationHandler) dispatch(ctx context.Context, log *zap.SugaredLogger, parser NotificationParser, kind NotificationKind) (*Result, error) {
	ignored := &Result{Kind: kind, Outcome: metrics.OutcomeIgnored}
	switch kind {
	case KindTest:
		log.Infow("webhook_test_notification")
		return ignored, nil
	case KindRenewalToggled:
		log.Infow("webhook_renewal_status_changed")
		return ignored, nil
	case KindPaymentFailed:
		// no grace-period transition; the record stays valid until an expiration arrives
		log.Warnw("webhook_payment_failed")
		return ignored, nil
	case KindUnhandled:
		log.Infow("webhook_unhandled_type")
		return ignored, nil
	}

	subject := parser.GetSubject(ctx)
	if subject == nil {
		return nil, fmt.Errorf("%w: notification carries no transaction", ErrMalformedNotification)
	}
	user, err := h.resolver.ResolveForWebhook(ctx, subject)
	if errors.Is(err, identity.ErrNotFound) {
		log.Warnw("webhook_user_not_found",
			"original_transaction_id", subject.OriginalTransactionID, "purchase_token", subject.PurchaseToken)
		return &Result{Kind: kind, Outcome: metrics.OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	platform := parser.GetPlatform(ctx)
	ctx = subscription.WithTrigger(ctx, string(parser.GetProvider(ctx)), parser.GetNotificationType(ctx))

	var change *subscription.Change
	if kind == KindRevoked {
		change, err = h.subSvc.ApplyRevocation(ctx, user.ID, parser.GetRevocationTime(ctx))
	} else {
		purchase, perr := parser.GetPurchase(ctx)
		if perr != nil {
			return nil, perr
		}
		switch kind {
		case KindPurchaseFree:
			change, err = h.subSvc.ApplyPurchase(ctx, user.ID, platform, purchase, false)
		case KindPurchasePaid:
			change, err = h.subSvc.ApplyPurchase(ctx, user.ID, platform, purchase, true)
		case KindRenewed:
			change, err = h.subSvc.ApplyRenewal(ctx, user.ID, platform, purchase)
		case KindExpired:
			change, err = h.subSvc.ApplyExpiration(ctx, user.ID, purchase)
		default:
			return nil, fmt.Errorf("no transition for kind %s", kind)
		}
	}

	switch {
	case errors.Is(err, identity.ErrIdentityConflict):
		log.Errorw("webhook_transaction_bound_elsewhere", "user_id", user.ID)
		return &Result{Kind: kind, Outcome: metrics.OutcomeConflict, UserID: user.ID}, nil
	case errors.Is(err, identity.ErrUserNotFound):
		log.Warnw("webhook_user_not_found", "user_id", user.ID)
		return &Result{Kind: kind, Outcome: metrics.OutcomeNotFound, UserID: user.ID}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to apply %s: %w", kind, err)
	}

	log.Infow("webhook_applied", "user_id", user.ID, "status", change.After.Status, "changed", change.Changed)
	return &Result{
		Kind:    kind,
		Outcome: metrics.OutcomeSuccess,
		UserID:  user.ID,
		Status:  change.After.Status,
		EndDate: change.After.EndDate,
		Changed: change.Changed,
	}, nil
}

func platformOf(provider types.PaymentProvider) string {
	switch provider {
	case types.PaymentProviderApple:
		return string(types.PlatformIOS)
	case types.PaymentProviderGoogle:
		return string(types.PlatformAndroid)
	default:
		return string(provider)
	}
}
