package notification_handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fatflowers/entitlement/internal/app/service/validator"
	"github.com/fatflowers/entitlement/internal/platform/apple/apple_notification"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/types"
)

type AppleNotificationParser struct {
	cfg              *config.Config
	NotificationTime time.Time
	Notification     *apple_notification.Notification
}

func (p *AppleNotificationParser) GetProvider(ctx context.Context) types.PaymentProvider {
	return types.PaymentProviderApple
}

func (p *AppleNotificationParser) GetPlatform(ctx context.Context) types.Platform {
	return types.PlatformIOS
}

// GetNotificationTime prefers the vendor's signedDate over the receive time.
func (p *AppleNotificationParser) GetNotificationTime(ctx context.Context) time.Time {
	if t := msToTime(p.Notification.Payload.SignedDate); t != nil {
		return *t
	}
	return p.NotificationTime
}

func (p *AppleNotificationParser) GetNotificationType(ctx context.Context) string {
	t := p.Notification.Payload.NotificationType
	if st := p.Notification.Payload.Subtype; st != "" {
		t += "/" + st
	}
	return t
}

func (p *AppleNotificationParser) GetNotificationUUID(ctx context.Context) string {
	return p.Notification.Payload.NotificationUUID
}

func (p *AppleNotificationParser) GetKind(ctx context.Context) NotificationKind {
	kind := AppleKind(p.Notification.Payload.NotificationType)
	if kind == KindPurchasePaid && p.isFreeOfCharge() {
		return KindPurchaseFree
	}
	return kind
}

// isFreeOfCharge reports an introductory free trial or a zero-priced transaction.
func (p *AppleNotificationParser) isFreeOfCharge() bool {
	info := p.Notification.TransactionInfo
	if info == nil {
		return false
	}
	return info.OfferDiscountType == apple_notification.OfferDiscountTypeFreeTrial ||
		(info.Currency != "" && info.Price == 0)
}

func (p *AppleNotificationParser) GetTransactionID(ctx context.Context) string {
	if p.Notification.TransactionInfo == nil {
		return ""
	}
	return p.Notification.TransactionInfo.TransactionID
}

func (p *AppleNotificationParser) GetSubject(ctx context.Context) *validator.ValidatedPurchase {
	info := p.Notification.TransactionInfo
	if info == nil {
		return nil
	}
	env := types.EnvironmentProduction
	if info.Environment == apple_notification.EnvironmentSandbox || p.Notification.IsSandbox() {
		env = types.EnvironmentSandbox
	}
	return &validator.ValidatedPurchase{
		TransactionID:         info.TransactionID,
		OriginalTransactionID: info.OriginalTransactionID,
		ProductID:             info.ProductID,
		ExpiresAt:             msToTime(info.ExpiresDate),
		PurchasedAt:           msToTime(info.PurchaseDate),
		Environment:           env,
		AppAccountToken:       info.AppAccountToken,
	}
}

// GetPurchase needs no vendor call: the signed transaction carries the dates.
func (p *AppleNotificationParser) GetPurchase(ctx context.Context) (*validator.ValidatedPurchase, error) {
	subject := p.GetSubject(ctx)
	if subject == nil {
		return nil, fmt.Errorf("%w: notification carries no transaction", ErrMalformedNotification)
	}
	return subject, nil
}

func (p *AppleNotificationParser) GetRevocationTime(ctx context.Context) *time.Time {
	if p.Notification.TransactionInfo == nil {
		return nil
	}
	return msToTime(p.Notification.TransactionInfo.RevocationDate)
}

func (p *AppleNotificationParser) GetData(ctx context.Context) any {
	return p.Notification
}

// GetAppleNotificationParser accepts the V2 envelope {signedPayload}. An already
// unwrapped notification object is only accepted while signature checks are off.
func GetAppleNotificationParser(cfg *config.Config, decoder *apple_notification.Decoder, body []byte, notificationTime time.Time) (NotificationParser, error) {
	if notificationTime.IsZero() {
		notificationTime = time.Now()
	}

	var request apple_notification.AppStoreServerRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	var notification *apple_notification.Notification
	var err error
	if strings.TrimSpace(request.SignedPayload) != "" {
		notification, err = decoder.DecodeNotification(request.SignedPayload)
	} else {
		// the outer envelope carries notificationType; without its signature the type is unproven
		if decoder.Verifies() {
			return nil, fmt.Errorf("%w: signedPayload is required", ErrMalformedNotification)
		}
		var payload apple_notification.NotificationPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		}
		notification, err = decoder.DecodePayload(&payload)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if decoder.Verifies() && !notification.Verified {
		return nil, fmt.Errorf("%w: notification is not verified", ErrMalformedNotification)
	}

	if bundleID := cfg.AppleIAP.BundleID; bundleID != "" && !notification.IsTest() {
		got := notification.Payload.Data.BundleID
		if got == "" && notification.TransactionInfo != nil {
			got = notification.TransactionInfo.BundleID
		}
		if got != bundleID {
			return nil, fmt.Errorf("%w: bundle id %q does not match %q", ErrMalformedNotification, got, bundleID)
		}
	}

	return &AppleNotificationParser{
		cfg:              cfg,
		NotificationTime: notificationTime,
		Notification:     notification,
	}, nil
}

func msToTime(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
