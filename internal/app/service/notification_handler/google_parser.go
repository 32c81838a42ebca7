package notification_handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fatflowers/entitlement/internal/app/service/validator"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/types"
)

// PubSubPushRequest is the body Cloud Pub/Sub posts to a push endpoint.
// https://cloud.google.com/pubsub/docs/push
type PubSubPushRequest struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// https://developer.android.com/google/play/billing/rtdn-reference
type DeveloperNotification struct {
	Version                  string                    `json:"version"`
	PackageName              string                    `json:"packageName"`
	EventTimeMillis          string                    `json:"eventTimeMillis"`
	SubscriptionNotification *SubscriptionNotification `json:"subscriptionNotification,omitempty"`
	TestNotification         *struct {
		Version string `json:"version"`
	} `json:"testNotification,omitempty"`
}

type SubscriptionNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SubscriptionID   string `json:"subscriptionId"`
}

type GoogleNotificationParser struct {
	validator        validator.Validator
	MessageID        string
	NotificationTime time.Time
	Notification     *DeveloperNotification
}

func (p *GoogleNotificationParser) GetProvider(ctx context.Context) types.PaymentProvider {
	return types.PaymentProviderGoogle
}

func (p *GoogleNotificationParser) GetPlatform(ctx context.Context) types.Platform {
	return types.PlatformAndroid
}

func (p *GoogleNotificationParser) GetNotificationTime(ctx context.Context) time.Time {
	if ms, err := strconv.ParseInt(p.Notification.EventTimeMillis, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return p.NotificationTime
}

func (p *GoogleNotificationParser) GetNotificationType(ctx context.Context) string {
	switch {
	case p.Notification.TestNotification != nil:
		return "TEST"
	case p.Notification.SubscriptionNotification != nil:
		return "SUBSCRIPTION_" + strconv.Itoa(p.Notification.SubscriptionNotification.NotificationType)
	default:
		return "OTHER"
	}
}

func (p *GoogleNotificationParser) GetNotificationUUID(ctx context.Context) string {
	return p.MessageID
}

func (p *GoogleNotificationParser) GetKind(ctx context.Context) NotificationKind {
	switch {
	case p.Notification.TestNotification != nil:
		return KindTest
	case p.Notification.SubscriptionNotification != nil:
		return GoogleKind(p.Notification.SubscriptionNotification.NotificationType)
	default:
		return KindUnhandled
	}
}

func (p *GoogleNotificationParser) GetTransactionID(ctx context.Context) string {
	if p.Notification.SubscriptionNotification == nil {
		return ""
	}
	return p.Notification.SubscriptionNotification.PurchaseToken
}

func (p *GoogleNotificationParser) GetSubject(ctx context.Context) *validator.ValidatedPurchase {
	sn := p.Notification.SubscriptionNotification
	if sn == nil {
		return nil
	}
	return &validator.ValidatedPurchase{
		ProductID:     sn.SubscriptionID,
		PurchaseToken: sn.PurchaseToken,
	}
}

// GetPurchase looks the subscription up once; notifications carry no dates.
func (p *GoogleNotificationParser) GetPurchase(ctx context.Context) (*validator.ValidatedPurchase, error) {
	sn := p.Notification.SubscriptionNotification
	if sn == nil {
		return nil, fmt.Errorf("%w: notification carries no subscription", ErrMalformedNotification)
	}
	purchase, err := p.validator.Validate(ctx, &validator.PurchaseProof{
		Platform:      types.PlatformAndroid,
		ProductID:     sn.SubscriptionID,
		PurchaseToken: sn.PurchaseToken,
		PackageName:   p.Notification.PackageName,

		RequireVendorLookup: true,
	})
	if err != nil {
		return nil, fmt.Errorf("google play lookup: %w", err)
	}
	return purchase, nil
}

func (p *GoogleNotificationParser) GetRevocationTime(ctx context.Context) *time.Time {
	return nil
}

func (p *GoogleNotificationParser) GetData(ctx context.Context) any {
	return p.Notification
}

func GetGoogleNotificationParser(cfg *config.Config, v validator.Validator, body []byte, notificationTime time.Time) (NotificationParser, error) {
	if notificationTime.IsZero() {
		notificationTime = time.Now()
	}

	var push PubSubPushRequest
	if err := json.Unmarshal(body, &push); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if push.Message.Data == "" {
		return nil, fmt.Errorf("%w: message.data is empty", ErrMalformedNotification)
	}
	raw, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: message.data: %v", ErrMalformedNotification, err)
	}

	var notification DeveloperNotification
	if err := json.Unmarshal(raw, &notification); err != nil {
		return nil, fmt.Errorf("%w: developer notification: %v", ErrMalformedNotification, err)
	}
	if sn := notification.SubscriptionNotification; sn != nil && (sn.PurchaseToken == "" || sn.SubscriptionID == "") {
		return nil, fmt.Errorf("%w: purchaseToken and subscriptionId are required", ErrMalformedNotification)
	}
	if pkg := cfg.GooglePlay.PackageName; pkg != "" && notification.PackageName != pkg {
		return nil, fmt.Errorf("%w: package name %q does not match %q", ErrMalformedNotification, notification.PackageName, pkg)
	}

	return &GoogleNotificationParser{
		validator:        v,
		MessageID:        push.Message.MessageID,
		NotificationTime: notificationTime,
		Notification:     &notification,
	}, nil
}
