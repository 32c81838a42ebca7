package notification_handler

import (
	"context"
	"errors"
	"time"

	"github.com/fatflowers/entitlement/internal/app/service/validator"
	"github.com/fatflowers/entitlement/pkg/types"
)

// ErrMalformedNotification marks payloads the vendor should not redeliver.
var ErrMalformedNotification = errors.New("malformed notification")

type NotificationParser interface {
	GetProvider(ctx context.Context) types.PaymentProvider
	GetPlatform(ctx context.Context) types.Platform
	GetNotificationTime(ctx context.Context) time.Time
	GetNotificationType(ctx context.Context) string
	// GetNotificationUUID is the vendor's delivery id used for replay de-duplication.
	GetNotificationUUID(ctx context.Context) string
	GetKind(ctx context.Context) NotificationKind
	GetTransactionID(ctx context.Context) string
	// GetSubject returns the identifiers used to resolve the account, without calling the vendor.
	GetSubject(ctx context.Context) *validator.ValidatedPurchase
	// GetPurchase returns the subject transaction with its dates. It may call the vendor.
	GetPurchase(ctx context.Context) (*validator.ValidatedPurchase, error)
	// GetRevocationTime is the vendor-supplied end of access for revoked kinds.
	GetRevocationTime(ctx context.Context) *time.Time
	GetData(ctx context.Context) any
}
