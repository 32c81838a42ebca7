package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatflowers/entitlement/pkg/types"
)

// ErrValidationFailure is matched by every error a validator returns for a rejected proof.
var ErrValidationFailure = errors.New("purchase validation failed")

// ValidationError carries the client-facing reason of a rejected proof.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailure }

func failure(err error, format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...), Err: err}
}

// PurchaseProof is the raw purchase evidence sent by a client right after buying.
type PurchaseProof struct {
	Platform      types.Platform
	ProductID     string
	TransactionID string
	// TransactionReceipt is an iOS signed transaction (JWS) or a legacy base64 receipt.
	TransactionReceipt string
	// PurchaseToken and PackageName identify an Android subscription.
	PurchaseToken string
	PackageName   string
	// RequireVendorLookup disables the tester-token shortcuts in production.
	// Proofs lifted from unauthenticated notifications set it.
	RequireVendorLookup bool
}

// ValidatedPurchase is the vendor-neutral result of a successful validation.
type ValidatedPurchase struct {
	TransactionID         string            `json:"transactionId"`
	OriginalTransactionID string            `json:"originalTransactionId"`
	ProductID             string            `json:"productId"`
	ExpiresAt             *time.Time        `json:"expiresAt"`
	PurchasedAt           *time.Time        `json:"purchasedAt,omitempty"`
	Environment           types.Environment `json:"environment"`
	// AppAccountToken is the iOS purchase-time account binding, when present.
	AppAccountToken string `json:"appAccountToken,omitempty"`
	// PurchaseToken is the Android renewal handle.
	PurchaseToken string `json:"purchaseToken,omitempty"`
}

// Validator turns a raw proof into a ValidatedPurchase.
type Validator interface {
	Validate(ctx context.Context, proof *PurchaseProof) (*ValidatedPurchase, error)
}

// Service selects the platform validator for a proof.
type Service struct {
	apple  Validator
	google Validator
}

func NewService(apple *AppleValidator, google *GoogleValidator) Validator {
	return &Service{apple: apple, google: google}
}

func (s *Service) Validate(ctx context.Context, proof *PurchaseProof) (*ValidatedPurchase, error) {
	if proof == nil {
		return nil, failure(nil, "empty purchase proof")
	}
	switch proof.Platform {
	case types.PlatformIOS:
		return s.apple.Validate(ctx, proof)
	case types.PlatformAndroid:
		return s.google.Validate(ctx, proof)
	default:
		return nil, failure(nil, "unsupported platform: %s", proof.Platform)
	}
}

func msToTime(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
