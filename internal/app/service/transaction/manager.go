package transaction

import (
	"context"
	"errors"
	"time"

	"github.com/fatflowers/entitlement/internal/app/service/identity"
	"github.com/fatflowers/entitlement/pkg/types"
)

var (
	// ErrMissingField means the request lacks a field its platform requires.
	ErrMissingField = errors.New("missing required field")
	// ErrUserNotFound means the session user has no account row.
	ErrUserNotFound = identity.ErrUserNotFound
)

type VerifyPurchaseRequest struct {
	Platform           types.Platform `json:"platform"`
	ProductID          string         `json:"productId"`
	TransactionID      string         `json:"transactionId"`
	TransactionReceipt string         `json:"transactionReceipt,omitempty"`
	PurchaseToken      string         `json:"purchaseToken,omitempty"`
	PackageName        string         `json:"packageName,omitempty"`
}

// VerifyPurchaseResult is returned with 200 both for accepted and vendor-rejected proofs.
type VerifyPurchaseResult struct {
	Success             bool                     `json:"success"`
	SubscriptionEndDate *time.Time               `json:"subscriptionEndDate,omitempty"`
	Environment         types.Environment        `json:"environment,omitempty"`
	ProductID           string                   `json:"productId,omitempty"`
	Status              types.SubscriptionStatus `json:"status,omitempty"`
	Error               string                   `json:"error,omitempty"`
}

// TransactionManager validates client purchase proofs and binds them to accounts.
type TransactionManager interface {
	// VerifyPurchase runs validator, identity guard and state store for the session user.
	VerifyPurchase(ctx context.Context, userID string, req *VerifyPurchaseRequest) (*VerifyPurchaseResult, error)
}
