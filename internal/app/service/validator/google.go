package validator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/platform/google/playstore"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/types"
)

const defaultSandboxDuration = 30 * 24 * time.Hour

// GoogleValidator validates Android subscription purchase tokens.
type GoogleValidator struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	client *playstore.Client
	now    func() time.Time
}

func NewGoogleValidator(cfg *config.Config, log *zap.SugaredLogger, client *playstore.Client) *GoogleValidator {
	return &GoogleValidator{cfg: cfg, log: log, client: client, now: time.Now}
}

func (v *GoogleValidator) Validate(ctx context.Context, proof *PurchaseProof) (*ValidatedPurchase, error) {
	log := logctx.FromCtx(ctx, v.log)
	if proof.PurchaseToken == "" {
		return nil, failure(nil, "missing purchase token")
	}

	strict := proof.RequireVendorLookup && v.cfg.IsProd()
	if !strict && IsSandboxToken(proof.PurchaseToken, !v.cfg.IsProd()) {
		log.Infow("google_sandbox_token_detected", "product_id", proof.ProductID)
		return v.sandboxPurchase(proof), nil
	}

	sub, err := v.client.GetSubscription(ctx, proof.PackageName, proof.ProductID, proof.PurchaseToken)
	if err != nil {
		var apiErr *playstore.APIError
		if errors.As(err, &apiErr) {
			if apiErr.PermissionDenied() && !strict && looksLikeShortTestToken(proof.PurchaseToken) {
				log.Warnw("google_permission_denied_treated_as_sandbox", "product_id", proof.ProductID)
				return v.sandboxPurchase(proof), nil
			}
			return nil, failure(nil, "Google Play validation failed: %s", apiErr.Body)
		}
		return nil, failure(err, "could not reach Google Play")
	}

	orderID := firstNonEmpty(sub.OrderID, proof.TransactionID, proof.PurchaseToken)
	return &ValidatedPurchase{
		TransactionID:         orderID,
		OriginalTransactionID: firstNonEmpty(sub.OriginalOrderID(), orderID),
		ProductID:             proof.ProductID,
		ExpiresAt:             sub.ExpiresAt(),
		PurchasedAt:           sub.StartedAt(),
		Environment:           types.EnvironmentProduction,
		PurchaseToken:         proof.PurchaseToken,
	}, nil
}

func (v *GoogleValidator) sandboxPurchase(proof *PurchaseProof) *ValidatedPurchase {
	id := firstNonEmpty(proof.TransactionID, proof.PurchaseToken)
	d := v.cfg.Subscription.AndroidSandboxDuration
	if d <= 0 {
		d = defaultSandboxDuration
	}
	now := v.now().UTC()
	expires := now.Add(d)
	return &ValidatedPurchase{
		TransactionID:         id,
		OriginalTransactionID: id,
		ProductID:             proof.ProductID,
		ExpiresAt:             &expires,
		PurchasedAt:           &now,
		Environment:           types.EnvironmentSandbox,
		PurchaseToken:         proof.PurchaseToken,
	}
}
