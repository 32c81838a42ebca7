package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/app/service/identity"
	notificationlog "github.com/fatflowers/entitlement/internal/app/service/notification_log"
	"github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/app/service/validator"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/metrics"
	"github.com/fatflowers/entitlement/pkg/types"
)

const clientValidationType = "CLIENT_VALIDATION"

type Service struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	validator validator.Validator
	resolver  *identity.Resolver
	subSvc    *subscription.Service
	notifSvc  *notificationlog.Service
}

func NewService(
	cfg *config.Config,
	log *zap.SugaredLogger,
	v validator.Validator,
	resolver *identity.Resolver,
	sub *subscription.Service,
	notif *notificationlog.Service,
) TransactionManager {
	return &Service{cfg: cfg, log: log, validator: v, resolver: resolver, subSvc: sub, notifSvc: notif}
}

func (s *Service) proof(req *VerifyPurchaseRequest) (*validator.PurchaseProof, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: body", ErrMissingField)
	}
	proof := &validator.PurchaseProof{
		Platform:           req.Platform,
		ProductID:          strings.TrimSpace(req.ProductID),
		TransactionID:      strings.TrimSpace(req.TransactionID),
		TransactionReceipt: strings.TrimSpace(req.TransactionReceipt),
		PurchaseToken:      strings.TrimSpace(req.PurchaseToken),
		PackageName:        strings.TrimSpace(req.PackageName),
	}
	switch req.Platform {
	case types.PlatformIOS:
		if proof.TransactionReceipt == "" {
			return nil, fmt.Errorf("%w: transactionReceipt", ErrMissingField)
		}
	case types.PlatformAndroid:
		if proof.PurchaseToken == "" {
			return nil, fmt.Errorf("%w: purchaseToken", ErrMissingField)
		}
		if proof.ProductID == "" {
			return nil, fmt.Errorf("%w: productId", ErrMissingField)
		}
		if proof.PackageName == "" {
			proof.PackageName = s.cfg.GooglePlay.PackageName
		}
	case "":
		return nil, fmt.Errorf("%w: platform", ErrMissingField)
	default:
		return nil, fmt.Errorf("%w: unsupported platform %q", ErrMissingField, req.Platform)
	}
	return proof, nil
}

// VerifyPurchase validates the proof with the vendor, checks it is not held by
// another account and opens a trial window. Vendor rejections are reported in
// the result, not as an error.
func (s *Service) VerifyPurchase(ctx context.Context, userID string, req *VerifyPurchaseRequest) (res *VerifyPurchaseResult, resErr error) {
	proof, err := s.proof(req)
	if err != nil {
		return nil, err
	}
	log := logctx.FromCtx(ctx, s.log).With(
		"user_id", userID,
		"platform", proof.Platform,
		"product_id", proof.ProductID,
		"transaction_id", proof.TransactionID,
	)
	ctx = logctx.WithLogger(ctx, log)

	provider := types.ProviderForPlatform(proof.Platform)
	received := s.notifSvc.Received(ctx, string(provider), proof.TransactionID, clientValidationType, "", time.Time{}, req)
	env := "unknown"
	defer func() {
		outcome := metrics.OutcomeSuccess
		switch {
		case errors.Is(resErr, identity.ErrIdentityConflict):
			outcome = metrics.OutcomeConflict
		case errors.Is(resErr, ErrUserNotFound):
			outcome = metrics.OutcomeNotFound
		case resErr != nil:
			outcome = metrics.OutcomeError
		case res != nil && !res.Success:
			outcome = metrics.OutcomeRejected
		}
		s.notifSvc.Finish(ctx, received, userID, outcome, res, resErr)
		metrics.PurchaseValidations.WithLabelValues(string(proof.Platform), env, outcome).Inc()
	}()

	purchase, err := s.validator.Validate(ctx, proof)
	if err != nil {
		// network failures are wrapped as validation failures by the validators
		if !errors.Is(err, validator.ErrValidationFailure) {
			return nil, fmt.Errorf("failed to validate purchase: %w", err)
		}
		log.Warnw("purchase_validation_rejected", "error", err)
		return &VerifyPurchaseResult{Success: false, ProductID: proof.ProductID, Error: err.Error()}, nil
	}
	env = string(purchase.Environment)
	if purchase.ProductID == "" {
		purchase.ProductID = proof.ProductID
	}
	if purchase.PurchaseToken == "" {
		purchase.PurchaseToken = proof.PurchaseToken
	}

	user, err := s.resolver.ResolveForClient(ctx, userID, purchase)
	if err != nil {
		return nil, err
	}

	ctx = subscription.WithTrigger(ctx, "client", clientValidationType)
	change, err := s.subSvc.ApplyClientValidation(ctx, user.ID, proof.Platform, purchase)
	if err != nil {
		return nil, err
	}

	log.Infow("purchase_validated",
		"environment", purchase.Environment,
		"original_transaction_id", purchase.OriginalTransactionID,
		"status", change.After.Status,
		"end_date", change.After.EndDate,
	)
	return &VerifyPurchaseResult{
		Success:             true,
		SubscriptionEndDate: change.After.EndDate,
		Environment:         purchase.Environment,
		ProductID:           purchase.ProductID,
		Status:              change.After.Status,
	}, nil
}
