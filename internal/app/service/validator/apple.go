package validator

import (
	"context"
	"errors"

	"github.com/awa/go-iap/appstore"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/platform/apple/apple_iap"
	an "github.com/fatflowers/entitlement/internal/platform/apple/apple_notification"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/types"
)

// AppleValidator validates iOS signed transactions and legacy receipts.
type AppleValidator struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	decoder  *an.Decoder
	receipts *apple_iap.ReceiptClient
}

func NewAppleValidator(cfg *config.Config, log *zap.SugaredLogger, decoder *an.Decoder, receipts *apple_iap.ReceiptClient) *AppleValidator {
	return &AppleValidator{cfg: cfg, log: log, decoder: decoder, receipts: receipts}
}

func (v *AppleValidator) Validate(ctx context.Context, proof *PurchaseProof) (*ValidatedPurchase, error) {
	if proof.TransactionReceipt == "" {
		return nil, failure(nil, "missing transaction receipt")
	}
	if an.IsSignedToken(proof.TransactionReceipt) {
		return v.validateSignedTransaction(ctx, proof)
	}
	return v.validateReceipt(ctx, proof)
}

func (v *AppleValidator) validateSignedTransaction(ctx context.Context, proof *PurchaseProof) (*ValidatedPurchase, error) {
	log := logctx.FromCtx(ctx, v.log)

	info, err := v.decoder.DecodeTransaction(proof.TransactionReceipt)
	if err != nil {
		return nil, failure(err, "invalid signed transaction")
	}
	if v.cfg.AppleIAP.BundleID != "" && info.BundleID != v.cfg.AppleIAP.BundleID {
		return nil, failure(nil, "signed transaction belongs to bundle %q", info.BundleID)
	}
	if proof.TransactionID != "" && proof.TransactionID != info.TransactionID {
		log.Warnw("apple_transaction_id_mismatch", "client_transaction_id", proof.TransactionID, "signed_transaction_id", info.TransactionID)
	}

	env := types.EnvironmentProduction
	if info.Environment == an.EnvironmentSandbox {
		env = types.EnvironmentSandbox
	} else if !v.decoder.Verifies() {
		log.Warnw("apple_transaction_accepted_unverified",
			"transaction_id", info.TransactionID, "environment", info.Environment)
	}

	return &ValidatedPurchase{
		TransactionID:         info.TransactionID,
		OriginalTransactionID: info.OriginalTransactionID,
		ProductID:             firstNonEmpty(info.ProductID, proof.ProductID),
		ExpiresAt:             msToTime(info.ExpiresDate),
		PurchasedAt:           msToTime(info.PurchaseDate),
		Environment:           env,
		AppAccountToken:       info.AppAccountToken,
	}, nil
}

func (v *AppleValidator) validateReceipt(ctx context.Context, proof *PurchaseProof) (*ValidatedPurchase, error) {
	res, err := v.receipts.Verify(ctx, proof.TransactionReceipt)
	if err != nil {
		var se *apple_iap.StatusError
		if errors.As(err, &se) {
			return nil, failure(err, "%s", apple_iap.StatusMessage(se.Status))
		}
		return nil, failure(err, "could not reach the App Store")
	}

	item := pickReceiptItem(res.Response, proof.TransactionID)
	if item == nil {
		return nil, failure(nil, "receipt contains no purchases")
	}
	logctx.FromCtx(ctx, v.log).Infow("apple_receipt_verified",
		"environment", res.Environment, "transaction_id", item.TransactionID)

	return &ValidatedPurchase{
		TransactionID:         item.TransactionID,
		OriginalTransactionID: string(item.OriginalTransactionID),
		ProductID:             firstNonEmpty(item.ProductID, proof.ProductID),
		ExpiresAt:             apple_iap.ExpiresAt(item),
		PurchasedAt:           apple_iap.PurchasedAt(item),
		Environment:           res.Environment,
		AppAccountToken:       item.AppAccountToken,
	}, nil
}

// pickReceiptItem prefers the entry the client named, otherwise the furthest expiry.
func pickReceiptItem(resp *appstore.IAPResponse, transactionID string) *appstore.InApp {
	if transactionID != "" {
		if it := apple_iap.FindTransaction(resp, transactionID); it != nil {
			return it
		}
	}
	return apple_iap.Latest(resp)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
