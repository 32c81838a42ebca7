package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/internal/app/service/validator"
	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/internal/platform/apple/apple_iap"
	"github.com/fatflowers/entitlement/pkg/logctx"
)

var (
	// ErrIdentityConflict means the purchase is already bound to another account.
	ErrIdentityConflict = errors.New("transaction is already linked to another account")
	// ErrNotFound means no account holds the transaction.
	ErrNotFound = errors.New("no user bound to transaction")
	// ErrUserNotFound means the session user has no account row.
	ErrUserNotFound = errors.New("user not found")
)

// Resolver maps vendor transactions to user accounts.
type Resolver struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewResolver(db *gorm.DB, log *zap.SugaredLogger) *Resolver {
	return &Resolver{db: db, log: log}
}

var Module = fx.Options(
	fx.Provide(NewResolver),
)

// lookup is one step of the priority-ordered search.
type lookup struct {
	column string
	value  string
}

// FindByTransaction tries, in order: original id against stored original id,
// transaction id against stored current id, original id against stored current id.
func (r *Resolver) FindByTransaction(ctx context.Context, transactionID, originalTransactionID string) (*models.User, error) {
	steps := []lookup{
		{"subscription_original_transaction_id", originalTransactionID},
		{"subscription_current_transaction_id", transactionID},
		{"subscription_current_transaction_id", originalTransactionID},
	}
	for _, step := range steps {
		if step.value == "" {
			continue
		}
		var u models.User
		err := r.db.WithContext(ctx).
			Where(step.column+" = ?", step.value).
			Order("updated_at desc").
			First(&u).Error
		if err == nil {
			return &u, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lookup user by %s: %w", step.column, err)
		}
	}
	return nil, ErrNotFound
}

// FindByPurchaseToken resolves an Android renewal handle.
func (r *Resolver) FindByPurchaseToken(ctx context.Context, purchaseToken string) (*models.User, error) {
	if purchaseToken == "" {
		return nil, ErrNotFound
	}
	var u models.User
	err := r.db.WithContext(ctx).Where("subscription_purchase_token = ?", purchaseToken).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user by purchase token: %w", err)
	}
	return &u, nil
}

// ResolveForWebhook returns the account a vendor notification refers to, or ErrNotFound.
func (r *Resolver) ResolveForWebhook(ctx context.Context, p *validator.ValidatedPurchase) (*models.User, error) {
	if p.PurchaseToken != "" {
		u, err := r.FindByPurchaseToken(ctx, p.PurchaseToken)
		if !errors.Is(err, ErrNotFound) {
			return u, err
		}
	}
	return r.FindByTransaction(ctx, p.TransactionID, p.OriginalTransactionID)
}

// ResolveForClient returns the session user after checking that the purchase
// is not already held by, or issued to, a different account.
func (r *Resolver) ResolveForClient(ctx context.Context, sessionUserID string, p *validator.ValidatedPurchase) (*models.User, error) {
	log := logctx.FromCtx(ctx, r.log)

	owner, err := r.FindByTransaction(ctx, p.TransactionID, p.OriginalTransactionID)
	switch {
	case err == nil && owner.ID != sessionUserID:
		log.Warnw("identity_conflict",
			"session_user_id", sessionUserID, "owner_user_id", owner.ID, "transaction_id", p.TransactionID)
		return nil, ErrIdentityConflict
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if p.PurchaseToken != "" {
		holder, err := r.FindByPurchaseToken(ctx, p.PurchaseToken)
		switch {
		case err == nil && holder.ID != sessionUserID:
			log.Warnw("identity_conflict",
				"session_user_id", sessionUserID, "owner_user_id", holder.ID, "transaction_id", p.TransactionID)
			return nil, ErrIdentityConflict
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	if p.AppAccountToken != "" {
		// tokens outside the user id scheme carry no account information
		if tokenUser, err := apple_iap.UUIDToUserID(p.AppAccountToken); err == nil && !strings.EqualFold(tokenUser, sessionUserID) {
			log.Warnw("identity_app_account_token_mismatch",
				"session_user_id", sessionUserID, "transaction_id", p.TransactionID)
			return nil, ErrIdentityConflict
		}
	}

	if owner != nil {
		return owner, nil
	}
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", sessionUserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load session user: %w", err)
	}
	return &u, nil
}
