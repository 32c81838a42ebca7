package identity

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/internal/app/service/validator"
	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/internal/platform/apple/apple_iap"
	"github.com/fatflowers/entitlement/internal/platform/db/dbtest"
	"github.com/fatflowers/entitlement/pkg/types"
)

func bind(t *testing.T, db *gorm.DB, userID, current, original string) {
	t.Helper()
	rec := map[string]any{"subscription_status": types.SubscriptionStatusTrial}
	if current != "" {
		rec["subscription_current_transaction_id"] = current
	}
	if original != "" {
		rec["subscription_original_transaction_id"] = original
	}
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", userID).Updates(rec).Error)
}

func TestFindByTransaction_Priority(t *testing.T) {
	db := dbtest.New(t)
	r := NewResolver(db, zap.NewNop().Sugar())
	dbtest.SeedUser(t, db, "a1")
	dbtest.SeedUser(t, db, "b2")
	dbtest.SeedUser(t, db, "c3")

	bind(t, db, "a1", "tx-a", "orig-1")
	bind(t, db, "b2", "tx-b", "")
	bind(t, db, "c3", "orig-2", "")

	u, err := r.FindByTransaction(t.Context(), "tx-b", "orig-1")
	require.NoError(t, err)
	require.Equal(t, "a1", u.ID, "stored original id wins over current id")

	u, err = r.FindByTransaction(t.Context(), "tx-b", "orig-unknown")
	require.NoError(t, err)
	require.Equal(t, "b2", u.ID)

	u, err = r.FindByTransaction(t.Context(), "tx-new", "orig-2")
	require.NoError(t, err)
	require.Equal(t, "c3", u.ID, "original id matched against stored current id")

	_, err = r.FindByTransaction(t.Context(), "nope", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveForClient_HijackGuard(t *testing.T) {
	db := dbtest.New(t)
	r := NewResolver(db, zap.NewNop().Sugar())
	dbtest.SeedUser(t, db, "a1")
	dbtest.SeedUser(t, db, "b2")
	bind(t, db, "a1", "tx-1", "orig-1")

	_, err := r.ResolveForClient(t.Context(), "b2", &validator.ValidatedPurchase{TransactionID: "tx-1", OriginalTransactionID: "orig-1"})
	require.ErrorIs(t, err, ErrIdentityConflict)

	_, err = r.ResolveForClient(t.Context(), "b2", &validator.ValidatedPurchase{TransactionID: "tx-2", OriginalTransactionID: "orig-1"})
	require.ErrorIs(t, err, ErrIdentityConflict, "renewal of a lineage owned by another account")

	u, err := r.ResolveForClient(t.Context(), "a1", &validator.ValidatedPurchase{TransactionID: "tx-2", OriginalTransactionID: "orig-1"})
	require.NoError(t, err)
	require.Equal(t, "a1", u.ID)
}

func TestResolveForClient_FallsBackToSessionUser(t *testing.T) {
	db := dbtest.New(t)
	r := NewResolver(db, zap.NewNop().Sugar())
	dbtest.SeedUser(t, db, "b2")

	u, err := r.ResolveForClient(t.Context(), "b2", &validator.ValidatedPurchase{TransactionID: "tx-9"})
	require.NoError(t, err)
	require.Equal(t, "b2", u.ID)

	_, err = r.ResolveForClient(t.Context(), "ghost", &validator.ValidatedPurchase{TransactionID: "tx-10"})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestResolveForClient_AppAccountToken(t *testing.T) {
	db := dbtest.New(t)
	r := NewResolver(db, zap.NewNop().Sugar())
	dbtest.SeedUser(t, db, "a1")
	dbtest.SeedUser(t, db, "b2")

	tokenForA, err := apple_iap.UserIDToUUID("a1")
	require.NoError(t, err)

	_, err = r.ResolveForClient(t.Context(), "b2", &validator.ValidatedPurchase{TransactionID: "tx-1", AppAccountToken: tokenForA})
	require.ErrorIs(t, err, ErrIdentityConflict)

	u, err := r.ResolveForClient(t.Context(), "a1", &validator.ValidatedPurchase{TransactionID: "tx-1", AppAccountToken: tokenForA})
	require.NoError(t, err)
	require.Equal(t, "a1", u.ID)

	u, err = r.ResolveForClient(t.Context(), "b2", &validator.ValidatedPurchase{TransactionID: "tx-2", AppAccountToken: "4b825dc6-5f3b-4f8e-b9d6-4f4f2d8c1122"})
	require.NoError(t, err)
	require.Equal(t, "b2", u.ID)
}

func TestResolveForWebhook_PurchaseTokenFirst(t *testing.T) {
	db := dbtest.New(t)
	r := NewResolver(db, zap.NewNop().Sugar())
	dbtest.SeedUser(t, db, "a1")
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", "a1").
		Update("subscription_purchase_token", lo.ToPtr("play-token")).Error)

	u, err := r.ResolveForWebhook(t.Context(), &validator.ValidatedPurchase{PurchaseToken: "play-token", TransactionID: "GPA.1"})
	require.NoError(t, err)
	require.Equal(t, "a1", u.ID)

	_, err = r.ResolveForWebhook(t.Context(), &validator.ValidatedPurchase{PurchaseToken: "other", TransactionID: "GPA.2"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveForClient_PurchaseTokenHeldElsewhere(t *testing.T) {
	db := dbtest.New(t)
	r := NewResolver(db, zap.NewNop().Sugar())
	dbtest.SeedUser(t, db, "a1")
	dbtest.SeedUser(t, db, "b2")
	const token = "GPA.1111-2222-3333-44444"
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", "a1").
		Updates(map[string]any{
			"subscription_current_transaction_id": "orderA",
			"subscription_purchase_token":         token,
		}).Error)

	_, err := r.ResolveForClient(t.Context(), "b2", &validator.ValidatedPurchase{TransactionID: "orderB", PurchaseToken: token})
	require.ErrorIs(t, err, ErrIdentityConflict)

	u, err := r.ResolveForClient(t.Context(), "a1", &validator.ValidatedPurchase{TransactionID: "orderA", PurchaseToken: token})
	require.NoError(t, err)
	require.Equal(t, "a1", u.ID)

	u, err = r.ResolveForClient(t.Context(), "b2", &validator.ValidatedPurchase{TransactionID: "orderC", PurchaseToken: "GPA.9999"})
	require.NoError(t, err)
	require.Equal(t, "b2", u.ID)
}
