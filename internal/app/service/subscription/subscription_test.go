package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/internal/app/service/identity"
	"github.com/fatflowers/entitlement/internal/app/service/validator"
	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/internal/platform/db/dbtest"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/types"
)

var now = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

type notification struct {
	userID string
	from   types.SubscriptionStatus
	to     types.SubscriptionStatus
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (r *recordingNotifier) SubscriptionChanged(_ context.Context, user *models.User, before, after *models.SubscriptionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notification{userID: user.ID, from: before.Status, to: after.Status})
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newService(t *testing.T) (*Service, *gorm.DB, *recordingNotifier) {
	t.Helper()
	db := dbtest.New(t)
	n := &recordingNotifier{}
	cfg := &config.Config{Subscription: config.SubscriptionConfig{TrialDuration: 72 * time.Hour, UpdateRetries: 3}}
	s := NewService(cfg, db, zap.NewNop().Sugar(), n)
	s.now = func() time.Time { return now }
	return s, db, n
}

func purchase(tx, orig string, expires time.Time) *validator.ValidatedPurchase {
	return &validator.ValidatedPurchase{
		TransactionID:         tx,
		OriginalTransactionID: orig,
		ProductID:             "pro.monthly",
		ExpiresAt:             lo.ToPtr(expires),
		Environment:           types.EnvironmentSandbox,
	}
}

func record(t *testing.T, s *Service, userID string) models.SubscriptionRecord {
	t.Helper()
	u, err := s.Get(t.Context(), userID)
	require.NoError(t, err)
	return u.Subscription
}

func TestApplyClientValidation_OpensTrial(t *testing.T) {
	s, db, n := newService(t)
	dbtest.SeedUser(t, db, "a1")

	c, err := s.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, purchase("tx-1", "", now.Add(30*24*time.Hour)))
	require.NoError(t, err)
	require.True(t, c.Changed)

	rec := record(t, s, "a1")
	require.Equal(t, types.SubscriptionStatusTrial, rec.Status)
	require.True(t, now.Add(72*time.Hour).Equal(*rec.EndDate))
	require.True(t, now.Equal(*rec.StartDate))
	require.Equal(t, "tx-1", *rec.CurrentTransactionID)
	require.Equal(t, "tx-1", *rec.OriginalTransactionID, "original id falls back to the transaction id")
	require.Equal(t, types.PlatformIOS, rec.Platform)
	require.Equal(t, "pro.monthly", rec.Plan)
	require.Equal(t, int64(1), rec.Version)
	require.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestApplyClientValidation_NeverDowngradesActive(t *testing.T) {
	s, db, _ := newService(t)
	dbtest.SeedUser(t, db, "a1")
	end := now.Add(20 * 24 * time.Hour)

	_, err := s.ApplyRenewal(t.Context(), "a1", types.PlatformIOS, purchase("tx-1", "orig-1", end))
	require.NoError(t, err)
	_, err = s.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, purchase("tx-2", "orig-2", end))
	require.NoError(t, err)

	rec := record(t, s, "a1")
	require.Equal(t, types.SubscriptionStatusActive, rec.Status)
	require.True(t, end.Equal(*rec.EndDate))
	require.Equal(t, "tx-2", *rec.CurrentTransactionID)
	require.Equal(t, "orig-1", *rec.OriginalTransactionID)
}

func TestTrialThenRenewThenRefund(t *testing.T) {
	s, db, n := newService(t)
	dbtest.SeedUser(t, db, "a1")
	vendorEnd := now.Add(30 * 24 * time.Hour)

	_, err := s.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, purchase("tx-1", "orig-1", vendorEnd))
	require.NoError(t, err)

	_, err = s.ApplyRenewal(t.Context(), "a1", types.PlatformIOS, purchase("tx-2", "orig-1", vendorEnd))
	require.NoError(t, err)
	rec := record(t, s, "a1")
	require.Equal(t, types.SubscriptionStatusActive, rec.Status)
	require.True(t, vendorEnd.Equal(*rec.EndDate))
	require.Equal(t, "orig-1", *rec.OriginalTransactionID)
	require.Equal(t, "tx-2", *rec.CurrentTransactionID)

	_, err = s.ApplyRevocation(t.Context(), "a1", nil)
	require.NoError(t, err)
	rec = record(t, s, "a1")
	require.Equal(t, types.SubscriptionStatusCancelled, rec.Status)
	require.True(t, now.Equal(*rec.EndDate))
	require.Eventually(t, func() bool { return n.count() == 3 }, time.Second, 10*time.Millisecond)
}

func TestApplyRenewal_ActivatesFromAnyStatus(t *testing.T) {
	for _, from := range []types.SubscriptionStatus{
		types.SubscriptionStatusExpired,
		types.SubscriptionStatusCancelled,
		types.SubscriptionStatusTrial,
	} {
		t.Run(string(from), func(t *testing.T) {
			s, db, _ := newService(t)
			dbtest.SeedUser(t, db, "a1")
			_, err := s.Recover(t.Context(), "a1", from, lo.ToPtr(now.Add(-time.Hour)), "test")
			require.NoError(t, err)

			_, err = s.ApplyRenewal(t.Context(), "a1", types.PlatformIOS, purchase("tx-9", "orig-9", now.Add(24*time.Hour)))
			require.NoError(t, err)
			require.Equal(t, types.SubscriptionStatusActive, record(t, s, "a1").Status)
		})
	}
}

func TestApplyRenewal_OlderNotificationKeepsLaterEnd(t *testing.T) {
	s, db, _ := newService(t)
	dbtest.SeedUser(t, db, "a1")
	later := now.Add(60 * 24 * time.Hour)

	_, err := s.ApplyRenewal(t.Context(), "a1", types.PlatformIOS, purchase("tx-3", "orig-1", later))
	require.NoError(t, err)
	c, err := s.ApplyRenewal(t.Context(), "a1", types.PlatformIOS, purchase("tx-3", "orig-1", now.Add(30*24*time.Hour)))
	require.NoError(t, err)
	require.False(t, c.Changed)
	require.True(t, later.Equal(*record(t, s, "a1").EndDate))
}

func TestReplayIsIdempotent(t *testing.T) {
	s, db, _ := newService(t)
	dbtest.SeedUser(t, db, "a1")
	p := purchase("tx-1", "orig-1", now.Add(30*24*time.Hour))

	_, err := s.ApplyRenewal(t.Context(), "a1", types.PlatformIOS, p)
	require.NoError(t, err)
	first := record(t, s, "a1")

	for i := 0; i < 3; i++ {
		c, err := s.ApplyRenewal(t.Context(), "a1", types.PlatformIOS, p)
		require.NoError(t, err)
		require.False(t, c.Changed)
	}
	again := record(t, s, "a1")
	require.Equal(t, first.Status, again.Status)
	require.True(t, first.EndDate.Equal(*again.EndDate))
	require.Equal(t, first.Version, again.Version)

	_, err = s.ApplyRevocation(t.Context(), "a1", nil)
	require.NoError(t, err)
	cancelled := record(t, s, "a1")

	s.now = func() time.Time { return now.Add(time.Hour) }
	c, err := s.ApplyRevocation(t.Context(), "a1", nil)
	require.NoError(t, err)
	require.False(t, c.Changed)
	require.True(t, cancelled.EndDate.Equal(*record(t, s, "a1").EndDate), "replayed refund keeps the first end date")
}

func TestApplyPurchase_FreeKeepsStatus(t *testing.T) {
	s, db, _ := newService(t)
	dbtest.SeedUser(t, db, "a1")

	_, err := s.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, purchase("tx-1", "orig-1", now))
	require.NoError(t, err)
	_, err = s.ApplyPurchase(t.Context(), "a1", types.PlatformIOS, purchase("tx-2", "orig-other", now.Add(time.Hour)), false)
	require.NoError(t, err)

	rec := record(t, s, "a1")
	require.Equal(t, types.SubscriptionStatusTrial, rec.Status)
	require.Equal(t, "tx-2", *rec.CurrentTransactionID)
	require.Equal(t, "orig-1", *rec.OriginalTransactionID, "original id is never overwritten")

	_, err = s.ApplyPurchase(t.Context(), "a1", types.PlatformIOS, purchase("tx-3", "orig-1", now.Add(time.Hour)), true)
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusActive, record(t, s, "a1").Status)
}

func TestApplyExpiration(t *testing.T) {
	s, db, _ := newService(t)
	dbtest.SeedUser(t, db, "a1")
	current := now.Add(30 * 24 * time.Hour)

	_, err := s.ApplyRenewal(t.Context(), "a1", types.PlatformIOS, purchase("tx-2", "orig-1", current))
	require.NoError(t, err)

	c, err := s.ApplyExpiration(t.Context(), "a1", purchase("tx-1", "orig-1", now.Add(-time.Hour)))
	require.NoError(t, err)
	require.False(t, c.Changed, "expiry of a superseded period")

	_, err = s.ApplyExpiration(t.Context(), "a1", purchase("tx-2", "orig-1", current))
	require.NoError(t, err)
	rec := record(t, s, "a1")
	require.Equal(t, types.SubscriptionStatusExpired, rec.Status)
	require.True(t, current.Equal(*rec.EndDate))
}

func TestExpirationDoesNotReviveCancelled(t *testing.T) {
	s, db, _ := newService(t)
	dbtest.SeedUser(t, db, "a1")

	_, err := s.ApplyRevocation(t.Context(), "a1", lo.ToPtr(now.Add(-time.Hour)))
	require.NoError(t, err)
	c, err := s.ApplyExpiration(t.Context(), "a1", purchase("tx-1", "orig-1", now))
	require.NoError(t, err)
	require.False(t, c.Changed)
	require.Equal(t, types.SubscriptionStatusCancelled, record(t, s, "a1").Status)
}

func TestRefundAfterExpirationCancels(t *testing.T) {
	s, db, _ := newService(t)
	dbtest.SeedUser(t, db, "a1")
	ended := now.Add(-24 * time.Hour)

	_, err := s.ApplyRenewal(t.Context(), "a1", types.PlatformIOS, purchase("tx-1", "orig-1", ended))
	require.NoError(t, err)
	_, err = s.ApplyExpiration(t.Context(), "a1", purchase("tx-1", "orig-1", ended))
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusExpired, record(t, s, "a1").Status)

	c, err := s.ApplyRevocation(t.Context(), "a1", nil)
	require.NoError(t, err)
	require.True(t, c.Changed)
	rec := record(t, s, "a1")
	require.Equal(t, types.SubscriptionStatusCancelled, rec.Status)
	require.True(t, ended.Equal(*rec.EndDate), "refund after expiry keeps the earlier end")
}

func TestEndDateNeverBeforeStartDate(t *testing.T) {
	s, db, _ := newService(t)
	dbtest.SeedUser(t, db, "a1")

	_, err := s.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, purchase("tx-1", "", now))
	require.NoError(t, err)
	_, err = s.ApplyRevocation(t.Context(), "a1", lo.ToPtr(now.Add(-48*time.Hour)))
	require.NoError(t, err)

	rec := record(t, s, "a1")
	require.False(t, rec.EndDate.Before(*rec.StartDate))
}

func TestTransactionBoundToOneUser(t *testing.T) {
	s, db, _ := newService(t)
	dbtest.SeedUser(t, db, "a1")
	dbtest.SeedUser(t, db, "b2")

	_, err := s.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, purchase("tx-1", "", now))
	require.NoError(t, err)
	_, err = s.ApplyClientValidation(t.Context(), "b2", types.PlatformIOS, purchase("tx-1", "", now))
	require.ErrorIs(t, err, identity.ErrIdentityConflict)

	require.Equal(t, types.SubscriptionStatusNone, record(t, s, "b2").Status)
}

func TestMutate_RetriesOnVersionConflict(t *testing.T) {
	s, db, _ := newService(t)
	dbtest.SeedUser(t, db, "a1")

	raced := false
	c, err := s.mutate(t.Context(), "a1", types.SubscriptionChangeReasonRecovery, func(_ *zap.SugaredLogger, rec *models.SubscriptionRecord, _ time.Time) {
		if !raced {
			raced = true
			require.NoError(t, db.Model(&models.User{}).Where("id = ?", "a1").
				Update("subscription_version", gorm.Expr("subscription_version + 1")).Error)
		}
		rec.Status = types.SubscriptionStatusExpired
	})
	require.NoError(t, err)
	require.True(t, c.Changed)
	require.Equal(t, int64(2), record(t, s, "a1").Version)
}

func TestMutate_GivesUpAfterRetries(t *testing.T) {
	s, db, _ := newService(t)
	dbtest.SeedUser(t, db, "a1")

	_, err := s.mutate(t.Context(), "a1", types.SubscriptionChangeReasonRecovery, func(_ *zap.SugaredLogger, rec *models.SubscriptionRecord, _ time.Time) {
		require.NoError(t, db.Model(&models.User{}).Where("id = ?", "a1").
			Update("subscription_version", gorm.Expr("subscription_version + 1")).Error)
		rec.Status = types.SubscriptionStatusExpired
	})
	require.ErrorIs(t, err, ErrConcurrentUpdate)
}

func TestGet_UnknownUser(t *testing.T) {
	s, _, _ := newService(t)
	_, err := s.ApplyRenewal(t.Context(), "ghost", types.PlatformIOS, purchase("tx", "", now))
	require.ErrorIs(t, err, identity.ErrUserNotFound)
}
