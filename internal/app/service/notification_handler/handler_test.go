package notification_handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/internal/app/service/identity"
	notificationlog "github.com/fatflowers/entitlement/internal/app/service/notification_log"
	"github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/app/service/validator"
	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/internal/platform/apple/apple_notification"
	"github.com/fatflowers/entitlement/internal/platform/apple/apple_notification/jwstest"
	"github.com/fatflowers/entitlement/internal/platform/db/dbtest"
	"github.com/fatflowers/entitlement/internal/platform/google/playstore"
	"github.com/fatflowers/entitlement/internal/platform/google/playstore/playtest"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/types"
)

type stubValidator struct {
	purchase *validator.ValidatedPurchase
	err      error
	calls    int
	last     *validator.PurchaseProof
}

func (s *stubValidator) Validate(_ context.Context, proof *validator.PurchaseProof) (*validator.ValidatedPurchase, error) {
	s.calls++
	s.last = proof
	if s.err != nil {
		return nil, s.err
	}
	p := *s.purchase
	p.PurchaseToken = proof.PurchaseToken
	return &p, nil
}

type fixture struct {
	h     *NotificationHandler
	db    *gorm.DB
	sub   *subscription.Service
	redis *miniredis.Miniredis
	play  *stubValidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Subscription: config.SubscriptionConfig{TrialDuration: 72 * time.Hour, UpdateRetries: 3},
		Webhook:      config.WebhookConfig{DedupTTL: time.Hour},
	}
	log := zap.NewNop().Sugar()
	db := dbtest.New(t)
	decoder, err := apple_notification.NewDecoder(apple_notification.DecoderOptions{})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	play := &stubValidator{}
	sub := subscription.NewService(cfg, db, log, nil)
	h := NewNotificationHandler(cfg, decoder, play, identity.NewResolver(db, log), sub,
		notificationlog.New(db, log), NewDeduper(cfg, client), log)
	return &fixture{h: h, db: db, sub: sub, redis: mr, play: play}
}

func (f *fixture) record(t *testing.T, userID string) models.SubscriptionRecord {
	t.Helper()
	u, err := f.sub.Get(t.Context(), userID)
	require.NoError(t, err)
	return u.Subscription
}

func expiry(d time.Duration) time.Time {
	return time.Now().Add(d).UTC().Truncate(time.Millisecond)
}

func appleBody(t *testing.T, notificationType, uuid string, info *apple_notification.TransactionInfo) []byte {
	t.Helper()
	payload := &apple_notification.NotificationPayload{
		NotificationType: notificationType,
		NotificationUUID: uuid,
		Data: apple_notification.NotificationData{
			BundleID:              "com.example.app",
			Environment:           apple_notification.EnvironmentSandbox,
			SignedTransactionInfo: jwstest.Unsigned(t, info),
		},
	}
	body, err := json.Marshal(apple_notification.AppStoreServerRequest{SignedPayload: jwstest.Unsigned(t, payload)})
	require.NoError(t, err)
	return body
}

func txInfo(tx, orig string, expires time.Time) *apple_notification.TransactionInfo {
	return &apple_notification.TransactionInfo{
		TransactionID:         tx,
		OriginalTransactionID: orig,
		ProductID:             "pro.monthly",
		BundleID:              "com.example.app",
		PurchaseDate:          time.Now().Add(-time.Minute).UnixMilli(),
		ExpiresDate:           expires.UnixMilli(),
		Environment:           apple_notification.EnvironmentSandbox,
		Currency:              "USD",
		Price:                 9990,
	}
}

func TestApple_TrialRenewRefund(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedUser(t, f.db, "a1")

	_, err := f.sub.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, &validator.ValidatedPurchase{
		TransactionID: "2000000100", OriginalTransactionID: "2000000100", ProductID: "pro.monthly",
	})
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusTrial, f.record(t, "a1").Status)

	vendorEnd := expiry(30 * 24 * time.Hour)
	res, err := f.h.HandleNotification(t.Context(), types.PaymentProviderApple,
		appleBody(t, "DID_RENEW", "uuid-renew", txInfo("2000000111", "2000000100", vendorEnd)))
	require.NoError(t, err)
	require.Equal(t, KindRenewed, res.Kind)
	require.Equal(t, "a1", res.UserID)

	rec := f.record(t, "a1")
	require.Equal(t, types.SubscriptionStatusActive, rec.Status)
	require.True(t, vendorEnd.Equal(*rec.EndDate))
	require.Equal(t, "2000000100", *rec.OriginalTransactionID)
	require.Equal(t, "2000000111", *rec.CurrentTransactionID)

	refund := txInfo("2000000111", "2000000100", vendorEnd)
	revokedAt := time.Now().UTC().Truncate(time.Millisecond)
	refund.RevocationDate = revokedAt.UnixMilli()
	_, err = f.h.HandleNotification(t.Context(), types.PaymentProviderApple, appleBody(t, "REFUND", "uuid-refund", refund))
	require.NoError(t, err)

	rec = f.record(t, "a1")
	require.Equal(t, types.SubscriptionStatusCancelled, rec.Status)
	require.True(t, revokedAt.Equal(*rec.EndDate))
}

func TestApple_ReplayIsAcknowledgedOnce(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedUser(t, f.db, "a1")
	_, err := f.sub.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, &validator.ValidatedPurchase{
		TransactionID: "tx-1", OriginalTransactionID: "orig-1",
	})
	require.NoError(t, err)

	body := appleBody(t, "DID_RENEW", "uuid-1", txInfo("tx-2", "orig-1", expiry(24*time.Hour)))
	first, err := f.h.HandleNotification(t.Context(), types.PaymentProviderApple, body)
	require.NoError(t, err)
	require.Equal(t, "success", first.Outcome)
	after := f.record(t, "a1")

	second, err := f.h.HandleNotification(t.Context(), types.PaymentProviderApple, body)
	require.NoError(t, err)
	require.Equal(t, "duplicate", second.Outcome)
	require.True(t, f.redis.Exists("webhook:apple:uuid-1"))

	again := f.record(t, "a1")
	require.Equal(t, after.Version, again.Version)
	require.True(t, after.EndDate.Equal(*again.EndDate))
}

func TestApple_ReplayWithoutRedisIsStillIdempotent(t *testing.T) {
	f := newFixture(t)
	f.h.dedup = NewDeduper(&config.Config{}, nil)
	dbtest.SeedUser(t, f.db, "a1")
	_, err := f.sub.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, &validator.ValidatedPurchase{
		TransactionID: "tx-1", OriginalTransactionID: "orig-1",
	})
	require.NoError(t, err)

	body := appleBody(t, "EXPIRED", "uuid-2", txInfo("tx-1", "orig-1", expiry(-time.Hour)))
	first, err := f.h.HandleNotification(t.Context(), types.PaymentProviderApple, body)
	require.NoError(t, err)
	require.True(t, first.Changed)
	after := f.record(t, "a1")
	require.Equal(t, types.SubscriptionStatusExpired, after.Status)

	second, err := f.h.HandleNotification(t.Context(), types.PaymentProviderApple, body)
	require.NoError(t, err)
	require.False(t, second.Changed)
	require.Equal(t, after.Version, f.record(t, "a1").Version)
}

func TestApple_UnknownUserIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	res, err := f.h.HandleNotification(t.Context(), types.PaymentProviderApple,
		appleBody(t, "DID_RENEW", "uuid-3", txInfo("tx-x", "orig-x", expiry(time.Hour))))
	require.NoError(t, err)
	require.Equal(t, "not_found", res.Outcome)
}

func TestApple_LogOnlyKinds(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedUser(t, f.db, "a1")
	_, err := f.sub.ApplyRenewal(t.Context(), "a1", types.PlatformIOS, &validator.ValidatedPurchase{
		TransactionID: "tx-1", OriginalTransactionID: "orig-1", ExpiresAt: ptr(expiry(time.Hour)),
	})
	require.NoError(t, err)
	before := f.record(t, "a1")

	for i, typ := range []string{"DID_CHANGE_RENEWAL_STATUS", "DID_FAIL_TO_RENEW", "PRICE_INCREASE"} {
		res, err := f.h.HandleNotification(t.Context(), types.PaymentProviderApple,
			appleBody(t, typ, "uuid-log-"+string(rune('a'+i)), txInfo("tx-1", "orig-1", expiry(time.Hour))))
		require.NoError(t, err)
		require.Equal(t, "ignored", res.Outcome)
	}
	require.Equal(t, before.Version, f.record(t, "a1").Version)
}

func TestApple_FreePurchaseStoresIdsOnly(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedUser(t, f.db, "a1")
	_, err := f.sub.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, &validator.ValidatedPurchase{
		TransactionID: "tx-1", OriginalTransactionID: "orig-1",
	})
	require.NoError(t, err)

	free := txInfo("tx-2", "orig-1", expiry(7*24*time.Hour))
	free.OfferDiscountType = apple_notification.OfferDiscountTypeFreeTrial
	free.Price = 0
	res, err := f.h.HandleNotification(t.Context(), types.PaymentProviderApple, appleBody(t, "SUBSCRIBED", "uuid-free", free))
	require.NoError(t, err)
	require.Equal(t, KindPurchaseFree, res.Kind)

	rec := f.record(t, "a1")
	require.Equal(t, types.SubscriptionStatusTrial, rec.Status)
	require.Equal(t, "tx-2", *rec.CurrentTransactionID)

	_, err = f.h.HandleNotification(t.Context(), types.PaymentProviderApple,
		appleBody(t, "SUBSCRIBED", "uuid-paid", txInfo("tx-3", "orig-1", expiry(30*24*time.Hour))))
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusActive, f.record(t, "a1").Status)
}

func TestApple_DirectNotificationObject(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedUser(t, f.db, "a1")
	_, err := f.sub.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, &validator.ValidatedPurchase{
		TransactionID: "tx-1", OriginalTransactionID: "orig-1",
	})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"notificationType": "DID_RECOVER",
		"notificationUUID": "uuid-direct",
		"data": map[string]any{
			"signedTransactionInfo": jwstest.Unsigned(t, txInfo("tx-2", "orig-1", expiry(time.Hour))),
		},
	})
	require.NoError(t, err)
	_, err = f.h.HandleNotification(t.Context(), types.PaymentProviderApple, body)
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusActive, f.record(t, "a1").Status)
}

func TestApple_VerifyingDecoderRequiresSignedPayload(t *testing.T) {
	f := newFixture(t)
	chain := jwstest.NewChain(t)
	decoder, err := apple_notification.NewDecoder(apple_notification.DecoderOptions{VerifySignatures: true, RootCertPEM: chain.RootPEM})
	require.NoError(t, err)
	f.h.decoder = decoder

	dbtest.SeedUser(t, f.db, "a1")
	_, err = f.sub.ApplyClientValidation(t.Context(), "a1", types.PlatformIOS, &validator.ValidatedPurchase{
		TransactionID: "tx-1", OriginalTransactionID: "orig-1",
	})
	require.NoError(t, err)
	_, err = f.sub.ApplyRevocation(t.Context(), "a1", nil)
	require.NoError(t, err)
	before := f.record(t, "a1")
	require.Equal(t, types.SubscriptionStatusCancelled, before.Status)

	// a genuine signed transaction wrapped in an unsigned envelope
	signedTx := chain.Sign(t, txInfo("tx-1", "orig-1", expiry(30*24*time.Hour)))
	body, err := json.Marshal(map[string]any{
		"notificationType": "DID_RENEW",
		"notificationUUID": "uuid-unwrapped",
		"data":             map[string]any{"signedTransactionInfo": signedTx},
	})
	require.NoError(t, err)
	_, err = f.h.HandleNotification(t.Context(), types.PaymentProviderApple, body)
	require.ErrorIs(t, err, ErrMalformedNotification)

	after := f.record(t, "a1")
	require.Equal(t, types.SubscriptionStatusCancelled, after.Status)
	require.Equal(t, before.Version, after.Version)

	payload := &apple_notification.NotificationPayload{
		NotificationType: "DID_RENEW",
		NotificationUUID: "uuid-signed",
		Data: apple_notification.NotificationData{
			BundleID:              "com.example.app",
			Environment:           apple_notification.EnvironmentSandbox,
			SignedTransactionInfo: signedTx,
		},
	}
	body, err = json.Marshal(apple_notification.AppStoreServerRequest{SignedPayload: chain.Sign(t, payload)})
	require.NoError(t, err)
	res, err := f.h.HandleNotification(t.Context(), types.PaymentProviderApple, body)
	require.NoError(t, err)
	require.Equal(t, "success", res.Outcome)
}

func TestApple_MalformedIsRejected(t *testing.T) {
	f := newFixture(t)
	for _, body := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"signedPayload":"garbage"}`),
		[]byte(`{}`),
		appleBody(t, "DID_RENEW", "uuid-m", &apple_notification.TransactionInfo{TransactionID: "tx-1"}),
	} {
		_, err := f.h.HandleNotification(t.Context(), types.PaymentProviderApple, body)
		require.ErrorIs(t, err, ErrMalformedNotification, string(body))
	}
}

func TestApple_BundleMismatchIsRejected(t *testing.T) {
	f := newFixture(t)
	f.h.cfg.AppleIAP.BundleID = "com.other.app"
	_, err := f.h.HandleNotification(t.Context(), types.PaymentProviderApple,
		appleBody(t, "DID_RENEW", "uuid-b", txInfo("tx-1", "orig-1", expiry(time.Hour))))
	require.ErrorIs(t, err, ErrMalformedNotification)
}

func googleBody(t *testing.T, messageID string, notificationType int, token string) []byte {
	t.Helper()
	inner, err := json.Marshal(DeveloperNotification{
		Version:     "1.0",
		PackageName: "com.example.app",
		SubscriptionNotification: &SubscriptionNotification{
			Version:          "1.0",
			NotificationType: notificationType,
			PurchaseToken:    token,
			SubscriptionID:   "pro.monthly",
		},
	})
	require.NoError(t, err)
	var push PubSubPushRequest
	push.Message.Data = base64.StdEncoding.EncodeToString(inner)
	push.Message.MessageID = messageID
	body, err := json.Marshal(push)
	require.NoError(t, err)
	return body
}

func seedPlayUser(t *testing.T, f *fixture) {
	t.Helper()
	dbtest.SeedUser(t, f.db, "a1")
	_, err := f.sub.ApplyClientValidation(t.Context(), "a1", types.PlatformAndroid, &validator.ValidatedPurchase{
		TransactionID: "GPA.1111", OriginalTransactionID: "GPA.1111", PurchaseToken: "play-token",
	})
	require.NoError(t, err)
}

func TestGoogle_PurchasedActivates(t *testing.T) {
	f := newFixture(t)
	seedPlayUser(t, f)
	end := expiry(30 * 24 * time.Hour)
	f.play.purchase = &validator.ValidatedPurchase{
		TransactionID: "GPA.1111..0", OriginalTransactionID: "GPA.1111", ProductID: "pro.monthly",
		ExpiresAt: &end, Environment: types.EnvironmentProduction,
	}

	res, err := f.h.HandleNotification(t.Context(), types.PaymentProviderGoogle,
		googleBody(t, "m-1", GoogleSubscriptionPurchased, "play-token"))
	require.NoError(t, err)
	require.Equal(t, KindPurchasePaid, res.Kind)
	require.Equal(t, 1, f.play.calls)
	require.True(t, f.play.last.RequireVendorLookup)

	rec := f.record(t, "a1")
	require.Equal(t, types.SubscriptionStatusActive, rec.Status)
	require.True(t, end.Equal(*rec.EndDate))
	require.Equal(t, types.PlatformAndroid, rec.Platform)
}

func TestGoogle_LookupFailureReleasesDedupKey(t *testing.T) {
	f := newFixture(t)
	seedPlayUser(t, f)
	f.play.err = errors.New("could not reach Google Play")
	body := googleBody(t, "m-2", GoogleSubscriptionRenewed, "play-token")

	_, err := f.h.HandleNotification(t.Context(), types.PaymentProviderGoogle, body)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrMalformedNotification)
	require.False(t, f.redis.Exists("webhook:google:m-2"))

	end := expiry(24 * time.Hour)
	f.play.err = nil
	f.play.purchase = &validator.ValidatedPurchase{TransactionID: "GPA.1111..1", ExpiresAt: &end}
	res, err := f.h.HandleNotification(t.Context(), types.PaymentProviderGoogle, body)
	require.NoError(t, err)
	require.Equal(t, "success", res.Outcome)
}

func TestGoogle_RevokedSkipsLookup(t *testing.T) {
	f := newFixture(t)
	seedPlayUser(t, f)

	_, err := f.h.HandleNotification(t.Context(), types.PaymentProviderGoogle,
		googleBody(t, "m-3", GoogleSubscriptionRevoked, "play-token"))
	require.NoError(t, err)
	require.Zero(t, f.play.calls)
	require.Equal(t, types.SubscriptionStatusCancelled, f.record(t, "a1").Status)
}

func TestGoogle_UnknownTokenAndMalformed(t *testing.T) {
	f := newFixture(t)
	res, err := f.h.HandleNotification(t.Context(), types.PaymentProviderGoogle,
		googleBody(t, "m-4", GoogleSubscriptionRenewed, "other-token"))
	require.NoError(t, err)
	require.Equal(t, "not_found", res.Outcome)
	require.Zero(t, f.play.calls)

	_, err = f.h.HandleNotification(t.Context(), types.PaymentProviderGoogle, []byte(`{"message":{"data":"%%%"}}`))
	require.ErrorIs(t, err, ErrMalformedNotification)
}

func TestGoogle_ProdRenewalOfTesterTokenNeedsPlay(t *testing.T) {
	f := newFixture(t)
	f.h.cfg.Env = config.EnvProd
	srv := playtest.NewServer(t)
	srv.Status = http.StatusUnauthorized
	srv.Body = playtest.PermissionDeniedBody
	client, err := playstore.NewClient(playstore.Options{
		PackageName: "com.example.app",
		ClientEmail: "svc@example.iam.gserviceaccount.com",
		PrivateKey:  srv.PrivateKeyPEM,
		TokenURL:    srv.TokenURL(),
		APIBaseURL:  srv.URL,
	})
	require.NoError(t, err)
	play := validator.NewGoogleValidator(f.h.cfg, zap.NewNop().Sugar(), client)
	f.h.validator = validator.NewService(nil, play)

	const token = "GPA.1111-2222-3333-44444"
	dbtest.SeedUser(t, f.db, "a1")
	purchase, err := play.Validate(t.Context(), &validator.PurchaseProof{
		Platform: types.PlatformAndroid, ProductID: "pro.monthly", PurchaseToken: token,
	})
	require.NoError(t, err)
	_, err = f.sub.ApplyClientValidation(t.Context(), "a1", types.PlatformAndroid, purchase)
	require.NoError(t, err)
	before := f.record(t, "a1")
	require.Equal(t, types.SubscriptionStatusTrial, before.Status)

	_, err = f.h.HandleNotification(t.Context(), types.PaymentProviderGoogle,
		googleBody(t, "m-5", GoogleSubscriptionRenewed, token))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrMalformedNotification)
	require.Equal(t, int32(1), srv.LookupHits.Load())

	after := f.record(t, "a1")
	require.Equal(t, types.SubscriptionStatusTrial, after.Status)
	require.Equal(t, before.Version, after.Version)
}

func ptr[T any](v T) *T { return &v }

func TestAppleParser_NotificationTimeFromSignedDate(t *testing.T) {
	decoder, err := apple_notification.NewDecoder(apple_notification.DecoderOptions{})
	require.NoError(t, err)
	signed := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	received := signed.Add(time.Minute)

	payload := &apple_notification.NotificationPayload{
		NotificationType: "DID_RENEW",
		NotificationUUID: "uuid-time",
		SignedDate:       signed.UnixMilli(),
		Data: apple_notification.NotificationData{
			SignedTransactionInfo: jwstest.Unsigned(t, txInfo("tx-1", "orig-1", expiry(time.Hour))),
		},
	}
	body, err := json.Marshal(apple_notification.AppStoreServerRequest{SignedPayload: jwstest.Unsigned(t, payload)})
	require.NoError(t, err)

	p, err := GetAppleNotificationParser(&config.Config{}, decoder, body, received)
	require.NoError(t, err)
	require.True(t, signed.Equal(p.GetNotificationTime(t.Context())))

	payload.SignedDate = 0
	body, err = json.Marshal(apple_notification.AppStoreServerRequest{SignedPayload: jwstest.Unsigned(t, payload)})
	require.NoError(t, err)
	p, err = GetAppleNotificationParser(&config.Config{}, decoder, body, received)
	require.NoError(t, err)
	require.True(t, received.Equal(p.GetNotificationTime(t.Context())))
}
