package apple_notification_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	an "github.com/fatflowers/entitlement/internal/platform/apple/apple_notification"
	"github.com/fatflowers/entitlement/internal/platform/apple/apple_notification/jwstest"
)

func txInfo() *an.TransactionInfo {
	return &an.TransactionInfo{
		TransactionID:         "2000000111",
		OriginalTransactionID: "2000000100",
		ProductID:             "pro.monthly",
		BundleID:              "com.example.app",
		ExpiresDate:           1767225600000,
		Environment:           an.EnvironmentSandbox,
	}
}

func TestIsSignedToken(t *testing.T) {
	require.True(t, an.IsSignedToken("a.b.c"))
	require.True(t, an.IsSignedToken("a.b."))
	require.False(t, an.IsSignedToken("MIIT...base64receipt=="))
	require.False(t, an.IsSignedToken("a.b"))
	require.False(t, an.IsSignedToken(".b.c"))
}

func TestDecoder_UnverifiedTransaction(t *testing.T) {
	d, err := an.NewDecoder(an.DecoderOptions{})
	require.NoError(t, err)
	require.False(t, d.Verifies())

	info, err := d.DecodeTransaction(jwstest.Unsigned(t, txInfo()))
	require.NoError(t, err)
	require.Equal(t, "2000000111", info.TransactionID)
	require.Equal(t, "2000000100", info.OriginalTransactionID)
	require.Equal(t, an.EnvironmentSandbox, info.Environment)
}

func TestDecoder_RejectsGarbage(t *testing.T) {
	d, err := an.NewDecoder(an.DecoderOptions{})
	require.NoError(t, err)

	_, err = d.DecodeTransaction("not-a-token")
	require.ErrorIs(t, err, an.ErrMalformedToken)

	_, err = d.DecodeTransaction("e30.!!!.sig")
	require.ErrorIs(t, err, an.ErrMalformedToken)

	_, err = d.DecodeTransaction(jwstest.Unsigned(t, &an.TransactionInfo{ProductID: "x"}))
	require.ErrorIs(t, err, an.ErrMissingField)
}

func TestDecoder_VerifiedChain(t *testing.T) {
	chain := jwstest.NewChain(t)
	d, err := an.NewDecoder(an.DecoderOptions{VerifySignatures: true, RootCertPEM: chain.RootPEM})
	require.NoError(t, err)

	signed := chain.Sign(t, txInfo())
	info, err := d.DecodeTransaction(signed)
	require.NoError(t, err)
	require.Equal(t, "pro.monthly", info.ProductID)

	forged := txInfo()
	forged.ProductID = "pro.lifetime"
	_, err = d.DecodeTransaction(jwstest.Tamper(t, signed, forged))
	require.ErrorIs(t, err, an.ErrInvalidSignature)

	_, err = d.DecodeTransaction(jwstest.Unsigned(t, txInfo()))
	require.Error(t, err)
}

func TestDecoder_VerifiedRejectsForeignRoot(t *testing.T) {
	trusted := jwstest.NewChain(t)
	foreign := jwstest.NewChain(t)
	d, err := an.NewDecoder(an.DecoderOptions{VerifySignatures: true, RootCertPEM: trusted.RootPEM})
	require.NoError(t, err)

	_, err = d.DecodeTransaction(foreign.Sign(t, txInfo()))
	require.ErrorIs(t, err, an.ErrInvalidSignature)
}

func TestDecoder_DefaultRootParses(t *testing.T) {
	d, err := an.NewDecoder(an.DecoderOptions{VerifySignatures: true})
	require.NoError(t, err)
	require.True(t, d.Verifies())
}

func TestDecoder_Notification(t *testing.T) {
	chain := jwstest.NewChain(t)
	d, err := an.NewDecoder(an.DecoderOptions{VerifySignatures: true, RootCertPEM: chain.RootPEM})
	require.NoError(t, err)

	payload := &an.NotificationPayload{
		NotificationType: "DID_RENEW",
		NotificationUUID: "7e3f0a52-7c2f-4e55-9c1c-2f3d3c1f0a01",
		Data: an.NotificationData{
			BundleID:              "com.example.app",
			Environment:           an.EnvironmentSandbox,
			SignedTransactionInfo: chain.Sign(t, txInfo()),
			SignedRenewalInfo:     chain.Sign(t, &an.RenewalInfo{OriginalTransactionID: "2000000100", AutoRenewStatus: 1}),
		},
	}
	n, err := d.DecodeNotification(chain.Sign(t, payload))
	require.NoError(t, err)
	require.True(t, n.Verified)
	require.True(t, n.IsSandbox())
	require.Equal(t, "2000000111", n.TransactionInfo.TransactionID)
	require.Equal(t, int32(1), n.RenewalInfo.AutoRenewStatus)
}

func TestDecoder_NotificationMissingFields(t *testing.T) {
	d, err := an.NewDecoder(an.DecoderOptions{})
	require.NoError(t, err)

	_, err = d.DecodeNotification(jwstest.Unsigned(t, &an.NotificationPayload{NotificationUUID: "u"}))
	require.ErrorIs(t, err, an.ErrMissingField)

	_, err = d.DecodeNotification(jwstest.Unsigned(t, &an.NotificationPayload{NotificationType: "DID_RENEW"}))
	require.ErrorIs(t, err, an.ErrMissingField)

	n, err := d.DecodeNotification(jwstest.Unsigned(t, &an.NotificationPayload{NotificationType: an.NotificationTypeTest}))
	require.NoError(t, err)
	require.True(t, n.IsTest())
	require.Nil(t, n.TransactionInfo)
}
