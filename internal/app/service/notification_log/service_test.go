package notification_log

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/internal/platform/db/dbtest"
)

func TestReceivedThenFinish(t *testing.T) {
	db := dbtest.New(t)
	s := New(db, zap.NewNop().Sugar())
	ctx := context.WithValue(t.Context(), "traceID", "trace-1")

	sent := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	entry := s.Received(ctx, "apple", "tx-1", "DID_RENEW", "uuid-1", sent, map[string]string{"k": "v"})
	s.Finish(ctx, entry, "a1", "error", map[string]string{"kind": "renewed"}, errors.New("boom"))

	var rows []*models.PaymentNotificationLog
	require.Eventually(t, func() bool {
		err := db.Where("notification_uuid = ?", "uuid-1").Order("created_at asc").Find(&rows).Error
		return err == nil && len(rows) == 2
	}, 2*time.Second, 20*time.Millisecond)

	statuses := []models.PaymentNotificationLogStatus{rows[0].Status, rows[1].Status}
	require.ElementsMatch(t, []models.PaymentNotificationLogStatus{
		models.PaymentNotificationLogStatusReceived,
		models.PaymentNotificationLogStatusHandleFailed,
	}, statuses)
	for _, r := range rows {
		require.Equal(t, "trace-1", r.TraceID)
		require.Equal(t, "tx-1", r.TransactionID)
		if r.Status == models.PaymentNotificationLogStatusReceived {
			require.True(t, sent.Equal(r.NotificationTime))
		}
		if r.Status == models.PaymentNotificationLogStatusHandleFailed {
			require.NotNil(t, r.UserID)
			require.Equal(t, "a1", *r.UserID)
			require.Contains(t, string(*r.Result), "boom")
			require.Equal(t, "error", r.Outcome)
		}
	}
}
