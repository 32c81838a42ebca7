package notification_log

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/tool"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Save asynchronously persists a payment notification log. Nil input is ignored.
func (s *Service) Save(ctx context.Context, log *models.PaymentNotificationLog) {
	if log == nil {
		return
	}
	if log.ID == "" {
		log.ID = tool.GenerateUUIDV7()
	}
	if log.TraceID == "" {
		log.TraceID = logctx.TraceID(ctx)
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.db.WithContext(ctx).Save(log).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save notification log: %v", err)
		}
	}()
}

// Received logs an inbound signal before it is processed and returns the entry for Finish.
func (s *Service) Received(ctx context.Context, provider, transactionID, notificationType, notificationUUID string, notificationTime time.Time, data any) *models.PaymentNotificationLog {
	if notificationTime.IsZero() {
		notificationTime = time.Now()
	}
	raw, _ := json.Marshal(data)
	entry := &models.PaymentNotificationLog{
		ProviderID:       provider,
		TransactionID:    transactionID,
		NotificationType: notificationType,
		NotificationUUID: notificationUUID,
		NotificationTime: notificationTime,
		Data:             datatypes.JSON(raw),
		Status:           models.PaymentNotificationLogStatusReceived,
	}
	cp := *entry
	s.Save(ctx, &cp)
	return entry
}

// Finish logs the handling result of a received entry as a separate row.
func (s *Service) Finish(ctx context.Context, received *models.PaymentNotificationLog, userID, outcome string, result any, resErr error) {
	if received == nil {
		return
	}
	resMap := map[string]any{"result": result}
	status := models.PaymentNotificationLogStatusHandled
	if resErr != nil {
		resMap["error"] = resErr.Error()
		status = models.PaymentNotificationLogStatusHandleFailed
	}
	resBytes, _ := json.Marshal(resMap)
	res := datatypes.JSON(resBytes)

	entry := *received
	entry.ID = ""
	entry.NotificationTime = time.Now()
	entry.Result = &res
	entry.Status = status
	entry.Outcome = outcome
	if userID != "" {
		entry.UserID = &userID
	}
	s.Save(ctx, &entry)
}
