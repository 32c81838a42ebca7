package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/internal/app/service/identity"
	"github.com/fatflowers/entitlement/internal/app/service/notifier"
	"github.com/fatflowers/entitlement/internal/app/service/validator"
	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/metrics"
	"github.com/fatflowers/entitlement/pkg/tool"
	"github.com/fatflowers/entitlement/pkg/types"
)

const defaultTrialDuration = 72 * time.Hour

// ErrConcurrentUpdate means every compare-and-swap attempt lost against another writer.
var ErrConcurrentUpdate = errors.New("subscription changed concurrently, retries exhausted")

// Service owns the subscription fields embedded in the user row.
// Every write is a compare-and-swap on subscription_version.
type Service struct {
	cfg      *config.Config
	db       *gorm.DB
	log      *zap.SugaredLogger
	notifier notifier.Notifier
	now      func() time.Time
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger, n notifier.Notifier) *Service {
	return &Service{cfg: cfg, db: db, log: log, notifier: n, now: time.Now}
}

// Change describes the outcome of one write.
type Change struct {
	UserID  string
	Reason  types.SubscriptionChangeReason
	Before  models.SubscriptionRecord
	After   models.SubscriptionRecord
	Changed bool
}

// StatusChanged reports whether the write moved the record to another status.
func (c *Change) StatusChanged() bool {
	return c != nil && c.Changed && c.Before.Status.Normalize() != c.After.Status.Normalize()
}

// mutation edits rec in place; leaving it untouched makes the write a no-op.
type mutation func(log *zap.SugaredLogger, rec *models.SubscriptionRecord, now time.Time)

// Get loads the user row with its subscription record.
func (s *Service) Get(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	u.Subscription.Status = u.Subscription.Status.Normalize()
	return &u, nil
}

// ApplyClientValidation records a purchase validated by the client path.
// It opens a short trial window and never grants active.
func (s *Service) ApplyClientValidation(ctx context.Context, userID string, platform types.Platform, p *validator.ValidatedPurchase) (*Change, error) {
	trial := s.cfg.Subscription.TrialDuration
	if trial <= 0 {
		trial = defaultTrialDuration
	}
	return s.mutate(ctx, userID, types.SubscriptionChangeReasonClientValidation, func(log *zap.SugaredLogger, rec *models.SubscriptionRecord, now time.Time) {
		newLineage := rec.OriginalTransactionID == nil || !rec.Status.Entitled()
		if transition(log, rec, types.SubscriptionStatusTrial) {
			if rec.Status != types.SubscriptionStatusTrial || rec.StartDate == nil {
				rec.StartDate = timePtr(now)
			}
			end := now.Add(trial)
			if rec.Status != types.SubscriptionStatusTrial || rec.EndDate == nil || rec.EndDate.Before(end) {
				rec.EndDate = &end
			}
			rec.Status = types.SubscriptionStatusTrial
		}
		if newLineage {
			rec.OriginalTransactionID = strPtr(firstNonEmpty(p.OriginalTransactionID, p.TransactionID))
		}
		bindPurchase(rec, platform, p)
	})
}

// ApplyPurchase handles a purchase confirmation. Free-of-charge confirmations only
// record the transaction ids; paid ones grant active.
func (s *Service) ApplyPurchase(ctx context.Context, userID string, platform types.Platform, p *validator.ValidatedPurchase, paid bool) (*Change, error) {
	return s.mutate(ctx, userID, types.SubscriptionChangeReasonPurchase, func(log *zap.SugaredLogger, rec *models.SubscriptionRecord, now time.Time) {
		if !paid {
			if rec.OriginalTransactionID == nil {
				rec.OriginalTransactionID = strPtr(firstNonEmpty(p.OriginalTransactionID, p.TransactionID))
			}
			if p.TransactionID != "" {
				rec.CurrentTransactionID = strPtr(p.TransactionID)
			}
			return
		}
		activate(log, rec, platform, p, now)
	})
}

// ApplyRenewal handles renewal success and payment recovery; the record becomes
// active regardless of its prior status.
func (s *Service) ApplyRenewal(ctx context.Context, userID string, platform types.Platform, p *validator.ValidatedPurchase) (*Change, error) {
	return s.mutate(ctx, userID, types.SubscriptionChangeReasonRenewal, func(log *zap.SugaredLogger, rec *models.SubscriptionRecord, now time.Time) {
		activate(log, rec, platform, p, now)
	})
}

// ApplyExpiration moves the record to expired unless a later period already superseded p.
func (s *Service) ApplyExpiration(ctx context.Context, userID string, p *validator.ValidatedPurchase) (*Change, error) {
	return s.mutate(ctx, userID, types.SubscriptionChangeReasonExpiration, func(log *zap.SugaredLogger, rec *models.SubscriptionRecord, now time.Time) {
		if rec.Status == types.SubscriptionStatusActive && rec.EndDate != nil && p.ExpiresAt != nil && rec.EndDate.After(*p.ExpiresAt) {
			log.Infow("subscription_expiration_superseded",
				"end_date", rec.EndDate, "notification_expires_at", p.ExpiresAt)
			return
		}
		if !transition(log, rec, types.SubscriptionStatusExpired) {
			return
		}
		rec.Status = types.SubscriptionStatusExpired
		if p.ExpiresAt != nil {
			rec.EndDate = timePtr(*p.ExpiresAt)
		} else if rec.EndDate == nil || rec.EndDate.After(now) {
			rec.EndDate = timePtr(now)
		}
	})
}

// ApplyRevocation handles refunds and revocations. endedAt is the vendor-supplied
// end of access; nil means now. A record that is already cancelled keeps its end date,
// and an expired one never has its end date moved later.
func (s *Service) ApplyRevocation(ctx context.Context, userID string, endedAt *time.Time) (*Change, error) {
	return s.mutate(ctx, userID, types.SubscriptionChangeReasonRevocation, func(log *zap.SugaredLogger, rec *models.SubscriptionRecord, now time.Time) {
		if rec.Status == types.SubscriptionStatusCancelled {
			return
		}
		if !transition(log, rec, types.SubscriptionStatusCancelled) {
			return
		}
		end := now
		if endedAt != nil {
			end = *endedAt
		}
		if rec.Status == types.SubscriptionStatusExpired && rec.EndDate != nil && rec.EndDate.Before(end) {
			end = *rec.EndDate
		}
		rec.Status = types.SubscriptionStatusCancelled
		rec.EndDate = timePtr(end)
	})
}

// Recover sets status and end date directly. It is the only write that may
// move a record against the transition graph.
func (s *Service) Recover(ctx context.Context, userID string, status types.SubscriptionStatus, endDate *time.Time, operator string) (*Change, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid subscription status %q", status)
	}
	ctx = withExtra(ctx, map[string]any{"operator": operator})
	return s.mutate(ctx, userID, types.SubscriptionChangeReasonRecovery, func(log *zap.SugaredLogger, rec *models.SubscriptionRecord, now time.Time) {
		log.Infow("subscription_recovery", "from", rec.Status, "to", status, "operator", operator)
		if rec.Status != status && status.Entitled() {
			rec.StartDate = timePtr(now)
		}
		rec.Status = status
		if endDate != nil {
			rec.EndDate = timePtr(*endDate)
		}
	})
}

func activate(log *zap.SugaredLogger, rec *models.SubscriptionRecord, platform types.Platform, p *validator.ValidatedPurchase, now time.Time) {
	if !transition(log, rec, types.SubscriptionStatusActive) {
		return
	}
	if rec.Status != types.SubscriptionStatusActive || rec.StartDate == nil {
		start := now
		if p.PurchasedAt != nil {
			start = *p.PurchasedAt
		}
		rec.StartDate = timePtr(start)
	}
	if p.ExpiresAt != nil {
		// an out-of-order older renewal must not shorten an active period
		if rec.Status != types.SubscriptionStatusActive || rec.EndDate == nil || p.ExpiresAt.After(*rec.EndDate) {
			rec.EndDate = timePtr(*p.ExpiresAt)
		}
	}
	rec.Status = types.SubscriptionStatusActive
	if rec.OriginalTransactionID == nil {
		rec.OriginalTransactionID = strPtr(firstNonEmpty(p.OriginalTransactionID, p.TransactionID))
	}
	bindPurchase(rec, platform, p)
}

func bindPurchase(rec *models.SubscriptionRecord, platform types.Platform, p *validator.ValidatedPurchase) {
	if p.TransactionID != "" {
		rec.CurrentTransactionID = strPtr(p.TransactionID)
	}
	if platform.Valid() {
		rec.Platform = platform
	}
	if p.ProductID != "" {
		rec.Plan = p.ProductID
	}
	if p.PurchaseToken != "" {
		rec.PurchaseToken = strPtr(p.PurchaseToken)
	}
}

// transition reports whether rec may move to the target status and logs the refusal otherwise.
func transition(log *zap.SugaredLogger, rec *models.SubscriptionRecord, to types.SubscriptionStatus) bool {
	if types.CanTransition(rec.Status, to) {
		return true
	}
	log.Infow("subscription_transition_ignored", "from", rec.Status, "to", to)
	return false
}

func (s *Service) mutate(ctx context.Context, userID string, reason types.SubscriptionChangeReason, fn mutation) (*Change, error) {
	log := logctx.FromCtx(ctx, s.log).With("user_id", userID, "reason", reason)
	attempts := s.cfg.Subscription.UpdateRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		user, err := s.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		before := user.Subscription.Clone()
		after := before.Clone()
		fn(log, &after, s.now().UTC())

		change := &Change{UserID: userID, Reason: reason, Before: before, After: after}
		if before.SameState(&after) {
			log.Debugw("subscription_unchanged")
			return change, nil
		}
		if after.StartDate != nil && after.EndDate != nil && after.EndDate.Before(*after.StartDate) {
			after.StartDate = timePtr(*after.EndDate)
		}
		after.Version = before.Version + 1
		change.After = after
		change.Changed = true

		res := s.db.WithContext(ctx).
			Model(&models.User{}).
			Where("id = ? AND subscription_version = ?", userID, before.Version).
			Updates(columns(&after))
		if res.Error != nil {
			if isDuplicateKey(res.Error) {
				log.Warnw("subscription_transaction_already_bound", "transaction_id", after.CurrentTransactionID)
				return nil, identity.ErrIdentityConflict
			}
			return nil, fmt.Errorf("failed to update subscription: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			log.Warnw("subscription_version_conflict", "attempt", attempt, "version", before.Version)
			continue
		}

		log.Infow("subscription_updated",
			"from", before.Status, "to", after.Status, "end_date", after.EndDate, "version", after.Version)
		metrics.SubscriptionTransitions.WithLabelValues(string(reason), string(after.Status)).Inc()

		// Write change log asynchronously; errors are logged but not returned
		go s.saveLog(context.WithoutCancel(ctx), change)

		if change.StatusChanged() && s.notifier != nil {
			user.Subscription = after
			go s.notifier.SubscriptionChanged(context.WithoutCancel(ctx), user, &before, &after)
		}
		return change, nil
	}
	return nil, ErrConcurrentUpdate
}

func (s *Service) saveLog(ctx context.Context, change *Change) {
	before, after := change.Before, change.After
	entry := &models.SubscriptionLog{
		ID:     tool.GenerateUUIDV7(),
		UserID: change.UserID,
		Reason: change.Reason,
		Before: datatypes.NewJSONType(&before),
		After:  datatypes.NewJSONType(&after),
		Extra:  extraFromCtx(ctx),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to save subscription log: %v", err)
	}
}

func columns(r *models.SubscriptionRecord) map[string]any {
	return map[string]any{
		"subscription_status":                  r.Status,
		"subscription_plan":                    r.Plan,
		"subscription_start_date":              r.StartDate,
		"subscription_end_date":                r.EndDate,
		"subscription_platform":                r.Platform,
		"subscription_current_transaction_id":  r.CurrentTransactionID,
		"subscription_original_transaction_id": r.OriginalTransactionID,
		"subscription_purchase_token":          r.PurchaseToken,
		"subscription_version":                 r.Version,
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}

type extraKey struct{}

// withExtra attaches trigger details that end up in the audit log entry.
func withExtra(ctx context.Context, extra map[string]any) context.Context {
	merged := datatypes.JSONMap{}
	for k, v := range extraFromCtx(ctx) {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return context.WithValue(ctx, extraKey{}, merged)
}

// WithTrigger tags subsequent writes with the source that caused them, e.g. a notification type.
func WithTrigger(ctx context.Context, source, detail string) context.Context {
	return withExtra(ctx, map[string]any{"source": source, "detail": detail})
}

func extraFromCtx(ctx context.Context) datatypes.JSONMap {
	if m, ok := ctx.Value(extraKey{}).(datatypes.JSONMap); ok {
		return m
	}
	return datatypes.JSONMap{}
}

func timePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
