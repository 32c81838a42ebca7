package models

import (
	"time"

	"github.com/fatflowers/entitlement/pkg/types"
)

// SubscriptionRecord holds the canonical subscription fields of a user.
// It is embedded into User with the "subscription_" column prefix.
type SubscriptionRecord struct {
	Status    types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;default:'none';index" json:"status"`
	Plan      string                   `gorm:"column:plan;type:varchar(128)" json:"plan"`
	StartDate *time.Time               `gorm:"column:start_date;default:null" json:"start_date"`
	EndDate   *time.Time               `gorm:"column:end_date;default:null" json:"end_date"`
	Platform  types.Platform           `gorm:"column:platform;type:varchar(16)" json:"platform"`
	// CurrentTransactionID is bound to at most one user; NULLs do not collide on the unique index.
	CurrentTransactionID *string `gorm:"column:current_transaction_id;type:varchar(128);uniqueIndex" json:"current_transaction_id"`
	// OriginalTransactionID stays constant across renewals of one lineage and is never overwritten.
	OriginalTransactionID *string `gorm:"column:original_transaction_id;type:varchar(128);index" json:"original_transaction_id"`
	PurchaseToken         *string `gorm:"column:purchase_token;type:varchar(512);uniqueIndex" json:"purchase_token"`
	// Version is bumped on every write and guards compare-and-swap updates.
	Version int64 `gorm:"column:version;not null;default:0" json:"version"`
}

// Entitled reports whether the record currently grants paid access.
func (r *SubscriptionRecord) Entitled(now time.Time) bool {
	return r != nil &&
		r.Status.Normalize().Entitled() &&
		r.EndDate != nil &&
		r.EndDate.After(now)
}

// Info projects the record onto the client-facing entitlement view.
func (r *SubscriptionRecord) Info(now time.Time) *types.UserSubscriptionInfo {
	return &types.UserSubscriptionInfo{
		Status:    r.Status.Normalize(),
		Plan:      r.Plan,
		Platform:  r.Platform,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		Entitled:  r.Entitled(now),
	}
}

// Clone returns a deep copy of the record.
func (r SubscriptionRecord) Clone() SubscriptionRecord {
	out := r
	out.StartDate = cloneTime(r.StartDate)
	out.EndDate = cloneTime(r.EndDate)
	out.CurrentTransactionID = cloneString(r.CurrentTransactionID)
	out.OriginalTransactionID = cloneString(r.OriginalTransactionID)
	out.PurchaseToken = cloneString(r.PurchaseToken)
	return out
}

// SameState reports whether both records hold the same subscription fields, ignoring Version.
func (r *SubscriptionRecord) SameState(o *SubscriptionRecord) bool {
	return r.Status.Normalize() == o.Status.Normalize() &&
		r.Plan == o.Plan &&
		r.Platform == o.Platform &&
		sameTime(r.StartDate, o.StartDate) &&
		sameTime(r.EndDate, o.EndDate) &&
		sameString(r.CurrentTransactionID, o.CurrentTransactionID) &&
		sameString(r.OriginalTransactionID, o.OriginalTransactionID) &&
		sameString(r.PurchaseToken, o.PurchaseToken)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
