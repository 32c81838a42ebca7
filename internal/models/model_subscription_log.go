package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/entitlement/pkg/types"
)

// SubscriptionLog records every write to a user's subscription record.
// Use case: troubleshooting and replay audits.
type SubscriptionLog struct {
	ID     string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(64);index:idx_user_id_id,priority:1;not null" json:"user_id"`
	// Reason is the change reason.
	Reason types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// Before stores subscription data before the change in JSON format.
	Before datatypes.JSONType[*SubscriptionRecord] `gorm:"column:before;type:jsonb;default:'null'" json:"before"`
	// After stores subscription data after the change in JSON format.
	After datatypes.JSONType[*SubscriptionRecord] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	// Extra stores the trigger source, e.g. notification type or operator id.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time         `json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
