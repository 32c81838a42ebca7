package types

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusNone      SubscriptionStatus = "none"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// validTransitions lists every status a record may move to from a given status.
// Self transitions refresh dates and identifiers without changing the status.
var validTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusNone: {
		SubscriptionStatusTrial,
		SubscriptionStatusActive,
		SubscriptionStatusExpired,
		SubscriptionStatusCancelled,
	},
	SubscriptionStatusTrial: {
		SubscriptionStatusTrial,
		SubscriptionStatusActive,
		SubscriptionStatusExpired,
		SubscriptionStatusCancelled,
	},
	SubscriptionStatusActive: {
		SubscriptionStatusActive,
		SubscriptionStatusExpired,
		SubscriptionStatusCancelled,
	},
	SubscriptionStatusExpired: {
		SubscriptionStatusTrial,
		SubscriptionStatusActive,
		SubscriptionStatusExpired,
		SubscriptionStatusCancelled,
	},
	SubscriptionStatusCancelled: {
		SubscriptionStatusTrial,
		SubscriptionStatusActive,
		SubscriptionStatusCancelled,
	},
}

// Normalize maps the empty status of a never-written record to none.
func (s SubscriptionStatus) Normalize() SubscriptionStatus {
	if s == "" {
		return SubscriptionStatusNone
	}
	return s
}

func (s SubscriptionStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Entitled reports whether the status grants access while the end date is in the future.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubscriptionStatusTrial || s == SubscriptionStatusActive
}

// CanTransition reports whether a handler may move a record from one status to another.
// Recovery is the only path allowed to bypass this table.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, next := range validTransitions[from.Normalize()] {
		if next == to {
			return true
		}
	}
	return false
}

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

func (p Platform) Valid() bool {
	return p == PlatformIOS || p == PlatformAndroid
}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentSandbox    Environment = "sandbox"
)

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonClientValidation SubscriptionChangeReason = "client_validation"
	SubscriptionChangeReasonPurchase         SubscriptionChangeReason = "purchase"
	SubscriptionChangeReasonRenewal          SubscriptionChangeReason = "renewal"
	SubscriptionChangeReasonExpiration       SubscriptionChangeReason = "expiration"
	SubscriptionChangeReasonRevocation       SubscriptionChangeReason = "revocation"
	SubscriptionChangeReasonRecovery         SubscriptionChangeReason = "recovery"
)

// UserSubscriptionInfo is the entitlement view returned to clients.
type UserSubscriptionInfo struct {
	Status    SubscriptionStatus `json:"status"`
	Plan      string             `json:"plan"`
	Platform  Platform           `json:"platform,omitempty"`
	StartDate *time.Time         `json:"startDate"`
	EndDate   *time.Time         `json:"endDate"`
	Entitled  bool               `json:"entitled"`
}
