package notification_handler

// NotificationKind is the closed set of transitions a vendor notification can trigger.
type NotificationKind string

const (
	// KindUnhandled covers every vendor type without a transition; it is logged and acknowledged.
	KindUnhandled NotificationKind = "unhandled"
	KindTest      NotificationKind = "test"
	// KindPurchaseFree is a free-of-charge purchase or renewal; ids are stored, status unchanged.
	KindPurchaseFree NotificationKind = "purchase_free"
	KindPurchasePaid NotificationKind = "purchase_paid"
	// KindRenewed is a renewal success or a recovered payment.
	KindRenewed NotificationKind = "renewed"
	// KindRenewalToggled is auto-renew switched off or on; access is unchanged until expiry.
	KindRenewalToggled NotificationKind = "renewal_toggled"
	KindExpired        NotificationKind = "expired"
	// KindPaymentFailed is a billing failure the store will retry; log only.
	KindPaymentFailed NotificationKind = "payment_failed"
	// KindRevoked is a refund or revocation.
	KindRevoked NotificationKind = "revoked"
)

// ChangesState reports whether the kind writes to the subscription record.
func (k NotificationKind) ChangesState() bool {
	switch k {
	case KindPurchaseFree, KindPurchasePaid, KindRenewed, KindExpired, KindRevoked:
		return true
	default:
		return false
	}
}

// https://developer.apple.com/documentation/appstoreservernotifications/notificationtype
var appleKinds = map[string]NotificationKind{
	"TEST":                      KindTest,
	"SUBSCRIBED":                KindPurchasePaid,
	"OFFER_REDEEMED":            KindPurchasePaid,
	"DID_RENEW":                 KindRenewed,
	"DID_RECOVER":               KindRenewed,
	"INITIAL_BUY":               KindPurchasePaid,
	"INTERACTIVE_RENEWAL":       KindPurchasePaid,
	"RENEWAL_EXTENDED":          KindRenewed,
	"DID_CHANGE_RENEWAL_STATUS": KindRenewalToggled,
	"DID_CHANGE_RENEWAL_PREF":   KindRenewalToggled,
	"EXPIRED":                   KindExpired,
	"GRACE_PERIOD_EXPIRED":      KindExpired,
	"DID_FAIL_TO_RENEW":         KindPaymentFailed,
	"REFUND":                    KindRevoked,
	"REVOKE":                    KindRevoked,
}

// AppleKind maps an App Store notification type to its kind.
func AppleKind(notificationType string) NotificationKind {
	if k, ok := appleKinds[notificationType]; ok {
		return k
	}
	return KindUnhandled
}

// https://developer.android.com/google/play/billing/rtdn-reference#sub
const (
	GoogleSubscriptionRecovered          = 1
	GoogleSubscriptionRenewed            = 2
	GoogleSubscriptionCanceled           = 3
	GoogleSubscriptionPurchased          = 4
	GoogleSubscriptionOnHold             = 5
	GoogleSubscriptionInGracePeriod      = 6
	GoogleSubscriptionRestarted          = 7
	GoogleSubscriptionPriceChangeConfirm = 8
	GoogleSubscriptionDeferred           = 9
	GoogleSubscriptionPaused             = 10
	GoogleSubscriptionPauseScheduleChg   = 11
	GoogleSubscriptionRevoked            = 12
	GoogleSubscriptionExpired            = 13
)

var googleKinds = map[int]NotificationKind{
	GoogleSubscriptionPurchased:     KindPurchasePaid,
	GoogleSubscriptionRenewed:       KindRenewed,
	GoogleSubscriptionRecovered:     KindRenewed,
	GoogleSubscriptionRestarted:     KindRenewed,
	GoogleSubscriptionCanceled:      KindRenewalToggled,
	GoogleSubscriptionOnHold:        KindPaymentFailed,
	GoogleSubscriptionInGracePeriod: KindPaymentFailed,
	GoogleSubscriptionRevoked:       KindRevoked,
	GoogleSubscriptionExpired:       KindExpired,
}

// GoogleKind maps a Play subscriptionNotification type to its kind.
func GoogleKind(notificationType int) NotificationKind {
	if k, ok := googleKinds[notificationType]; ok {
		return k
	}
	return KindUnhandled
}
