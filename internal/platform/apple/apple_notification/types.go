package apple_notification

import "github.com/golang-jwt/jwt"

// https://developer.apple.com/documentation/appstoreservernotifications/responsebodyv2
type AppStoreServerRequest struct {
	SignedPayload string `json:"signedPayload"`
}

// NotificationPayload is the decoded body of an App Store Server Notification V2.
type NotificationPayload struct {
	jwt.StandardClaims
	NotificationType string           `json:"notificationType"`
	Subtype          string           `json:"subtype,omitempty"`
	NotificationUUID string           `json:"notificationUUID"`
	Version          string           `json:"version,omitempty"`
	SignedDate       int64            `json:"signedDate,omitempty"`
	Data             NotificationData `json:"data"`
}

type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId,omitempty"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion,omitempty"`
	Environment           string `json:"environment"`
	SignedTransactionInfo string `json:"signedTransactionInfo,omitempty"`
	SignedRenewalInfo     string `json:"signedRenewalInfo,omitempty"`
	Status                int32  `json:"status,omitempty"`
}

// TransactionInfo is the decoded JWSTransaction. Dates are unix milliseconds.
type TransactionInfo struct {
	jwt.StandardClaims
	TransactionID               string `json:"transactionId"`
	OriginalTransactionID       string `json:"originalTransactionId"`
	WebOrderLineItemID          string `json:"webOrderLineItemId,omitempty"`
	BundleID                    string `json:"bundleId"`
	ProductID                   string `json:"productId"`
	SubscriptionGroupIdentifier string `json:"subscriptionGroupIdentifier,omitempty"`
	PurchaseDate                int64  `json:"purchaseDate"`
	OriginalPurchaseDate        int64  `json:"originalPurchaseDate,omitempty"`
	ExpiresDate                 int64  `json:"expiresDate,omitempty"`
	Quantity                    int32  `json:"quantity,omitempty"`
	Type                        string `json:"type,omitempty"`
	AppAccountToken             string `json:"appAccountToken,omitempty"`
	InAppOwnershipType          string `json:"inAppOwnershipType,omitempty"`
	SignedDate                  int64  `json:"signedDate,omitempty"`
	RevocationReason            *int32 `json:"revocationReason,omitempty"`
	RevocationDate              int64  `json:"revocationDate,omitempty"`
	IsUpgraded                  bool   `json:"isUpgraded,omitempty"`
	OfferType                   int32  `json:"offerType,omitempty"`
	OfferIdentifier             string `json:"offerIdentifier,omitempty"`
	OfferDiscountType           string `json:"offerDiscountType,omitempty"`
	Environment                 string `json:"environment"`
	Storefront                  string `json:"storefront,omitempty"`
	TransactionReason           string `json:"transactionReason,omitempty"`
	Currency                    string `json:"currency,omitempty"`
	// Price is in milliunits of Currency.
	Price int64 `json:"price,omitempty"`
}

// https://developer.apple.com/documentation/appstoreservernotifications/jwsrenewalinfodecodedpayload
type RenewalInfo struct {
	jwt.StandardClaims
	OriginalTransactionID  string `json:"originalTransactionId"`
	AutoRenewProductID     string `json:"autoRenewProductId,omitempty"`
	ProductID              string `json:"productId"`
	AutoRenewStatus        int32  `json:"autoRenewStatus"`
	ExpirationIntent       int32  `json:"expirationIntent,omitempty"`
	GracePeriodExpiresDate int64  `json:"gracePeriodExpiresDate,omitempty"`
	IsInBillingRetryPeriod bool   `json:"isInBillingRetryPeriod,omitempty"`
	RenewalDate            int64  `json:"renewalDate,omitempty"`
	Environment            string `json:"environment,omitempty"`
	SignedDate             int64  `json:"signedDate,omitempty"`
}

// Notification is a fully decoded server notification.
type Notification struct {
	Payload         *NotificationPayload
	TransactionInfo *TransactionInfo
	RenewalInfo     *RenewalInfo
	// Verified is true when every token passed chain and signature checks.
	Verified bool
}

func (n *Notification) IsTest() bool {
	return n != nil && n.Payload != nil && n.Payload.NotificationType == NotificationTypeTest
}

func (n *Notification) IsSandbox() bool {
	return n != nil && n.Payload != nil && n.Payload.Data.Environment == EnvironmentSandbox
}

const (
	EnvironmentSandbox    = "Sandbox"
	EnvironmentProduction = "Production"

	NotificationTypeTest = "TEST"

	OfferDiscountTypeFreeTrial = "FREE_TRIAL"
)
