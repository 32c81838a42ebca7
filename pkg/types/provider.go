package types

// PaymentProvider identifies the source of a purchase signal in logs and audit records.
type PaymentProvider string

const (
	PaymentProviderApple  PaymentProvider = "apple"
	PaymentProviderGoogle PaymentProvider = "google"
	PaymentProviderInner  PaymentProvider = "inner"
)

// ProviderForPlatform maps a client platform onto the vendor that issued its purchases.
func ProviderForPlatform(p Platform) PaymentProvider {
	switch p {
	case PlatformIOS:
		return PaymentProviderApple
	case PlatformAndroid:
		return PaymentProviderGoogle
	default:
		return PaymentProviderInner
	}
}
