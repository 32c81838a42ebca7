package validator

import "go.uber.org/fx"

// Module exposes the platform validators via Fx.
var Module = fx.Options(
	fx.Provide(NewAppleValidator),
	fx.Provide(NewGoogleValidator),
	fx.Provide(NewService),
)
