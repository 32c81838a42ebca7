package transaction

import "go.uber.org/fx"

// Module exposes the purchase validation flow via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
)
