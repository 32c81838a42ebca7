package apple_iap

import (
	"go.uber.org/fx"

	cfgpkg "github.com/fatflowers/entitlement/pkg/config"
)

func NewReceiptClientFromConfig(cfg *cfgpkg.Config) *ReceiptClient {
	return NewReceiptClient(ReceiptClientOptions{
		ProductionURL: cfg.AppleIAP.ProductionURL,
		SandboxURL:    cfg.AppleIAP.SandboxURL,
		SharedSecret:  cfg.AppleIAP.SharedSecret,
	})
}

var Module = fx.Options(
	fx.Provide(NewReceiptClientFromConfig),
)
