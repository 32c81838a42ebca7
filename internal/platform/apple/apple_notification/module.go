package apple_notification

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/entitlement/pkg/config"
)

// NewDecoderFromConfig builds the shared decoder used by client validation and webhooks.
func NewDecoderFromConfig(cfg *cfgpkg.Config, log *zap.SugaredLogger) (*Decoder, error) {
	d, err := NewDecoder(DecoderOptions{
		VerifySignatures: cfg.AppleIAP.VerifySignatures,
		RootCertPEM:      cfg.AppleIAP.RootCertPEM,
	})
	if err != nil {
		return nil, err
	}
	if !d.Verifies() {
		log.Warnw("apple_signature_verification_disabled", "env", cfg.Env)
	}
	return d, nil
}

var Module = fx.Options(
	fx.Provide(NewDecoderFromConfig),
)
