package playstore

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/entitlement/pkg/config"
)

func NewClientFromConfig(cfg *cfgpkg.Config, log *zap.SugaredLogger) (*Client, error) {
	c, err := NewClient(Options{
		PackageName:        cfg.GooglePlay.PackageName,
		ServiceAccountJSON: cfg.GooglePlay.ServiceAccountJSON,
		ClientEmail:        cfg.GooglePlay.ClientEmail,
		PrivateKey:         cfg.GooglePlay.PrivateKey,
		TokenURL:           cfg.GooglePlay.TokenURL,
		APIBaseURL:         cfg.GooglePlay.APIBaseURL,
	})
	if err != nil {
		return nil, err
	}
	if !c.Configured() {
		log.Warnw("google_play_credentials_missing", "package_name", cfg.GooglePlay.PackageName)
	}
	return c, nil
}

var Module = fx.Options(
	fx.Provide(NewClientFromConfig),
)
