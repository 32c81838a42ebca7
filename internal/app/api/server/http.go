package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/docs"
	"github.com/fatflowers/entitlement/internal/app/api/handlers"
	mw "github.com/fatflowers/entitlement/internal/app/api/middleware"
	nh "github.com/fatflowers/entitlement/internal/app/service/notification_handler"
	"github.com/fatflowers/entitlement/internal/app/service/statistics"
	subsvc "github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/app/service/transaction"
	cfgpkg "github.com/fatflowers/entitlement/pkg/config"
	metrics "github.com/fatflowers/entitlement/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

func newSessions(client *goredis.Client) *mw.Sessions {
	return mw.NewSessions(client)
}

func newStatistics(db *gorm.DB) *statistics.Service {
	return statistics.New(db)
}

type routeParams struct {
	fx.In

	Log          *zap.SugaredLogger
	Cfg          *cfgpkg.Config
	NotifHandler *nh.NotificationHandler
	TxMgr        transaction.TransactionManager
	Sub          *subsvc.Service
	Stats        *statistics.Service
	Sessions     *mw.Sessions
}

func registerRoutes(r *gin.Engine, p routeParams) {
	log := p.Log
	if p.Cfg.MetricsAddr != "" {
		prom := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		prom.SetListenAddress(p.Cfg.MetricsAddr)
		prom.Use(r)

		log.Infow("metrics started", "addr", p.Cfg.MetricsAddr)
	}

	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())

	subscription := apiV1.Group("/subscription")
	subscription.Use(mw.SessionAuth(p.Sessions, p.Cfg, log))
	handlers.RegisterSubscriptionRoutes(subscription, p.TxMgr, p.Sub, log)

	// vendors authenticate by payload signature, not session
	handlers.RegisterWebhookRoutes(apiV1.Group("/webhook"), p.NotifHandler,
		mw.PushTokenAuth(p.Cfg.Webhook.GooglePushToken, log))

	admin := apiV1.Group("/admin")
	admin.Use(mw.AdminAuth(p.Cfg, log))
	handlers.RegisterAdminRoutes(admin, p.Sub, p.Stats)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Provide(newSessions),
	fx.Provide(newStatistics),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
