package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/entitlement/internal/app/api/server"
	"github.com/fatflowers/entitlement/internal/app/service/identity"
	notificationhandler "github.com/fatflowers/entitlement/internal/app/service/notification_handler"
	notificationlog "github.com/fatflowers/entitlement/internal/app/service/notification_log"
	"github.com/fatflowers/entitlement/internal/app/service/notifier"
	"github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/app/service/transaction"
	"github.com/fatflowers/entitlement/internal/app/service/validator"
	"github.com/fatflowers/entitlement/internal/platform/apple/apple_iap"
	"github.com/fatflowers/entitlement/internal/platform/apple/apple_notification"
	"github.com/fatflowers/entitlement/internal/platform/db"
	"github.com/fatflowers/entitlement/internal/platform/google/playstore"
	"github.com/fatflowers/entitlement/internal/platform/redis"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	redis.Module,
	apple_iap.Module,
	apple_notification.Module,
	playstore.Module,
	server.Module,
	validator.Module,
	identity.Module,
	notifier.Module,
	subscription.Module,
	notificationlog.Module,
	notificationhandler.Module,
	transaction.Module,
)
