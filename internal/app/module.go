package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/lumichat/billing/internal/app/api/server"
	"github.com/lumichat/billing/internal/app/service/catalog"
	"github.com/lumichat/billing/internal/app/service/checkout"
	"github.com/lumichat/billing/internal/app/service/eventlog"
	"github.com/lumichat/billing/internal/app/service/privilege"
	"github.com/lumichat/billing/internal/app/service/reconciler"
	"github.com/lumichat/billing/internal/app/service/webhookproc"
	"github.com/lumichat/billing/internal/app/store"
	"github.com/lumichat/billing/internal/platform/db"
	"github.com/lumichat/billing/internal/platform/stripeapi"
	"github.com/lumichat/billing/pkg/cache"
	"github.com/lumichat/billing/pkg/config"
	"github.com/lumichat/billing/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	cache.Module,
	store.Module,
	stripeapi.Module,
	catalog.Module,
	privilege.Module,
	eventlog.Module,
	reconciler.Module,
	checkout.Module,
	webhookproc.Module,
	server.Module,
)
