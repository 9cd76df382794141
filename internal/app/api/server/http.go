package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lumichat/billing/internal/app/api/handlers"
	mw "github.com/lumichat/billing/internal/app/api/middleware"
	"github.com/lumichat/billing/internal/app/service/catalog"
	"github.com/lumichat/billing/internal/app/service/checkout"
	"github.com/lumichat/billing/internal/app/service/privilege"
	"github.com/lumichat/billing/internal/app/service/reconciler"
	"github.com/lumichat/billing/internal/app/service/webhookproc"
	"github.com/lumichat/billing/internal/app/store"
	"github.com/lumichat/billing/pkg/cache"
	cfgpkg "github.com/lumichat/billing/pkg/config"
	"github.com/lumichat/billing/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Engine    *gin.Engine
	Log       *zap.SugaredLogger
	Cfg       *cfgpkg.Config
	Catalog   *catalog.Service
	Checkout  *checkout.Service
	Rec       *reconciler.Service
	Webhooks  *webhookproc.Service
	Privilege privilege.Resolver
	Gifts     store.GiftLedger
	Subs      store.Subscriptions
	Cache     cache.Store
	Metrics   *metrics.Prometheus
}

func registerRoutes(d routeDeps) {
	r, log, cfg := d.Engine, d.Log, d.Cfg

	if cfg.MetricsAddr != "" {
		d.Metrics.SetListenAddress(cfg.MetricsAddr)
		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}
	d.Metrics.Use(r)

	// Public group: health, catalog, processor webhook
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterCatalogRoutes(apiV1, d.Catalog)
	handlers.RegisterWebhookRoutes(apiV1, d.Webhooks, log)

	// Authenticated user APIs
	authed := apiV1.Group("/")
	authed.Use(mw.AuthMiddleware(cfg))
	handlers.RegisterCheckoutRoutes(authed, d.Checkout)
	handlers.RegisterSubscriptionRoutes(authed, d.Rec)

	// Operator APIs
	admin := apiV1.Group("/admin")
	admin.Use(mw.AuthMiddleware(cfg), mw.AdminMiddleware(d.Privilege))
	handlers.RegisterAdminRoutes(admin, d.Gifts, d.Subs, d.Catalog, d.Cache, log)
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
	fx.Provide(metrics.NewPrometheus),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
