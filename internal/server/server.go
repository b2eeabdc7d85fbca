package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paymirror/internal/apikey"
	apikeydomain "github.com/smallbiznis/paymirror/internal/apikey/domain"
	"github.com/smallbiznis/paymirror/internal/cloudmetrics"
	"github.com/smallbiznis/paymirror/internal/config"
	"github.com/smallbiznis/paymirror/internal/gateway"
	"github.com/smallbiznis/paymirror/internal/mode"
	"github.com/smallbiznis/paymirror/internal/observability"
	obsmiddleware "github.com/smallbiznis/paymirror/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paymirror/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paymirror/internal/observability/tracing"
	"github.com/smallbiznis/paymirror/internal/payment"
	paymentdomain "github.com/smallbiznis/paymirror/internal/payment/domain"
	"github.com/smallbiznis/paymirror/internal/providers"
	"github.com/smallbiznis/paymirror/internal/providers/pdf"
	"github.com/smallbiznis/paymirror/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	cloudmetrics.Module,
	fx.Provide(registerGin),
	mode.Module,
	gateway.Module,
	payment.Module,
	apikey.Module,
	ratelimit.Module,
	providers.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	paymentSvc     paymentdomain.Service
	apiKeySvc      apikeydomain.Service
	modeHolder     *mode.Holder
	pdfProvider    pdf.Provider
	webhookLimiter *ratelimit.WebhookLimiter
	syncLocker     *ratelimit.SyncLocker
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	PaymentSvc     paymentdomain.Service
	APIKeySvc      apikeydomain.Service
	ModeHolder     *mode.Holder
	PDFProvider    pdf.Provider
	WebhookLimiter *ratelimit.WebhookLimiter `optional:"true"`
	SyncLocker     *ratelimit.SyncLocker     `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		paymentSvc:     p.PaymentSvc,
		apiKeySvc:      p.APIKeySvc,
		modeHolder:     p.ModeHolder,
		pdfProvider:    p.PDFProvider,
		webhookLimiter: p.WebhookLimiter,
		syncLocker:     p.SyncLocker,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	// Signature-authenticated; no API key on purpose, providers cannot send one.
	s.engine.POST("/webhooks/provider", s.WebhookRateLimit(), s.HandleProviderWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.APIKeyRequired())

	// -------- Payments --------
	api.POST("/payments", s.RequireScope(apikeydomain.ScopePaymentsWrite), s.CreatePayment)
	api.GET("/payments", s.RequireScope(apikeydomain.ScopeRead), s.ListPayments)
	api.GET("/payments/:external_id", s.RequireScope(apikeydomain.ScopeRead), s.GetPayment)
	api.POST("/payments/:external_id/reconcile", s.RequireScope(apikeydomain.ScopePaymentsWrite), s.ReconcilePayment)
	api.GET("/payments/:external_id/receipt", s.RequireScope(apikeydomain.ScopeRead), s.GetPaymentReceipt)
	api.GET("/payments/:external_id/refunds", s.RequireScope(apikeydomain.ScopeRead), s.ListPaymentRefunds)

	// -------- Refunds --------
	api.POST("/refunds", s.RequireScope(apikeydomain.ScopeRefundsWrite), s.CreateRefund)
	api.GET("/refunds", s.RequireScope(apikeydomain.ScopeRead), s.ListRefunds)

	// -------- Events --------
	api.GET("/events", s.RequireScope(apikeydomain.ScopeRead), s.ListEvents)

	// -------- Sync --------
	api.POST("/sync", s.RequireScope(apikeydomain.ScopeSyncRun), s.RunSync)

	// -------- Mode --------
	api.GET("/mode", s.RequireScope(apikeydomain.ScopeRead), s.GetMode)
	api.PUT("/mode", s.RequireScope(apikeydomain.ScopeModeSwitch), s.SwitchMode)

	// -------- Operator keys --------
	api.GET("/api-keys", s.RequireScope(apikeydomain.ScopeRead), s.ListAPIKeys)
	api.GET("/api-keys/scopes", s.RequireScope(apikeydomain.ScopeRead), s.ListAPIKeyScopes)
	api.POST("/api-keys", s.RequireScope(apikeydomain.ScopeKeysManage), s.CreateAPIKey)
	api.POST("/api-keys/:key_id/rotate", s.RequireScope(apikeydomain.ScopeKeysManage), s.RotateAPIKey)
	api.POST("/api-keys/:key_id/revoke", s.RequireScope(apikeydomain.ScopeKeysManage), s.RevokeAPIKey)
}
