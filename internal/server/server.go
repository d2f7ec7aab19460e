package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rafaelgcostaa/adslibrary/internal/activity"
	activitydomain "github.com/rafaelgcostaa/adslibrary/internal/activity/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/authorization"
	"github.com/rafaelgcostaa/adslibrary/internal/clock"
	"github.com/rafaelgcostaa/adslibrary/internal/config"
	"github.com/rafaelgcostaa/adslibrary/internal/ledger"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/metering"
	meteringdomain "github.com/rafaelgcostaa/adslibrary/internal/metering/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/observability"
	obsmiddleware "github.com/rafaelgcostaa/adslibrary/internal/observability/logger"
	obsmetrics "github.com/rafaelgcostaa/adslibrary/internal/observability/metrics"
	obstracing "github.com/rafaelgcostaa/adslibrary/internal/observability/tracing"
	"github.com/rafaelgcostaa/adslibrary/internal/ratelimit"
	"github.com/rafaelgcostaa/adslibrary/internal/reconcile"
	"github.com/rafaelgcostaa/adslibrary/internal/statement"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	ledger.Module,
	metering.Module,
	activity.Module,
	statement.Module,
	ratelimit.Module,
	reconcile.Module,
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
	r.Use(httpMetrics.GinMiddleware())
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	ledgerSvc   ledgerdomain.Service
	meteringSvc meteringdomain.Service
	activitySvc activitydomain.Service
	statements  *statement.Service
	authzSvc    authorization.Service
	clock       clock.Clock
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	LedgerSvc   ledgerdomain.Service
	MeteringSvc meteringdomain.Service
	ActivitySvc activitydomain.Service
	Statements  *statement.Service
	AuthzSvc    authorization.Service
	Clock       clock.Clock
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		ledgerSvc:   p.LedgerSvc,
		meteringSvc: p.MeteringSvc,
		activitySvc: p.ActivitySvc,
		statements:  p.Statements,
		authzSvc:    p.AuthzSvc,
		clock:       p.Clock,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return clock.Normalize(time.Now())
	}
	return s.clock.Now()
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	// -------- Accounts --------
	api.POST("/accounts", s.CallerRequired(), s.authorize(authorization.ObjectAccount, authorization.ActionAccountOpen), s.OpenAccount)
	api.GET("/balance", s.CallerRequired(), s.authorize(authorization.ObjectLedger, authorization.ActionLedgerView), s.GetBalance)

	// -------- Charges --------
	api.GET("/prices", s.ListPrices)
	api.POST("/charges", s.CallerRequired(), s.authorize(authorization.ObjectCharge, authorization.ActionChargeCreate), s.CreateCharge)
	api.POST("/charges/:request_id/refund", s.CallerRequired(), s.authorize(authorization.ObjectCharge, authorization.ActionChargeRefund), s.RefundCharge)

	// -------- Credits --------
	api.POST("/credits", s.CallerRole(), s.authorize(authorization.ObjectCredit, authorization.ActionCreditCreate), s.CreateCredit)

	// -------- Ledger views --------
	api.GET("/activity", s.CallerRequired(), s.authorize(authorization.ObjectLedger, authorization.ActionLedgerView), s.RecentActivity)
	api.GET("/activity/summary", s.CallerRequired(), s.authorize(authorization.ObjectLedger, authorization.ActionLedgerView), s.ActivitySummary)
	api.GET("/transactions", s.CallerRequired(), s.authorize(authorization.ObjectLedger, authorization.ActionLedgerView), s.ListTransactions)
	api.GET("/statement", s.CallerRequired(), s.authorize(authorization.ObjectStatement, authorization.ActionStatementExport), s.ExportStatement)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/admin")
	admin.Use(s.CallerRole())

	admin.POST("/accounts/:id/disable", s.authorize(authorization.ObjectAccount, authorization.ActionAccountDisable), s.DisableAccount)
	admin.POST("/accounts/:id/enable", s.authorize(authorization.ObjectAccount, authorization.ActionAccountEnable), s.EnableAccount)
	admin.GET("/accounts/:id/verify", s.authorize(authorization.ObjectAccount, authorization.ActionAccountVerify), s.VerifyAccount)
}
