package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tallyworks/tallyd/internal/clock"
	"github.com/tallyworks/tallyd/internal/config"
	"github.com/tallyworks/tallyd/internal/counter/broadcast"
	"github.com/tallyworks/tallyd/internal/counter/domain"
	"github.com/tallyworks/tallyd/internal/counter/reconcile"
	"github.com/tallyworks/tallyd/internal/counter/service"
	"github.com/tallyworks/tallyd/internal/ratelimit"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

// NewEngine builds the shared gin engine with the middleware every route
// goes through. Handlers are attached by NewServer.
func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
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

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Svc        domain.Service
	Engine     *service.Service
	Registry   *broadcast.Registry
	Caster     *broadcast.Coalescer
	Reconciler *reconcile.Reconciler
	Limiter    *ratelimit.DeviceLimiter
	Clock      clock.Clock
	Logger     *zap.Logger
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	svc        domain.Service
	status     *service.Service
	registry   *broadcast.Registry
	caster     *broadcast.Coalescer
	reconciler *reconcile.Reconciler
	limiter    *ratelimit.DeviceLimiter
	clock      clock.Clock
	log        *zap.Logger
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		svc:        p.Svc,
		status:     p.Engine,
		registry:   p.Registry,
		caster:     p.Caster,
		reconciler: p.Reconciler,
		limiter:    p.Limiter,
		clock:      p.Clock,
		log:        p.Logger.Named("server"),
	}

	s.registerAPIRoutes()
	s.registerAdminRoutes()

	return s
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/counts", s.GetCount)
	api.GET("/hourly", s.GetHourlyRates)
	api.GET("/history", s.GetHistoricalData)
	api.POST("/counts/increment", s.Increment)
	api.POST("/counts/decrement", s.Decrement)
	api.GET("/live", s.LiveUpdates)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/v1/admin")

	admin.POST("/reset", s.ResetAllData)
	admin.GET("/engine", s.EngineStatus)
}
