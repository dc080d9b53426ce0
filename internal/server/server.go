package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/mordomozap/internal/config"
	connectiondomain "github.com/smallbiznis/mordomozap/internal/connection/domain"
	"github.com/smallbiznis/mordomozap/internal/observability"
	obslogger "github.com/smallbiznis/mordomozap/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/mordomozap/internal/observability/metrics"
	obstracing "github.com/smallbiznis/mordomozap/internal/observability/tracing"
	"github.com/smallbiznis/mordomozap/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
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

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Service  connectiondomain.Service
	Sessions *session.Registry `optional:"true"`
}

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	svc      connectiondomain.Service
	sessions *session.Registry
}

func NewServer(p Params) *Server {
	if p.Cfg.IsProduction() && p.Cfg.ProxyAPIKey == "" {
		p.Log.Warn("PROXY_API_KEY is not set, the connection proxy is unauthenticated")
	}
	return &Server{
		cfg:      p.Cfg,
		log:      p.Log.Named("http"),
		svc:      p.Service,
		sessions: p.Sessions,
	}
}

// RegisterRoutes mounts the connection proxy under /api/uaz.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/uaz", ProxyKeyRequired(s.cfg.ProxyAPIKey))
	api.POST("/status", s.Status)
	api.POST("/start-connection", s.StartConnection)
	api.POST("/reconnect", s.Reconnect)
	api.POST("/disconnect", s.Disconnect)
	api.POST("/send-test", s.SendTest)
	api.POST("/ensure-connected", s.EnsureConnected)

	if s.sessions != nil {
		api.GET("/session", s.SessionSnapshot)
		api.POST("/session/watch", s.WatchSession)
	}
}

func registerRoutes(r *gin.Engine, s *Server) {
	s.RegisterRoutes(r)
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
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
