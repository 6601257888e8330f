package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"

	"markpaste/cfg"
	"markpaste/metrics"
	"markpaste/svc/lim"
	"markpaste/svc/svc"
	"markpaste/svc/util"
)

// Pinger is anything /ready can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	db         Pinger
	rdb        Pinger
	httpServer *http.Server
}

// NewServer builds the router. rdb may be nil when no Redis is configured.
func NewServer(c *cfg.Cfg, p *svc.Paste, a *svc.Analytics, l *lim.Limiter, store Pinger, rdb Pinger) *Server {
	r := chi.NewRouter()
	mw := NewMw(l, c)
	s := &Server{
		router: r,
		cfg:    c,
		db:     store,
		rdb:    rdb,
	}
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	if c.Environment == "development" {
		r.Mount("/debug", middleware.Profiler())
	}
	r.Group(func(r chi.Router) {
		r.Use(mw.RequestID)
		r.Use(mw.Recoverer)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(accessLog))
		r.Use(mw.ClientIP)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(mw.JSONContentType)
		r.Use(mw.AnomalyDetection)
		hdl := &Hdl{paste: p, analytics: a, cfg: c}
		r.With(mw.RateLimitCreate).Post("/paste", hdl.CreatePaste)
		r.With(mw.RateLimitRead).Get("/paste/{id}", hdl.GetPaste)
		r.With(mw.ThrottleTracking).Post("/paste/{id}", hdl.TrackEvent)
		r.With(mw.RequireAPIKey).Get("/analytics", hdl.GetAnalytics)
		if c.AnalyticsKeyEndpoint {
			r.Get("/analytics/key", hdl.AnalyticsKey)
		}
	})
	s.httpServer = &http.Server{
		Addr:           ":" + c.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	return s
}
func accessLog(req *http.Request, status, size int, dur time.Duration) {
	route := "unmatched"
	if rctx := chi.RouteContext(req.Context()); rctx != nil && rctx.RoutePattern() != "" {
		route = rctx.RoutePattern()
	}
	metrics.RequestDuration.
		WithLabelValues(req.Method, route, strconv.Itoa(status)).
		Observe(dur.Seconds())
	hlog.FromRequest(req).Info().
		Str("method", req.Method).
		Str("route", route).
		Int("status", status).
		Int("size", size).
		Dur("duration", dur).
		Str("request_id", util.GetRequestID(req.Context())).
		Msg("http request")
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
