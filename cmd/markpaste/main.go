package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"markpaste/cfg"
	"markpaste/metrics"
	"markpaste/pkg/secrets"
	"markpaste/svc/api"
	"markpaste/svc/cache"
	"markpaste/svc/db"
	"markpaste/svc/events"
	"markpaste/svc/lim"
	"markpaste/svc/svc"
	"markpaste/svc/util"
)

const (
	walInterval     = 5 * time.Minute
	shutdownTimeout = 30 * time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthcheck())
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting markpaste API")
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.AnalyticsKeyFrom != "env" {
		key, err := secrets.Resolve(ctx, c.AnalyticsKeyFrom, c.AnalyticsKeyName)
		if err != nil {
			util.Fatal().Err(err).Str("source", c.AnalyticsKeyFrom).Msg("failed to load analytics API key")
		}
		c.AnalyticsAPIKey = cfg.NewSecret(key)
		util.Info().Str("source", c.AnalyticsKeyFrom).Msg("analytics API key loaded")
	}
	if c.AnalyticsAPIKey.Value() == "" {
		util.Warn().Msg("no analytics API key configured, /analytics will reject every request")
	}

	var (
		store  svc.Store
		sqlite *db.SQLite
	)
	switch c.StorageDriver {
	case cfg.DriverMongo:
		m, err := db.NewMongo(ctx, db.MongoConfig{
			URI:                 c.MongoURI.Value(),
			Database:            c.MongoDBName,
			Collection:          c.MongoCollection,
			AnalyticsCollection: c.MongoAnalyticsCollection,
			QueryTimeout:        c.DBQueryTimeout,
		})
		if err != nil {
			util.Fatal().Err(err).Str("uri", util.RedactURL(c.MongoURI.Value())).Msg("failed to connect to mongo")
		}
		store = m
		util.Info().Str("database", c.MongoDBName).Msg("mongo store initialized")
	default:
		sqlite, err = db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize database")
		}
		store = sqlite
		util.Info().Str("path", c.DatabasePath).Msg("database initialized")
	}
	defer store.Close()

	var (
		remote svc.RemoteCache
		ready  api.Pinger
	)
	if c.RedisURL != "" {
		rdb, err := db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis configured but unreachable")
			}
			util.Warn().Err(err).Msg("redis unavailable, continuing without shared cache")
		} else {
			defer rdb.Close()
			remote, ready = rdb, rdb
			util.Info().Str("url", util.RedactURL(c.RedisURL)).Msg("redis connected")
		}
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
	}
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	var pub events.Publisher = events.Nop{}
	if url := c.AMQPURL.Value(); url != "" {
		p, err := events.DialAMQP(url, c.AMQPExchange)
		if err != nil {
			util.Warn().Err(err).Str("url", util.RedactURL(url)).Msg("event bus unavailable, events will not be published")
		} else {
			pub = p
			util.Info().Str("exchange", c.AMQPExchange).Msg("event publisher connected")
		}
	}
	defer pub.Close()

	limiter, err := lim.New(lim.Config{
		CreateQuota:    c.RateLimit.CreateQuota,
		CreateWindow:   c.RateLimit.CreateWindow,
		RPM:            c.RateLimit.RPM,
		Burst:          c.RateLimit.Burst,
		TrustedProxies: c.TrustedProxies,
	})
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize rate limiter")
	}
	defer limiter.Stop()
	util.Info().
		Int("create_quota", c.RateLimit.CreateQuota).
		Dur("create_window", c.RateLimit.CreateWindow).
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	pasteSvc := svc.NewPaste(store, lruCache, remote, c)
	analyticsSvc := svc.NewAnalytics(store, pub)
	server := api.NewServer(c, pasteSvc, analyticsSvc, limiter, store, ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		return pasteSvc.RunCleaner(gctx, c.CleanupInterval)
	})
	if sqlite != nil {
		g.Go(func() error {
			return sqlite.RunWALMaintenance(gctx, walInterval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server stopped with error")
	}
	pasteSvc.Shutdown()
	util.Info().Msg("shutdown complete")
}

// healthcheck probes the local /health endpoint for container runtimes.
func healthcheck() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:"+port+"/health", nil)
	if err != nil {
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
