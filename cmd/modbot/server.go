package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/queuebot/queuebot/modbot/cachestore"
	"github.com/queuebot/queuebot/modbot/countstore"
	"github.com/queuebot/queuebot/modbot/engine"
	"github.com/queuebot/queuebot/modbot/setstore"
	"github.com/queuebot/queuebot/modbot/store"
	"github.com/queuebot/queuebot/platform/reddit"
	"github.com/queuebot/queuebot/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/plugin/opentelemetry/tracing"
)

type Server struct {
	logger *slog.Logger
	engine *engine.Engine
	rdb    *redis.Client
}

type Config struct {
	DatabaseURL       string
	MaxDBConnections  int
	DBTracing         bool
	RedisURL          string
	CommunitiesConfig string
	SetsFileJSON      string
	WebhookURL        string
	Creds             reddit.Credentials
	BackupCreds       *reddit.Credentials
	RateLimit         float64
	DryRun            bool
	Logger            *slog.Logger
}

// cache TTL for author lookups (account creation times)
const authorCacheTTL = 6 * time.Hour

func NewServer(ctx context.Context, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.SetupDatabase(config.DatabaseURL, config.MaxDBConnections)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if config.DBTracing {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(db)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	sets := setstore.NewDefaultSetStore()
	if config.SetsFileJSON != "" {
		if err := sets.LoadFromFileJSON(config.SetsFileJSON); err != nil {
			return nil, fmt.Errorf("initializing in-process setstore: %w", err)
		}
		logger.Info("loaded set config from JSON", "path", config.SetsFileJSON)
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	var rdb *redis.Client
	if config.RedisURL != "" {
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}

		cnt, err := countstore.NewRedisCountStore(ctx, rdb)
		if err != nil {
			return nil, fmt.Errorf("initializing redis countstore: %w", err)
		}
		counters = cnt

		csh, err := cachestore.NewRedisCacheStore(ctx, rdb, authorCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cachestore: %w", err)
		}
		cache = csh
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(10_000, authorCacheTTL)
	}

	client := reddit.NewClient(config.Creds, config.RateLimit, logger)
	account, err := client.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticating with platform: %w", err)
	}
	logger.Info("authenticated with platform", "account", account)

	eng := &engine.Engine{
		Logger:   logger,
		Platform: client,
		Store:    st,
		Counters: counters,
		Sets:     sets,
		Cache:    cache,
		Metrics:  engine.NewMetrics(prometheus.DefaultRegisterer),
		Account:  account,
		DryRun:   config.DryRun,
	}
	if config.BackupCreds != nil {
		eng.Backup = reddit.NewClient(*config.BackupCreds, config.RateLimit, logger)
	}
	if config.WebhookURL != "" {
		eng.Notifier = &engine.WebhookNotifier{URL: config.WebhookURL, Client: util.RobustHTTPClient(logger)}
	}

	configs, err := engine.LoadCommunityConfigs(config.CommunitiesConfig)
	if err != nil {
		return nil, fmt.Errorf("loading community config: %w", err)
	}
	if len(configs) == 0 {
		return nil, errors.New("no communities configured")
	}
	for _, cfg := range configs {
		c, err := engine.NewCommunity(cfg, sets, logger)
		if err != nil {
			return nil, err
		}
		if cfg.WebhookURL != "" {
			c.Notifier = &engine.WebhookNotifier{URL: cfg.WebhookURL, Client: util.RobustHTTPClient(logger)}
		}
		eng.Communities = append(eng.Communities, c)
	}
	logger.Info("configured communities", "count", len(eng.Communities), "dryRun", config.DryRun)

	s := &Server{
		logger: logger,
		engine: eng,
		rdb:    rdb,
	}
	return s, nil
}

func (s *Server) Run(ctx context.Context, period time.Duration, once bool) error {
	defer func() {
		if s.rdb != nil {
			if err := s.rdb.Close(); err != nil {
				s.logger.Error("closing redis client", "err", err)
			}
		}
	}()
	return s.engine.Run(ctx, period, once)
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}
