package app

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"qabot/internal/backend"
	"qabot/internal/breaker"
	"qabot/internal/cache"
	"qabot/internal/config"
	"qabot/internal/events"
	"qabot/internal/gateway"
	"qabot/internal/history"
	"qabot/internal/logger"
	"qabot/internal/prober"
	"qabot/internal/router"
)

// Deps bundles the runtime dependencies of the gateway service.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Set      *backend.Set
	Breakers *breaker.Group
	Gateway  gateway.Service
	Prober   *prober.Prober
	Cache    cache.Cache
	History  history.Store
	Events   events.Publisher
}

// Build loads env, config, and shared components.
func Build() (Deps, error) {
	// A missing .env file is fine; real deployments set the environment.
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	set, err := backend.Load(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to load backend candidates: %w", err)
	}
	client := backend.NewClient(set, log)

	names := make([]string, 0, len(set.List()))
	for _, d := range set.List() {
		names = append(names, d.Name)
	}
	breakers := breaker.NewGroup(names, breaker.Config{
		Threshold:   cfg.BreakerThreshold,
		BaseBackoff: cfg.BreakerBaseBackoff,
		MaxBackoff:  cfg.BreakerMaxBackoff,
	})

	rt := router.New(set, client, breakers, router.Config{ProbeTimeout: cfg.ProbeTimeout}, log)
	pr := prober.New(set, client, breakers, cfg.ProbeInterval, cfg.ProbeTimeout, log)

	answerCache, err := buildCache(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize cache: %w", err)
	}
	store, err := buildHistory(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize history store: %w", err)
	}
	pub, err := buildEvents(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize events publisher: %w", err)
	}

	gw := gateway.New(set, rt, breakers, answerCache, store, pub, cfg.AnswerTTL, log)

	return Deps{
		Config:   cfg,
		Log:      log,
		Set:      set,
		Breakers: breakers,
		Gateway:  gw,
		Prober:   pr,
		Cache:    answerCache,
		History:  store,
		Events:   pub,
	}, nil
}

// Close releases the optional external connections.
func (d Deps) Close() {
	if err := d.Cache.Close(); err != nil {
		d.Log.Warn("cache close failed", "err", err)
	}
	if err := d.History.Close(); err != nil {
		d.Log.Warn("history close failed", "err", err)
	}
	if err := d.Events.Close(); err != nil {
		d.Log.Warn("events close failed", "err", err)
	}
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		log.Info("no REDIS_ADDR configured, answer caching disabled")
		return cache.NewNoOpCache(), nil
	}
	c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}
	log.Info("using Redis answer cache", "addr", cfg.RedisAddr)
	return c, nil
}

func buildHistory(cfg config.Config, log *slog.Logger) (history.Store, error) {
	if cfg.DBURL == "" {
		log.Info("no DB_URL configured, history disabled")
		return history.NewNoOpStore(), nil
	}
	s, err := history.NewPostgres(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
	}
	log.Info("using Postgres history store")
	return s, nil
}

func buildEvents(cfg config.Config, log *slog.Logger) (events.Publisher, error) {
	if cfg.QueueURL == "" {
		log.Info("no QUEUE_URL configured, attempt events disabled")
		return events.NewNoOpPublisher(), nil
	}
	nc, err := nats.Connect(cfg.QueueURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("publishing attempt events to NATS")
	return events.NewNATS(log, nc), nil
}
