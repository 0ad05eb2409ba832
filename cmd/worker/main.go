package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finbooks/resilience/aggregation"
	"github.com/finbooks/resilience/breaker"
	"github.com/finbooks/resilience/cache"
	cacheredis "github.com/finbooks/resilience/cache/redis"
	"github.com/finbooks/resilience/config"
	"github.com/finbooks/resilience/policies"
	"github.com/finbooks/resilience/queue"
	queuememory "github.com/finbooks/resilience/queue/memory"
	queueredis "github.com/finbooks/resilience/queue/redis"
	"github.com/finbooks/resilience/webhook"
	webhookredis "github.com/finbooks/resilience/webhook/redis"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	repo := webhookredis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer repo.Close(ctx)
	client := repo.GetClient()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	pingErr := repo.Ping(pingCtx)
	cancelPing()

	breakers := breaker.NewRegistry(logger)

	// An unreachable backend degrades the queue and cache to their
	// in-process substrates instead of refusing to start.
	var q queue.Queue
	var backend cache.Backend
	if pingErr != nil {
		logger.Warn().Err(pingErr).Msg("redis unreachable, starting with in-process queue and cache")
		q = queuememory.NewQueue(logger)
		backend = cache.NewNopBackend()
	} else {
		q = queueredis.NewQueue(client, logger)
		backend = cacheredis.NewBackend(client)
	}
	defer q.Close()

	loader := policies.NewLoader()
	if cfg.PoliciesFile != "" {
		if err := loader.Load(cfg.PoliciesFile); err != nil {
			fmt.Println(err)
			return
		}
	}

	c := cache.New(backend, breakers, cache.Options{MaxEntries: cfg.CacheMaxEntries}, logger)
	aggregates := aggregation.NewService(c, repo, logger)

	throttle := rate.NewLimiter(rate.Limit(float64(cfg.DeliveriesPerMinute)/60.0), cfg.DeliveriesPerMinute/10+1)
	deliverer := webhook.NewDeliverer(repo, breakers, &http.Client{}, q, loader, throttle, logger)
	dispatcher := webhook.NewDispatcher(repo, deliverer, loader, logger)

	worker := webhook.NewWorker(q, dispatcher, deliverer, repo, aggregates.UpdateMonthly, cfg.WorkerConcurrency, logger)
	worker.Run(ctx)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
