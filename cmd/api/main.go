package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finbooks/resilience/breaker"
	"github.com/finbooks/resilience/config"
	chihandlers "github.com/finbooks/resilience/internal/http/chi"
	"github.com/finbooks/resilience/metrics"
	"github.com/finbooks/resilience/policies"
	"github.com/finbooks/resilience/queue"
	queuememory "github.com/finbooks/resilience/queue/memory"
	queueredis "github.com/finbooks/resilience/queue/redis"
	"github.com/finbooks/resilience/ratelimit"
	"github.com/finbooks/resilience/webhook"
	webhookredis "github.com/finbooks/resilience/webhook/redis"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const TIMEOUT = 30 * time.Second

/*
 * The entrypoint is where the wiring happens: every dependency is built
 * here and handed down. Imports only flow one direction, from the
 * entrypoint into business packages and from there into storage.
 */

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

	// An unreachable backend degrades the queue and rate limiter to their
	// in-process substrates instead of refusing to start. The repository
	// keeps its lazy client and recovers when the server comes back.
	var q queue.Queue
	var deadLetters queue.DeadLetterReader
	var limiter *ratelimit.Limiter
	if pingErr != nil {
		logger.Warn().Err(pingErr).Msg("redis unreachable, starting with in-process queue and rate limiting")
		mq := queuememory.NewQueue(logger)
		q, deadLetters = mq, mq
		limiter = ratelimit.New(nil, breakers, logger)
	} else {
		rq := queueredis.NewQueue(client, logger)
		q, deadLetters = rq, rq
		limiter = ratelimit.New(client, breakers, logger)
	}
	defer q.Close()

	loader := policies.NewLoader()
	if cfg.PoliciesFile != "" {
		if err := loader.Load(cfg.PoliciesFile); err != nil {
			fmt.Println(err)
			return
		}
	}

	throttle := rate.NewLimiter(rate.Limit(float64(cfg.DeliveriesPerMinute)/60.0), cfg.DeliveriesPerMinute/10+1)
	deliverer := webhook.NewDeliverer(repo, breakers, &http.Client{}, q, loader, throttle, logger)

	collector := metrics.NewSystemCollector(breakers, q, repo)
	exporter, err := metrics.NewOTelExporter(collector)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer exporter.Shutdown(ctx)

	r := chihandlers.Handlers(ctx, chihandlers.Deps{
		Webhooks:       webhook.NewService(repo, cfg.RequireHTTPS),
		Deliverer:      deliverer,
		Queue:          q,
		DeadLetters:    deadLetters,
		Collector:      collector,
		Limiter:        limiter,
		RateLimit:      100,
		RateWindow:     time.Minute,
		MetricsHandler: exporter.ServeHTTP(),
	})
	http.Handle("/", r)
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      http.DefaultServeMux,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	fmt.Printf("Listening on port %s\n", cfg.Port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}
	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}
