package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jakedev796/github-notifier/internal"
	"github.com/jakedev796/github-notifier/pkg/api"
	"github.com/jakedev796/github-notifier/pkg/discord"
	"github.com/jakedev796/github-notifier/pkg/dispatch"
	"github.com/jakedev796/github-notifier/pkg/storage/tenants"
	"github.com/jakedev796/github-notifier/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	store, err := tenants.Open(tenants.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		AutoMigrate: config.Storage.AutoMigrate,
	})
	if err != nil {
		logger.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	messenger, err := discord.NewClient(discord.Config{
		Token:   config.Discord.Token,
		BaseURL: config.Discord.BaseURL,
		Timeout: time.Duration(config.Discord.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		logger.Fatalf("discord client: %v", err)
	}

	queue, err := dispatch.BuildQueue(config.Queue)
	if err != nil {
		logger.Fatalf("build queue: %v", err)
	}
	defer queue.Close()

	dispatcher := dispatch.NewDispatcher(store, queue.Publisher, config.Queue.Topic, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan struct{})
	if queue.Subscriber != nil {
		worker := dispatch.NewWorker(queue.Subscriber, config.Queue.Topic, store, messenger,
			dispatch.WithConcurrency(config.Queue.Concurrency),
			dispatch.WithLogger(internal.NewLogger("worker")),
		)
		go func() {
			defer close(workerDone)
			if err := worker.Run(ctx); err != nil {
				logger.Printf("worker stopped: %v", err)
			}
		}()
	} else {
		// Publish-only queue driver: an external consumer processes tasks.
		close(workerDone)
		logger.Printf("queue driver %s is publish-only, delivery worker disabled", config.Queue.Driver)
	}

	mux := http.NewServeMux()
	mux.Handle("/health", webhook.HealthHandler())
	mux.Handle(config.Server.WebhookPath, internal.NewRateLimitHandler(
		webhook.NewHandler(dispatcher, config.Server.MaxBodyBytes, logger),
		config.Server.RateLimitRPS,
		config.Server.RateLimitBurst,
	))
	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
	}
	if config.Admin.Enabled {
		adminLogger := internal.NewLogger("admin")
		mux.Handle("/api/tenants", &api.TenantsHandler{Store: store, Token: config.Admin.Token, Logger: adminLogger})
		mux.Handle("/api/destinations", &api.DestinationsHandler{Store: store, Token: config.Admin.Token, Logger: adminLogger})
		mux.Handle("/api/filters", &api.FiltersHandler{Store: store, Token: config.Admin.Token, Logger: adminLogger})
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}

	// Stop the worker and let in-flight deliveries finish.
	cancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		logger.Printf("worker drain timed out")
	}
}
