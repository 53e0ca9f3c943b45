package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"automove/internal/bus"
	"automove/internal/config"
	"automove/internal/domain"
	"automove/internal/metrics"
	"automove/internal/platform"
	"automove/internal/routing"
	"automove/internal/scheduler"
	"automove/internal/store"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and relocate ticket channels",
		Long:  "Starts the Discord bot, the optional webhook/metrics server and the routing loop. Press Ctrl+C to stop.",
		RunE:  runService,
	}
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if !cfg.Discord.Enabled {
		return errors.New("discord.enabled is false: nothing to relocate (run 'automove config set discord.enabled true')")
	}
	for _, w := range config.Warnings(cfg) {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, cats, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	events := bus.NewEventBus(logger)
	queue := bus.NewQueue(cfg.Routing.QueueSize, logger)

	if audit, ok := kv.(domain.RelocationLog); ok {
		store.SubscribeAudit(events, audit, logger)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		collector.Subscribe(events)
	}

	marker, _ := domain.NormalizeColor(cfg.Routing.StaffMarker) // validated on load

	discord, err := platform.NewDiscord(platform.DiscordConfig{
		Token:            cfg.Discord.Token,
		GuildID:          cfg.Discord.GuildID,
		StaffRoleIDs:     cfg.Discord.StaffRoleIDs,
		RelayBotIDs:      cfg.Discord.RelayBotIDs,
		TicketCategories: cfg.Discord.TicketCategories,
		StaffMarker:      marker,
		LogChannelID:     cfg.Discord.LogChannelID,
		RegisterCommands: cfg.Discord.RegisterCommands,
		Categories:       cats,
		Events:           events,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	svc := routing.NewService(routing.ServiceConfig{
		Host:       discord,
		Categories: cats,
		Relocator: routing.NewRelocator(discord, routing.RelocatorConfig{
			MovesPerMinute: cfg.Routing.MovesPerMinute,
			Burst:          cfg.Routing.MoveBurst,
			Logger:         logger,
		}),
		Classifier:     routing.NewClassifier(discord, cfg.Routing.HistoryLimit, logger),
		StaffPredicate: staffPredicate(cfg.Routing, marker),
		Scheduler:      scheduler.NewDeferred(logger),
		Events:         events,
		CloseDelay:     time.Duration(cfg.Routing.CloseDelaySeconds) * time.Second,
		Logger:         logger,
	})
	if collector != nil {
		collector.WatchPending(func() int { return len(svc.Pending()) })
	}

	var wg sync.WaitGroup

	if server := newServer(cfg, queue, events, svc, collector); server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				logger.Error("http server error", "err", err)
				stop()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := discord.Start(ctx, queue, svc); err != nil {
			logger.Error("discord error", "err", err)
			stop()
		}
	}()

	logger.Info("automove started. Press Ctrl+C to stop.",
		"storage", cfg.Storage.Driver,
		"scope", cfg.Storage.Scope,
		"webhook", cfg.Webhook.Enabled,
		"metrics", cfg.Metrics.Enabled,
	)

	// Blocks until shutdown; stops pending closing moves on return.
	svc.Run(ctx, queue)
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
		queue.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// staffPredicate decides which history messages count as a staff reply.
func staffPredicate(cfg config.RoutingConfig, marker string) routing.Predicate {
	var preds []routing.Predicate
	if marker != "" {
		preds = append(preds, routing.HasMarker(marker))
	}
	if cfg.MatchStaffAuthor || marker == "" {
		preds = append(preds, routing.FromStaff)
	}
	return routing.AnyOf(preds...)
}

func newServer(cfg *config.Config, queue *bus.Queue, events *bus.EventBus, svc *routing.Service, collector *metrics.Collector) *platform.Server {
	if !cfg.Webhook.Enabled && collector == nil {
		return nil
	}

	var webhook *platform.Webhook
	if cfg.Webhook.Enabled {
		webhook = platform.NewWebhook(platform.WebhookConfig{
			Path:   cfg.Webhook.Path,
			Secret: cfg.Webhook.Secret,
			Queue:  queue,
			Closer: svc,
			Logger: logger,
		})
	}

	var metricsHandler http.Handler
	if collector != nil {
		metricsHandler = collector.Handler()
	}

	return platform.NewServer(platform.ServerConfig{
		Host:        cfg.HTTP.Host,
		Port:        cfg.HTTP.Port,
		Webhook:     webhook,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Endpoint,
		Events:      events,
		Logger:      logger,
	})
}
