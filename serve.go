package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"funnel-engine/internal/analytics"
	"funnel-engine/internal/config"
	"funnel-engine/internal/embed"
	"funnel-engine/internal/handler"
	"funnel-engine/internal/kv"
	"funnel-engine/internal/logging"
	"funnel-engine/internal/script"
	"funnel-engine/internal/session"
	"funnel-engine/internal/telegram"
)

const sweepInterval = time.Minute

func newServeCmd(dotenv *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the funnel HTTP service and, when configured, the Telegram bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*dotenv)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	sc, err := loadScript(cfg.ScriptPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client := &fasthttp.Client{
		Name:         "funnel-engine",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	sinks, closeSinks, err := buildSinks(cfg.Analytics, reg, client, logger)
	if err != nil {
		return err
	}
	defer closeSinks()
	dispatcher := analytics.NewDispatcher(sinks,
		analytics.WithBuffer(cfg.Analytics.Buffer),
		analytics.WithLogger(logger.Named("analytics")),
	)
	defer dispatcher.Close()

	var loader embed.ScriptLoader = embed.NopLoader{}
	if cfg.Player.ScriptURL != "" {
		loader = embed.NewHTTPScriptLoader(cfg.Player.ScriptURL, client)
	}

	opts := session.DefaultOptions()
	opts.Logger = logger
	opts.Tracker = dispatcher
	opts.Renderer = embed.NewPlayer(loader, logger.Named("player"))
	opts.Script = sc
	opts.CheckoutURL = cfg.CheckoutURL
	opts.TypingInterval = cfg.Timings.TypingInterval
	opts.PopupCheckDelay = cfg.Timings.PopupCheckDelay
	opts.ReportTimeout = cfg.Timings.ReportTimeout
	opts.Countdown = cfg.Timings.Countdown
	opts.SpotsCeiling = cfg.Timings.SpotsCeiling
	opts.SpotsFloor = cfg.Timings.SpotsFloor
	opts.IdleTimeout = cfg.Timings.SessionIdle
	opts.Reveal.SpotsInterval = cfg.Timings.SpotsInterval
	sessions := session.NewManager(store, opts)

	h := handler.New(sessions, handler.Options{
		Logger:      logger.Named("http"),
		Tracker:     dispatcher,
		Gatherer:    reg,
		CheckoutURL: cfg.CheckoutURL,
	})
	server := &fasthttp.Server{
		Handler:     h.Handle,
		Name:        "funnel-engine",
		ReadTimeout: 10 * time.Second,
		IdleTimeout: time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("funnel engine starting", zap.String("port", cfg.Port), zap.String("store", cfg.Store.Backend))
		if err := server.ListenAndServe(":" + cfg.Port); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Closing the views ends every open stream so shutdown can finish.
		sessions.Close()
		return server.Shutdown()
	})
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				sessions.Sweep()
			}
		}
	})
	if cfg.Telegram.Token != "" {
		host := telegram.New(sessions, telegram.Options{
			Logger:    logger,
			Script:    sc,
			PublicURL: cfg.PublicURL,
		})
		g.Go(func() error { return host.Run(gctx, cfg.Telegram.Token) })
	}

	err = g.Wait()
	logger.Info("funnel engine stopped", zap.Int64("analytics_dropped", dispatcher.Dropped()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openStore(ctx context.Context, cfg config.StoreConfig) (kv.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return kv.OpenSQLite(cfg.SQLitePath)
	case config.BackendRedis:
		return kv.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.SessionTTL)
	case config.BackendFirebase:
		return kv.OpenFirebase(ctx, cfg.FirebaseCredentials, cfg.FirebaseDatabaseURL, cfg.FirebaseRoot)
	default:
		return kv.NewMemory(), nil
	}
}

func loadScript(path string) (*script.Script, error) {
	if path == "" {
		return script.Default(), nil
	}
	return script.Load(path)
}

func buildSinks(cfg config.AnalyticsConfig, reg prometheus.Registerer, client *fasthttp.Client, logger *zap.Logger) ([]analytics.Sink, func(), error) {
	metrics, err := analytics.NewMetricsSink(reg)
	if err != nil {
		return nil, nil, err
	}
	sinks := []analytics.Sink{metrics}
	closeAll := func() {}

	if cfg.Log {
		sinks = append(sinks, analytics.NewLogSink(logger.Named("events")))
	}
	if cfg.CollectorURL != "" {
		sinks = append(sinks, analytics.NewCollectorSink(cfg.CollectorURL, client))
	}
	if cfg.AMQPURL != "" {
		amqp, err := analytics.DialAMQP(cfg.AMQPURL, cfg.Exchange)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, amqp)
		closeAll = func() {
			if err := amqp.Close(); err != nil {
				logger.Warn("closing amqp sink", zap.Error(err))
			}
		}
	}
	return sinks, closeAll, nil
}
