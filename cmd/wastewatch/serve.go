package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wastewatch/internal/amqp"
	"wastewatch/internal/cache"
	"wastewatch/internal/cli"
	"wastewatch/internal/config"
	apphttp "wastewatch/internal/http"
	"wastewatch/internal/ingest"
	"wastewatch/internal/log"
	"wastewatch/internal/sensors"
	"wastewatch/internal/sensors/mqtt"
	"wastewatch/internal/session"
	"wastewatch/internal/transport/ws"
)

const (
	shutdownTimeout = 30 * time.Second
	cacheSweepEvery = time.Minute
)

var (
	servePort      string
	trustedProxies []string
	requestsPerMin int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API and every configured ingest source",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "HTTP port (overrides PORT)")
	serveCmd.Flags().StringSliceVar(&trustedProxies, "trusted-proxy", nil, "extra CIDR whose X-Forwarded-For is trusted (repeatable)")
	serveCmd.Flags().IntVar(&requestsPerMin, "rate-limit", 60, "mutating requests per minute per client")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	logger := cli.SetupLogger(cfg.LogLevel)
	ctx, cancel := cli.GracefulShutdown(cmd.Context(), logger)
	defer cancel()

	store, err := cli.InitStore(logger, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	comps, err := cli.InitCompartments(logger, cfg)
	if err != nil {
		return err
	}

	sess := session.New(session.Options{
		Store:        store.Records,
		Compartments: comps,
		PageSize:     cfg.PageSize,
		CacheTTL:     cfg.CacheTTL,
		Logger:       logger.WithComponent(log.ComponentSession).Logger,
	})
	router := ingest.NewRouter(sess, logger)

	if err := seed(ctx, logger, cfg, sess); err != nil {
		logger.Error("Seeding failed, starting with an empty dataset", log.FieldError, err)
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Session:           sess,
		Receiver:          router,
		Ready:             store.Ready,
		Logger:            logger,
		RequestsPerMinute: requestsPerMin,
		TrustedProxies:    trustedProxies,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting wastewatch server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		return nil
	})

	caches := cache.NewManager(logger.WithComponent(log.ComponentCache).Logger)
	for _, c := range sess.Caches() {
		caches.Register(c)
	}
	g.Go(func() error { return caches.Run(gctx, cacheSweepEvery) })

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("initialize AMQP client: %w", err)
		}
		defer client.Close()
		g.Go(func() error {
			return ignoreCanceled(client.ConsumePayloads(gctx, amqpHandler(router)))
		})
	} else {
		logger.Info("AMQP ingest disabled - no AMQP_URL provided")
	}

	if cfg.MQTTBroker != "" {
		sub, err := mqtt.NewSubscriber(mqtt.Config{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, router, logger)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("initialize MQTT subscriber: %w", err)
		}
		g.Go(func() error { return sub.Run(gctx) })
	}

	if cfg.FeedURL != "" {
		feed := ws.NewClient(ws.Options{
			URL:              cfg.FeedURL,
			ReconnectDelay:   cfg.FeedReconnectDelay,
			HandshakeTimeout: cfg.FeedHandshakeTimeout,
			Logger:           logger,
		}, router)
		g.Go(func() error {
			defer feed.Close()
			return ignoreCanceled(feed.Run(gctx))
		})
	}

	if cfg.SimulateSensors {
		sim := sensors.NewSimulator(sess, sensors.SimulatorOptions{
			Interval: cfg.SimulationInterval,
			Logger:   logger,
		})
		g.Go(func() error { return sim.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("Server stopped gracefully")
	return err
}

func seed(ctx context.Context, logger *log.Logger, cfg *config.Config, sess *session.Session) error {
	src, err := cli.SeedSource(ctx, logger, cfg)
	if err != nil || src == nil {
		return err
	}
	n, err := sess.Seed(ctx, src)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info("Dataset seeded", log.FieldRecords, n)
	}
	return nil
}

// amqpHandler feeds queue payloads to r. Payloads that can never apply
// are discarded instead of requeued.
func amqpHandler(r ingest.Receiver) func(context.Context, []byte) error {
	return func(ctx context.Context, payload []byte) error {
		_, err := r.Receive(ctx, log.TransportAMQP, payload)
		if errors.Is(err, ingest.ErrMalformed) || errors.Is(err, ingest.ErrAborted) {
			return amqp.Discard{Err: err}
		}
		return err
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
