package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/config"
	"github.com/example/ride-tracking/internal/geocode"
	httpapi "github.com/example/ride-tracking/internal/http"
	"github.com/example/ride-tracking/internal/lifecycle"
	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/notify"
	"github.com/example/ride-tracking/internal/storage"
	"github.com/example/ride-tracking/internal/tracking"
)

const userAgent = "ride-tracking/1.0"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("ride-tracking", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
	}

	geocoder, err := buildGeocoder(cfg, rdb, logger)
	if err != nil {
		return err
	}

	hub := notify.NewHub(logger)
	sinks, closeSinks := buildSinks(cfg, rdb, hub, logger)
	defer closeSinks()
	events := notify.NewAsync(sinks, cfg.NotifyQueue, logger)
	defer events.Close()

	// The feed carries transitions, positions and cancellations for
	// cmd/consumer. It is separate from user notifications.
	var feed notify.Sink = notify.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		ks := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer ks.Close()
		kafkaFeed := notify.NewAsync(ks, cfg.NotifyQueue, logger)
		defer kafkaFeed.Close()
		feed = kafkaFeed
	}

	sched := tracking.NewScheduler(store, events, logger,
		tracking.WithInterval(cfg.TrackInterval),
		tracking.WithFeed(feed),
	)
	defer sched.Close()

	svc := lifecycle.NewService(store, geocoder, sched, events, logger, lifecycle.Config{
		GeocodeTimeout:    cfg.GeocodeTimeout,
		DispatchDelay:     cfg.DispatchDelay,
		DriverStartOffset: cfg.DriverStartOffset,
		ETASpeedMps:       cfg.ETASpeedMps,
	}, lifecycle.WithFeed(feed))
	defer svc.Close()

	n, err := sched.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume tracking: %w", err)
	}
	d, err := svc.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume dispatch: %w", err)
	}
	if n > 0 || d > 0 {
		logger.Info("rides resumed", "tracking", n, "dispatching", d)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(svc, hub, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-tracking listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.PGDSN == "" {
		logger.Info("using in-memory ride store")
		return storage.NewMemoryStore(), func() {}, nil
	}
	ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.RunMigrations {
		if err := ps.Migrate(ctx, cfg.MigrationPath); err != nil {
			_ = ps.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migration applied", "path", cfg.MigrationPath)
	}
	return ps, func() { _ = ps.Close() }, nil
}

func buildGeocoder(cfg config.ServerConfig, rdb *redis.Client, logger *slog.Logger) (geocode.Geocoder, error) {
	var g geocode.Geocoder
	if cfg.GoogleMapsAPIKey != "" {
		gg, err := geocode.NewGoogle(cfg.GoogleMapsAPIKey)
		if err != nil {
			return nil, fmt.Errorf("google geocoder: %w", err)
		}
		g = gg
		logger.Info("geocoding with google maps")
	} else {
		g = geocode.NewNominatim(cfg.NominatimURL, userAgent)
		logger.Info("geocoding with nominatim", "endpoint", cfg.NominatimURL)
	}
	if rdb != nil {
		g = geocode.NewCached(g, rdb, cfg.GeocodeCacheTTL, logger)
	}
	return geocode.Literal{Next: g}, nil
}

func buildSinks(cfg config.ServerConfig, rdb *redis.Client, hub *notify.Hub, logger *slog.Logger) (notify.Fanout, func()) {
	sinks := notify.Fanout{notify.LogSink{Logger: logger}, hub}
	var closers []func()

	if cfg.PushEndpoint != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.PushEndpoint, cfg.PushKey))
	}
	if rdb != nil {
		sinks = append(sinks, notify.NewRedisSink(rdb, cfg.RedisEventsChannel))
	}
	if cfg.NSQDAddr != "" {
		ns, err := notify.NewNSQSink(cfg.NSQDAddr, cfg.NSQTopic)
		if err != nil {
			logger.Warn("nsq sink disabled", "addr", cfg.NSQDAddr, "error", err)
		} else {
			sinks = append(sinks, ns)
			closers = append(closers, ns.Stop)
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}
