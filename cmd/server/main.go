package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"salonbook/internal/api"
	"salonbook/internal/availability"
	"salonbook/internal/booking"
	"salonbook/internal/config"
	"salonbook/internal/db"
	"salonbook/internal/events"
	"salonbook/internal/metrics"
	"salonbook/internal/notify"
)

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SALONBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	database, err := db.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	avail := availability.NewService(database, &logger)
	var rdb *redis.Client
	if cfg.Redis.Address != "" && cfg.CacheTTL() > 0 {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		avail.UseRedisCache(rdb, cfg.CacheTTL())
	}

	// Shops, hours and services live in shops.yaml; every change is synced into the database.
	err = config.WatchShops(ctx, cfg.ShopsConfigPath, cfg.ShopsReloadInterval(),
		func(shops *config.ShopsConfig) {
			if err := applyShopsConfig(ctx, database, avail, shops); err != nil {
				logger.Error().Err(err).Msg("Failed to sync shops config")
				return
			}
			logger.Info().Int("shops", len(shops.Shops)).Msg("Shops config synced")
		},
		func(err error) {
			logger.Warn().Err(err).Msg("Ignoring invalid shops config")
		},
	)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ShopsConfigPath).Msg("failed to load shops config")
	}

	bus := events.NewEventBus()
	var notifier *notify.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.BotToken != "YOUR_BOT_TOKEN_HERE" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram bot error")
		}
		botAPI.Debug = cfg.Telegram.Debug
		notifier = notify.NewNotifier(botAPI, notify.DefaultConfig(), &logger)
		notifier.Subscribe(bus)
		go notifier.Run(ctx)
		logger.Info().Str("bot", botAPI.Self.UserName).Msg("Owner notifications enabled")
	} else {
		logger.Warn().Msg("telegram.bot_token not set, owner notifications disabled")
	}

	bookings := booking.NewService(database, avail, bus, &logger)
	go bookings.RunDepositSweep(ctx, cfg.DepositSweepInterval(), cfg.Deposit.AutoCancel)

	if cfg.Backup.Enabled {
		backups := db.NewBackupService(database, cfg.Backup.Path, cfg.BackupInterval(), cfg.BackupRetention(), &logger)
		go backups.Start(ctx)
	}

	if err := startReports(ctx, cfg, database, notifier, &logger); err != nil {
		logger.Fatal().Err(err).Msg("invalid reports config")
	}

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	server := api.NewHTTPServer(api.Options{
		Port:            cfg.Server.Port,
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
	}, database, avail, bookings, &logger)

	logger.Info().Msg("Salon booking server started")
	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server error")
	}
}

func startHealthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
