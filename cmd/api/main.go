package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carwash/internal/api"
	"carwash/internal/catalog"
	"carwash/internal/config"
	"carwash/internal/database"
	"carwash/internal/domain"
	"carwash/internal/events"
	"carwash/internal/export"
	"carwash/internal/google"
	"carwash/internal/jobs"
	"carwash/internal/logging"
	"carwash/internal/metrics"
	"carwash/internal/notify"
	"carwash/internal/repository"
	"carwash/internal/schedule"
	"carwash/internal/service"
	"carwash/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	engine, err := schedule.NewEngineFromConfig(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	cat, err := catalog.New(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"),
		database.WithLocation(engine.Location()),
		database.WithMigrationTable(cfg.Database.MigrationTable),
	)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, logger)
	defer (func() { _ = repository.Close(redisClient) })()

	eventBus := events.NewEventBus(logging.Component(logger, "events"))
	eventBus.Subscribe(auditHandler(logging.Component(logger, "audit")),
		events.EventBookingCreated, events.EventBookingConfirmed, events.EventBookingCancelled)

	sheets := initGoogleSheets(ctx, cfg, logger)
	var sheetsWriter domain.SheetsWriter
	if sheets != nil {
		sheetsWriter = sheets
	}

	outbox := worker.NewOutboxWorker(
		db,
		initMailer(ctx, cfg, logger),
		sheetsWriter,
		cat,
		redisClient,
		worker.Options{ShopName: cfg.Notifications.ShopName, Slots: engine},
		logging.Component(logger, "outbox"),
	)
	go outbox.Start(ctx)
	// runs before redis and the database are closed
	defer (func() {
		stop()
		select {
		case <-outbox.Done():
		case <-time.After(10 * time.Second):
			logger.Warn().Msg("outbox worker did not stop in time")
		}
	})()

	limiter, memoryLimiter := initRateLimiter(redisClient, logger)

	bookings := service.NewBookingService(
		db,
		engine,
		cat,
		limiter,
		eventBus,
		outbox,
		service.Options{
			MaxBookingDays:    cfg.Booking.MaxBookingDays,
			MaxRangeDays:      cfg.Exports.MaxRangeDays,
			RateLimitBookings: cfg.Booking.RateLimitBookings,
			RateLimitWindow:   time.Duration(cfg.Booking.RateLimitWindow) * time.Second,
			DefaultRegion:     cfg.Booking.DefaultRegion,
		},
		logging.Component(logger, "booking"),
	)

	scheduler, err := initJobs(cfg, db, bookings, sheets, memoryLimiter, engine.Location(), logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer (func() { _ = scheduler.Stop() })()

	httpServer := api.NewHTTPServer(cfg.API, api.Dependencies{
		Bookings: bookings,
		Catalog:  cat,
		Exporter: export.NewExporter(engine, cat),
		Storage:  db,
		Outbox:   db,
	}, logging.Component(logger, "http"))

	startMetrics(ctx, cfg, logger)

	return serve(ctx, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initRateLimiter prefers Redis counters and degrades to process memory.
// The memory limiter is returned as well so its windows can be swept.
func initRateLimiter(client *redis.Client, logger *zerolog.Logger) (domain.RateLimiter, *repository.MemoryRateLimiter) {
	memory := repository.NewMemoryRateLimiter()
	if client == nil {
		return memory, memory
	}
	return repository.NewFailoverRateLimiter(repository.NewRedisRateLimiter(client), memory, logging.Component(logger, "rate-limit")), memory
}

func initMailer(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) notify.Mailer {
	mailLogger := logging.Component(logger, "mailer")
	if !cfg.Notifications.Enabled {
		return notify.NewLogMailer(mailLogger)
	}

	mailer, err := notify.NewSESMailer(ctx, cfg.Notifications.SES, mailLogger)
	if err != nil {
		logger.Warn().Err(err).Msg("ses init failed, emails will only be logged")
		return notify.NewLogMailer(mailLogger)
	}
	logger.Info().Str("region", cfg.Notifications.SES.Region).Msg("ses mailer ready")
	return mailer
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.BookingSpreadSheetID == "" {
		return nil
	}

	sheets, err := google.NewSheetsService(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.BookingSpreadSheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheets.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}
	if err := sheets.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets cache warm-up failed")
	}

	logger.Info().Msg("google sheets connected")
	return sheets
}

func initJobs(
	cfg *config.Config,
	db *database.DB,
	bookings *service.BookingService,
	sheets *google.SheetsService,
	limiter *repository.MemoryRateLimiter,
	loc *time.Location,
	logger *zerolog.Logger,
) (*jobs.Scheduler, error) {
	scheduler, err := jobs.NewScheduler(loc, logging.Component(logger, "jobs"))
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
		if err := scheduler.RegisterBackup(cfg.Backup.Schedule, backup); err != nil {
			return nil, fmt.Errorf("backup job: %w", err)
		}
	}
	if cfg.Reminders.Enabled {
		if err := scheduler.RegisterReminders(cfg.Reminders.Schedule, bookings, loc); err != nil {
			return nil, fmt.Errorf("reminders job: %w", err)
		}
	}
	if err := scheduler.RegisterOutboxPurge(db); err != nil {
		return nil, fmt.Errorf("outbox purge job: %w", err)
	}
	if err := scheduler.RegisterLimiterCleanup(limiter); err != nil {
		return nil, fmt.Errorf("limiter cleanup job: %w", err)
	}
	if sheets != nil && cfg.Google.SyncSchedule != "" {
		if err := scheduler.RegisterSheetsSync(cfg.Google.SyncSchedule, db, sheets, cfg.Booking.MaxBookingDays, loc); err != nil {
			return nil, fmt.Errorf("sheets sync job: %w", err)
		}
	}
	return scheduler, nil
}

// auditHandler writes every booking state change to the log.
func auditHandler(logger *zerolog.Logger) events.EventHandler {
	return func(event *events.Event) error {
		var p events.BookingEventPayload
		if err := event.Decode(&p); err != nil {
			return err
		}
		logger.Info().
			Str("event", event.Type).
			Int64("booking_id", p.BookingID).
			Str("status", p.Status).
			Str("changed_by", p.ChangedBy).
			Time("slot", p.Date).
			Msg("Booking event")
		return nil
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
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
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
