package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ayursutra/ayursutra/internal/config"
	"github.com/ayursutra/ayursutra/internal/domain/account"
	"github.com/ayursutra/ayursutra/internal/domain/identity"
	"github.com/ayursutra/ayursutra/internal/domain/notification"
	"github.com/ayursutra/ayursutra/internal/domain/scheduling"
	"github.com/ayursutra/ayursutra/internal/domain/therapy"
	"github.com/ayursutra/ayursutra/internal/platform/auth"
	"github.com/ayursutra/ayursutra/internal/platform/db"
	"github.com/ayursutra/ayursutra/internal/platform/jobs"
	"github.com/ayursutra/ayursutra/internal/platform/messaging"
	"github.com/ayursutra/ayursutra/internal/platform/middleware"
	"github.com/ayursutra/ayursutra/internal/platform/realtime"
	"github.com/ayursutra/ayursutra/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ayursutra-server",
		Short: "AyurSutra Panchakarma clinic API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the AyurSutra API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource returns the embedded SQL files unless dir names a
// directory on disk.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openMigrator(ctx context.Context, cmd *cobra.Command) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrationSource(dir)), pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closePool, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closePool()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Directory of SQL migrations (default: embedded)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closePool, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				appliedAt := ""
				if s.AppliedAt != nil {
					appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, s.State(), appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Directory of SQL migrations (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// viewerURL is the absolute address of the stateless therapy viewer, or
// empty to let the handler derive it from each request.
func viewerURL(publicBase string) string {
	publicBase = strings.TrimRight(strings.TrimSpace(publicBase), "/")
	if publicBase == "" {
		return ""
	}
	return publicBase + "/api/v1/therapy/view"
}

type redisChecker struct{ rdb *redis.Client }

func (r redisChecker) Name() string { return "redis" }

func (r redisChecker) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func emailSender(cfg *config.Config, logger zerolog.Logger) messaging.EmailSender {
	if cfg.SMTPAddr == "" {
		return messaging.NewLogSender(logger)
	}
	return messaging.NewSMTPSender(messaging.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	tx := db.NewTransactor(pool)

	// OTP challenges live in Redis when it is configured.
	var (
		otpStore     account.OTPStore
		healthChecks []db.Checker
		otpLimiter   middleware.Limiter
	)
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		otpStore = account.NewOTPStoreRedis(rdb)
		otpLimiter = middleware.NewRedisLimiter(rdb, "ratelimit:auth", cfg.OTPRateLimitBurst,
			middleware.WindowFor(cfg.OTPRateLimitRPS, cfg.OTPRateLimitBurst))
		healthChecks = append(healthChecks, redisChecker{rdb: rdb})
		logger.Info().Msg("otp challenges stored in redis")
	} else {
		otpStore = account.NewOTPStorePG(pool)
	}

	// Messaging
	templates := messaging.NewTemplateEngine()
	dispatcher := messaging.NewDispatcher(emailSender(cfg, logger), messaging.NewLogSender(logger), templates)

	var push messaging.PushSender
	if cfg.FirebaseCredsFile != "" {
		fcm, err := messaging.NewFirebasePushSender(ctx, cfg.FirebaseCredsFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialise firebase messaging")
		}
		push = fcm
		logger.Info().Msg("push notifications enabled")
	}

	// Realtime
	hub := realtime.NewHub(logger)

	// Domain services
	identitySvc := identity.NewService(identity.NewUserRepoPG(pool), identity.NewDoctorRepoPG(pool), tx)
	notificationSvc := notification.NewService(
		notification.NewNotificationRepoPG(pool), notification.NewDeviceRepoPG(pool), hub, push, logger)
	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSigningKey), cfg.JWTIssuer, cfg.TokenTTL)
	accountSvc := account.NewService(otpStore, identitySvc, dispatcher, tokens, account.Config{
		CodeLength:  cfg.OTPLength,
		TTL:         cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
	}, logger)
	schedulingSvc := scheduling.NewService(scheduling.NewAppointmentRepoPG(pool), identitySvc, tx,
		notificationSvc, templates, cfg.Location(), logger)
	therapySvc := therapy.NewService(therapy.NewPrescriptionRepoPG(pool), identitySvc, schedulingSvc, tx,
		notificationSvc, templates, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	// Spreadsheet exports can cover months of bookings.
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/api/v1/appointments/export"))

	// Auth middleware
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:          cfg.JWTIssuer,
		SigningKey:      []byte(cfg.JWTSigningKey),
		Skipper:         auth.AuthSkipper,
		QueryTokenPaths: []string{"/ws"},
	}))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, healthChecks...))

	// Sign-in is throttled per client and endpoint.
	authGroup := e.Group("/auth")
	authGroup.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.OTPRateLimitRPS,
		BurstSize:         cfg.OTPRateLimitBurst,
		KeyFunc:           middleware.IPAndPathKey,
		Limiter:           otpLimiter,
	}))
	account.NewHandler(accountSvc).RegisterRoutes(authGroup)

	// API
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1)
	notification.NewHandler(notificationSvc).RegisterRoutes(apiV1)
	therapy.NewHandler(therapySvc, viewerURL(cfg.PublicBaseURL)).RegisterRoutes(apiV1)
	realtime.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e)

	// Background jobs
	scheduler := jobs.New(logger)
	err = jobs.RegisterClinicJobs(scheduler, jobs.ClinicConfig{
		ReminderInterval: cfg.ReminderInterval,
		ReminderLead:     cfg.ReminderLead,
	}, schedulingSvc, accountSvc)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register jobs")
	}
	scheduler.Start()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	return nil
}
