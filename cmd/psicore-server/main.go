package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/psicore/psicore/internal/config"
	"github.com/psicore/psicore/internal/domain/audit"
	"github.com/psicore/psicore/internal/domain/catalog"
	"github.com/psicore/psicore/internal/domain/invitation"
	"github.com/psicore/psicore/internal/domain/waitlist"
	"github.com/psicore/psicore/internal/platform/auth"
	"github.com/psicore/psicore/internal/platform/db"
	"github.com/psicore/psicore/internal/platform/metrics"
	"github.com/psicore/psicore/internal/platform/middleware"
	"github.com/psicore/psicore/internal/platform/notification"
	"github.com/psicore/psicore/internal/scheduler"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "psicore-server",
		Short: "Clinical scale scoring and remote assessment server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(scalesCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assessment API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
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
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or write a forward migration instead.")
			return nil
		},
	})

	return cmd
}

func scalesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scales",
		Short: "Manage scale definitions",
	}

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a scale definition JSON file without publishing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var def catalog.Definition
			if err := json.Unmarshal(raw, &def); err != nil {
				return fmt.Errorf("invalid JSON: %w", err)
			}

			vs, err := catalog.Load(def)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			fmt.Printf("OK: %s v%d (%q), %d item(s)\n",
				vs.Definition.ID, vs.Definition.Version, vs.Definition.Name, len(vs.Definition.Items))
			return nil
		},
	}
	cmd.AddCommand(validateCmd)

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an administrator JWT for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			adminID, _ := cmd.Flags().GetString("admin")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is not set")
			}

			tok, err := auth.IssueToken(auth.JWTConfig{
				Issuer:     cfg.AuthIssuer,
				Audience:   cfg.AuthAudience,
				SigningKey: []byte(cfg.AuthSigningKey),
			}, adminID, role, ttl)
			if err != nil {
				return err
			}

			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().String("admin", "local-admin", "Subject claim for the token")
	cmd.Flags().String("role", auth.RoleAdministrator, "Role claim for the token")
	cmd.Flags().Duration("ttl", 8*time.Hour, "Token lifetime")
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

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
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Scale catalog: published definitions are registered first so they
	// win over a built-in seed carrying the same (id, version).
	registry := catalog.NewRegistry()
	catalogRepo := catalog.NewRepoPG(pool)
	published, err := catalogRepo.ListPublished(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not load published scales; continuing with seeds only")
	}
	for _, def := range published {
		vs, err := catalog.Load(def)
		if err != nil {
			logger.Error().Err(err).Str("scale", def.ID).Int("version", def.Version).
				Msg("stored definition failed validation; skipping")
			continue
		}
		if err := registry.Register(vs); err != nil {
			logger.Error().Err(err).Str("scale", def.ID).Msg("failed to register stored definition")
		}
	}
	for _, def := range catalog.SeedDefinitions() {
		if _, err := registry.Get(def.ID, def.Version); err == nil {
			continue
		}
		vs, err := catalog.Load(def)
		if err != nil {
			logger.Fatal().Err(err).Str("scale", def.ID).Msg("seed definition failed validation")
		}
		if err := registry.Register(vs); err != nil {
			logger.Fatal().Err(err).Str("scale", def.ID).Msg("failed to register seed definition")
		}
	}
	logger.Info().Int("scales", len(registry.List())).Msg("scale catalog loaded")

	// Notifications. The mock senders log deliveries instead of calling a
	// provider; swap in real transports via NewManager when credentials for
	// an email/SMS gateway are configured.
	emailSender := &notification.MockEmailSender{}
	smsSender := &notification.MockSMSSender{}
	waSender := &notification.MockWhatsAppSender{}
	manager := notification.NewManager(emailSender, smsSender, waSender)
	dispatcher := notification.NewRetryingDispatcher(manager, []time.Duration{
		30 * time.Second, 2 * time.Minute, 10 * time.Minute,
	})
	templates := notification.NewTemplateEngine()

	// Repositories
	auditRepo := audit.NewRepoPG(pool)
	invStore := invitation.NewStorePG(pool)
	wlRepo := waitlist.NewRepoPG(pool)
	slotMgr := waitlist.NewSlotManager()

	// Invitation service
	invSvc := invitation.NewService(invStore, registry, auditRepo, dispatcher, templates, logger,
		invitation.Options{
			BaseURL:             cfg.PublicBaseURL,
			CompletionThreshold: cfg.CompletionThreshold,
			DefaultExpiryDays:   cfg.DefaultExpiryDays,
		})

	// Waiting-list cascader, wired after the service to break the cycle:
	// the cascader creates invitations, the service reports freed slots.
	cascader := waitlist.NewCascader(wlRepo, slotMgr, invSvc, cfg.WaitlistExpiryDays, logger)
	invSvc.SetCascader(cascader)

	// Deadline scheduler
	sched := scheduler.New(invStore, registry, auditRepo, dispatcher, templates, cascader, logger,
		scheduler.Options{
			TickInterval: cfg.SchedulerTickInterval,
			BaseURL:      cfg.PublicBaseURL,
		})
	schedCtx, stopSched := context.WithCancel(ctx)
	defer stopSched()
	go sched.Run(schedCtx)
	logger.Info().Dur("interval", cfg.SchedulerTickInterval).Msg("deadline scheduler started")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware. Patient-facing token endpoints, health and metrics
	// are never behind admin auth; everything else requires a bearer token
	// (or the permissive dev identity in development).
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		guarded := authMW(next)
		return func(c echo.Context) error {
			if auth.AuthSkipper(c) {
				return next(c)
			}
			return guarded(c)
		}
	})

	// API groups
	public := e.Group("/api/public")
	apiV1 := e.Group("/api/v1")

	// Rate limiting: the anonymous token surface gets a much tighter
	// budget than the authenticated admin API.
	adminRL := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if adminRL.RequestsPerSecond <= 0 {
		adminRL = middleware.DefaultRateLimitConfig()
	}
	publicRL := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.PublicRateLimitRPS,
		BurstSize:         cfg.PublicRateLimitBurst,
	}
	if publicRL.RequestsPerSecond <= 0 {
		publicRL = middleware.PublicRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(adminRL))
	public.Use(middleware.RateLimit(publicRL))

	apiV1.Use(auth.RequireRole(auth.RoleAdministrator, auth.RoleSupervisor))

	// Domain handlers
	invHandler := invitation.NewHandler(invSvc)
	invHandler.RegisterPublicRoutes(public)
	invHandler.RegisterAdminRoutes(apiV1)

	catalogHandler := catalog.NewHandler(registry, catalogRepo)
	catalogHandler.RegisterRoutes(apiV1)

	auditHandler := audit.NewHandler(auditRepo)
	auditHandler.RegisterRoutes(apiV1)

	wlHandler := waitlist.NewHandler(wlRepo)
	wlHandler.RegisterRoutes(apiV1)

	notifHandler := notification.NewHandler(manager)
	notifHandler.RegisterRoutes(apiV1)

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopSched()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
