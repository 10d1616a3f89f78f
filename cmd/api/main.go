package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/background"
	"github.com/BradenHooton/bastion/internal/challenge"
	"github.com/BradenHooton/bastion/internal/codes"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/geoip"
	"github.com/BradenHooton/bastion/internal/handlers"
	middlewareCustom "github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/notify"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	redisclient "github.com/BradenHooton/bastion/internal/redis"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/risk"
	"github.com/BradenHooton/bastion/internal/routes"
	"github.com/BradenHooton/bastion/internal/services"
	"github.com/BradenHooton/bastion/internal/sms"
	"github.com/BradenHooton/bastion/internal/store"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		migrateCancel()
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	migrateCancel()

	// Initialize redis
	rdb, err := redisclient.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer rdb.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	stateRepo := repositories.NewSecurityStateRepository(db)
	backupRepo := repositories.NewBackupCodeRepository(db)

	// Volatile stores
	counterStore := store.NewRedisCounterStore(rdb, "ctr")
	challengeStore := store.NewChallengeStore(rdb)
	codeStore := store.NewCodeStore(rdb)

	// Quotas over the counter store
	limiter := ratelimit.New(counterStore, map[ratelimit.Scope]ratelimit.Quota{
		ratelimit.ScopeChallengeInit: {Limit: cfg.Challenge.MaxInitiationsPerIP, Window: cfg.Challenge.InitiationWindow},
		ratelimit.ScopeVerification:  {Limit: cfg.Challenge.MaxVerifyPerUser, Window: cfg.Challenge.VerifyWindow},
		ratelimit.ScopeResend:        {Limit: cfg.Challenge.MaxResends, Window: cfg.Challenge.ResendWindow},
		ratelimit.ScopeLockout:       {Limit: cfg.Security.LockoutThreshold, Window: cfg.Security.LockoutWindow},
	}, logger)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Notifications
	var notifySender notify.Sender
	if cfg.Notify.Enabled && cfg.Notify.FromAddress != "" {
		sesSender, err := notify.NewSESSender(cfg.Notify.AWSRegion, cfg.Notify.FromAddress, userRepo, logger)
		if err != nil {
			logger.Error("failed to initialize notification sender", slog.Any("error", err))
			os.Exit(1)
		}
		notifySender = sesSender
	}
	dispatcher := notify.NewDispatcher(notifySender, logger)

	// SMS dispatch
	var smsSender sms.Sender
	if cfg.Server.Env == "production" {
		snsSender, err := sms.NewSNSSender(cfg.Notify.AWSRegion, cfg.Notify.SMSSenderID, logger)
		if err != nil {
			logger.Error("failed to initialize sms sender", slog.Any("error", err))
			os.Exit(1)
		}
		smsSender = snsSender
	} else {
		smsSender = &sms.LogSender{Logger: logger}
	}

	// CAPTCHA verification
	var captcha risk.CaptchaVerifier
	if cfg.Security.CaptchaVerifyURL != "" {
		captcha = risk.NewHTTPCaptchaVerifier(cfg.Security.CaptchaVerifyURL, cfg.Security.CaptchaSecret)
	} else {
		logger.Warn("captcha passthrough verifier in use; tokens are not validated")
		captcha = risk.PassthroughCaptchaVerifier{}
	}

	// Anomaly scoring. Geolocation is optional; without a provider every
	// location is unknown and only device/agent signals score.
	scorer := risk.NewScorer(geoip.NoopLocator{}, risk.DefaultWeights(), logger)

	// Risk gate
	gate := risk.NewGate(stateRepo, attemptRepo, limiter, captcha, scorer, dispatcher, auditLogger, logger, risk.Config{
		DelayBase:        cfg.Security.DelayBase,
		DelayCap:         cfg.Security.DelayCap,
		CaptchaThreshold: cfg.Security.CaptchaThreshold,
		LockoutThreshold: cfg.Security.LockoutThreshold,
		LockoutTiers:     cfg.Security.LockoutTiers,
		AttemptRetention: cfg.Security.AttemptRetention,
		HistoryWindow:    cfg.Security.HistoryWindow,
	})

	// Code verifiers
	totpVerifier := codes.NewTOTPVerifier(codeStore)
	smsVerifier := codes.NewSMSVerifier(codeStore, cfg.Challenge.SMSCodeTTL)
	backupVerifier := codes.NewBackupVerifier(backupRepo)

	// Challenge orchestrator
	orchestrator := challenge.NewOrchestrator(
		challengeStore,
		totpVerifier,
		smsVerifier,
		backupVerifier,
		userRepo,
		limiter,
		gate,
		smsSender,
		auditLogger,
		logger,
		challenge.Config{
			TTL:         cfg.Challenge.TTL,
			MaxAttempts: cfg.Challenge.MaxAttempts,
			MaxSwitches: cfg.Challenge.MaxSwitches,
		},
	)

	// Grant manager and timing equalization
	grantManager := auth.NewGrantManager(cfg.Security.GrantSecret, cfg.Security.GrantExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Security.TimingDelayBaseMs,
		RandomDelayMs: cfg.Security.TimingDelayRandMs,
	})

	// Login service and handlers
	loginService := services.NewLoginService(userRepo, gate, orchestrator, grantManager, timingDelay, limiter, logger)
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Security.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, orchestrator, grantManager, ipConfig)

	// Cleanup manager for login attempt retention
	cleanupManager := background.NewCleanupManager(attemptRepo, logger, cfg.Security.CleanupInterval)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler)

	// Health check with both backing stores
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","redis":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	logger.Info("server stopped")
}
