// Package main is the entry point for the security service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/coamsaas/secore/internal/api"
	"github.com/coamsaas/secore/internal/audit"
	"github.com/coamsaas/secore/internal/auth"
	"github.com/coamsaas/secore/internal/config"
	"github.com/coamsaas/secore/internal/db"
	"github.com/coamsaas/secore/internal/encryption"
	"github.com/coamsaas/secore/internal/health"
	"github.com/coamsaas/secore/internal/mfa"
	"github.com/coamsaas/secore/internal/middleware"
	"github.com/coamsaas/secore/internal/notify"
	"github.com/coamsaas/secore/internal/risk"
	"github.com/coamsaas/secore/internal/security"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("COAM Security Service")
		fmt.Println()
		fmt.Println("Usage: securityd [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx := context.Background()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Database.
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Redis is optional; one-time codes fall back to process memory.
	var redisClient *redis.Client
	var codeStore mfa.CodeStore = mfa.NewMemoryCodeStore()
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		defer redisClient.Close()
		codeStore = mfa.NewRedisCodeStore(redisClient)
	}

	// Field encryption.
	keys, err := encryption.NewKeyStore(encryption.KeyStoreConfig{
		MasterKey:      cfg.EncryptionMasterKey,
		HistoricalKeys: cfg.HistoricalKeys(),
		Development:    cfg.IsDevelopment(),
	}, logger)
	if err != nil {
		return err
	}
	cipher := encryption.NewFieldCipher(keys)
	codec := encryption.NewCodec(cipher, logger)

	// Metrics registry.
	registry := prometheus.NewRegistry()
	auditMetrics := audit.NewMetrics()
	if err := auditMetrics.Register(registry); err != nil {
		return fmt.Errorf("register audit metrics: %w", err)
	}
	securityMetrics := security.NewMetrics()
	if err := securityMetrics.Register(registry); err != nil {
		return fmt.Errorf("register security metrics: %w", err)
	}

	// Audit chain.
	auditStore := audit.NewPostgresStore(conn)
	auditor, err := audit.NewLogger(ctx, auditStore,
		audit.WithLogger(logger),
		audit.WithMetrics(auditMetrics),
	)
	if err != nil {
		return fmt.Errorf("initialize audit chain: %w", err)
	}

	// Risk scoring.
	attempts := risk.NewPostgresAttemptStore(conn)
	incidents := risk.NewPostgresIncidentStore(conn)
	scorer := risk.NewScorer(attempts, incidents, auditor, logger)

	// MFA.
	mfaConfigs := mfa.NewPostgresConfigStore(conn)
	mfaOpts := []mfa.ManagerOption{
		mfa.WithAuditor(auditor),
		mfa.WithLogger(logger),
		mfa.WithIssuer(cfg.MFAIssuer),
	}
	if cfg.TwilioAccountSID != "" {
		mfaOpts = append(mfaOpts, mfa.WithSMS(
			notify.NewTwilioClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)))
	} else {
		logger.Warn("twilio not configured - sms mfa unavailable")
	}
	if cfg.SendGridAPIKey != "" {
		mfaOpts = append(mfaOpts, mfa.WithEmail(
			notify.NewSendGridClient(cfg.SendGridAPIKey, cfg.SenderEmail, cfg.SenderName)))
	} else {
		logger.Warn("sendgrid not configured - email mfa unavailable")
	}
	mfaManager := mfa.NewManager(mfaConfigs, codeStore, mfaOpts...)

	// Tokens and orchestration.
	jwtSvc := auth.NewJWTService(cfg.JWTSecret,
		auth.WithPreviousSecret(cfg.JWTPreviousSecret),
		auth.WithExpiries(
			time.Duration(cfg.AccessTokenExpireMinutes)*time.Minute,
			time.Duration(cfg.RefreshTokenExpireDays)*24*time.Hour,
		),
	)
	svc := security.NewService(jwtSvc, scorer, attempts, incidents,
		security.NewPostgresSessionStore(conn),
		security.NewPostgresConsentStore(conn),
		security.WithAuditor(auditor),
		security.WithLogger(logger),
		security.WithMetrics(securityMetrics),
		security.WithMFAConfigs(mfaConfigs),
		security.WithLockout(cfg.MaxFailedLoginAttempts,
			time.Duration(cfg.AccountLockoutMinutes)*time.Minute),
	)

	// HTTP surface.
	mux := http.NewServeMux()

	checkers := map[string]health.Checker{
		"database": health.NewDBChecker(conn),
	}
	if redisClient != nil {
		checkers["redis"] = health.NewRedisChecker(redisClient)
	}
	mux.HandleFunc("/health", health.Handler(checkers))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handlers := &api.Handlers{
		Service: svc,
		MFA:     mfaManager,
		Codec:   codec,
		Audit:   auditStore,
		Logger:  logger,
	}
	handlers.Routes(mux, middleware.Authenticate(jwtSvc))

	handler := middleware.RequestID(middleware.Logging(logger)(mux))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
