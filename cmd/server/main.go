package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"suemybrother/internal/api"
	"suemybrother/internal/api/handlers"
	"suemybrother/internal/api/middleware"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/engine/payments"
	"suemybrother/internal/engine/stepup"
	"suemybrother/internal/engine/suits"
	"suemybrother/internal/pkg/logger"
	"suemybrother/internal/platform/audit"
	"suemybrother/internal/platform/auth"
	"suemybrother/internal/platform/config"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/metrics"
	"suemybrother/internal/platform/notify"
	"suemybrother/internal/platform/oidc"
	"suemybrother/internal/platform/pay"
	"suemybrother/internal/platform/repositories"
	"suemybrother/internal/platform/session"
	"suemybrother/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	suitRepo := repositories.NewSuitRepository(db)
	payRepo := repositories.NewPaymentRepository(db)

	// Sessions
	var (
		store  session.Store
		pinger handlers.Pinger
	)
	switch cfg.Session.Store {
	case "redis":
		rs := session.NewRedisStore(cfg.Session.Redis.Addr, cfg.Session.Redis.Password, cfg.Session.Redis.DB)
		defer rs.Close()
		store, pinger = rs, rs
	default:
		store = session.NewMemoryStore(cfg.Session.TTL)
	}
	sessions := session.NewManager(store, auth.NewTokenService(cfg.Session), cfg.Session)

	// Outbound services
	notifyClient := notify.NewClient(cfg.Notify, nil)
	var email notify.EmailSender = notifyClient
	if cfg.Email.Provider == "smtp" {
		email = notify.NewSMTPSender(cfg.Email.SMTP)
	}
	notifier := notify.NewDispatcher(notifyClient, email)

	payClient := pay.NewClient(cfg.Pay, nil)
	idp := oidc.NewClient(cfg.OIDC, nil)
	defer idp.Close()

	// Engine
	resolver := identity.NewResolver(db, userRepo)
	suitSvc := suits.NewService(db, userRepo, suitRepo, payRepo, resolver, notifier)
	payEngine := payments.NewEngine(db, payClient, suitSvc, suitRepo, payRepo, cfg.Pay.FeeAmount)
	gate := stepup.NewGate()
	auditLogger := audit.NewLogger(db)

	deps := &api.Dependencies{
		SuitHandler:       handlers.NewSuitHandler(sessions, resolver, suitSvc, payEngine, cfg.Server.PublicURL),
		AuthHandler:       handlers.NewAuthHandler(sessions, resolver, idp, gate),
		AdminHandler:      handlers.NewAdminHandler(db, sessions, suitSvc, userRepo, auditLogger, gate, cfg.StepUp),
		AuditHandler:      handlers.NewAuditHandler(auditLogger),
		HealthHandler:     handlers.NewHealthHandler(db, pinger),
		MetricsHandler:    handlers.NewMetricsHandler(),
		SessionMiddleware: middleware.NewSessionMiddleware(sessions, resolver),
		CallbackLimiter:   middleware.NewRateLimiter(cfg.RateLimit.CallbackPerMinute, cfg.RateLimit.Burst),
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.Handler(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return workers.NewReconciler(payEngine, cfg.Pay.ReconcileInterval).Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info().Msg("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
