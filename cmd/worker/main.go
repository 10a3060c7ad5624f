package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/engine/payments"
	"suemybrother/internal/engine/suits"
	"suemybrother/internal/pkg/logger"
	"suemybrother/internal/platform/config"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/notify"
	"suemybrother/internal/platform/pay"
	"suemybrother/internal/platform/repositories"
	"suemybrother/internal/workers"
)

// The worker runs the payment reconciler as its own process. Set
// pay.reconcile_interval to 0 on the server when using it.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	interval := flag.Duration("interval", 0, "Override pay.reconcile_interval")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	every := cfg.Pay.ReconcileInterval
	if *interval > 0 {
		every = *interval
	}
	if every <= 0 {
		log.Fatal().Msg("reconcile interval must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	userRepo := repositories.NewUserRepository(db)
	suitRepo := repositories.NewSuitRepository(db)
	payRepo := repositories.NewPaymentRepository(db)

	notifyClient := notify.NewClient(cfg.Notify, nil)
	var email notify.EmailSender = notifyClient
	if cfg.Email.Provider == "smtp" {
		email = notify.NewSMTPSender(cfg.Email.SMTP)
	}

	suitSvc := suits.NewService(db, userRepo, suitRepo, payRepo, identity.NewResolver(db, userRepo), notify.NewDispatcher(notifyClient, email))
	engine := payments.NewEngine(db, pay.NewClient(cfg.Pay, nil), suitSvc, suitRepo, payRepo, cfg.Pay.FeeAmount)

	log.Info().Msg("starting payment reconciler worker")
	if err := workers.NewReconciler(engine, every).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
}
