package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/engine/payments"
	"suemybrother/internal/engine/suits"
	"suemybrother/internal/pkg/logger"
	"suemybrother/internal/platform/config"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/models"
	"suemybrother/internal/platform/notify"
	"suemybrother/internal/platform/pay"
	"suemybrother/internal/platform/repositories"
)

// app holds the services a command needs, built once the config is known.
type app struct {
	cfg      *config.Config
	db       *database.DB
	users    *repositories.UserRepository
	suits    *suits.Service
	payments *payments.Engine
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

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

	return &app{cfg: cfg, db: db, users: userRepo, suits: suitSvc, payments: engine}, nil
}

func main() {
	var (
		configPath string
		a          *app
	)

	root := &cobra.Command{
		Use:           "manage",
		Short:         "Administrative commands for the suit service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(cmd.Context(), configPath)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.db.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file")

	var usersFile string
	addUsersCmd := &cobra.Command{
		Use:   "add-users",
		Short: "Create or activate staff users from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(usersFile)
			if err != nil {
				return err
			}
			defer f.Close()

			seeds, err := parseSeedFile(f)
			if err != nil {
				return err
			}
			created, err := seedAdmins(cmd.Context(), a.db, a.users, seeds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d users processed, %d created\n", len(seeds), created)
			return nil
		},
	}
	addUsersCmd.Flags().StringVar(&usersFile, "file", "users.yaml", "Seed file listing staff users")

	paymentsCmd := &cobra.Command{Use: "payments", Short: "Payment maintenance"}

	refreshCmd := &cobra.Command{
		Use:   "refresh <reference>",
		Short: "Re-query the provider for one payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.payments.Refresh(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "payment %s: status=%s finished=%t\n", out.Payment.Reference, out.Payment.Status, out.Payment.Finished)
			if out.Confirmed && out.Suit != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "suit %s confirmed\n", out.Suit.ID)
			}
			return nil
		},
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-query the provider for every unfinished payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.payments.RefreshUnfinished(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d payments refreshed\n", n)
			return nil
		},
	}
	paymentsCmd.AddCommand(refreshCmd, reconcileCmd)

	suitsCmd := &cobra.Command{Use: "suits", Short: "Suit inspection"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all suits",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.suits.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tPLAINTIFF\tDEFENDANT\tCREATED")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					s.ID, suits.StateOf(s), displayName(s.Plaintiff), displayName(s.Defendant),
					time.Unix(s.CreatedAt, 0).UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	suitsCmd.AddCommand(listCmd)

	root.AddCommand(addUsersCmd, paymentsCmd, suitsCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func displayName(u *models.User) string {
	switch {
	case u == nil:
		return "-"
	case u.Name != nil && *u.Name != "":
		return *u.Name
	case u.Email != nil:
		return *u.Email
	}
	return u.ID
}
