package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/packfinderz-settlement/internal/app"
	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	pkgstripe "github.com/angelmondragon/packfinderz-settlement/pkg/stripe"
)

// runtime holds the dependencies shared by every subcommand.
type runtime struct {
	logg     *logger.Logger
	db       *db.Client
	services *app.Services
	dlq      *outbox.DLQRepository
}

func main() {
	rt := &runtime{}
	rootCmd := &cobra.Command{
		Use:           "settlectl",
		Short:         "Operator tooling for seller settlement and payouts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.open(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return rt.close()
		},
	}

	rootCmd.AddCommand(holdsCmd(rt))
	rootCmd.AddCommand(eligibleCmd(rt))
	rootCmd.AddCommand(payoutCmd(rt))
	rootCmd.AddCommand(scanCmd(rt))
	rootCmd.AddCommand(dlqCmd(rt))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (rt *runtime) open(ctx context.Context) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = "settlectl"
	rt.logg = logger.New(logger.Options{
		ServiceName: "settlectl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		Output:      os.Stderr,
	})

	rt.db, err = db.New(ctx, cfg.DB, cfg.FeatureFlags, rt.logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, rt.logg)
	if err != nil {
		return fmt.Errorf("bootstrap stripe client: %w", err)
	}
	rt.services, err = app.BuildServices(app.ServicesParams{
		Config:   cfg,
		Logger:   rt.logg,
		DB:       rt.db,
		Provider: stripeClient,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	rt.dlq = rt.services.DLQ
	return nil
}

func (rt *runtime) close() error {
	if rt.db == nil {
		return nil
	}
	return rt.db.Close()
}
