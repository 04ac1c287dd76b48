package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/relister/internal"
	pkgconfig "github.com/starford/relister/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

// check validates the configuration and prints the effective job cadence.
func check(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	w := cmd.Root().Writer
	fmt.Fprintf(w, "config ok (%s)\n", cmd.String("config"))
	fmt.Fprintf(w, "marketplace: %s driver, %s\n", cfg.Marketplace.Driver, cfg.Marketplace.BaseURL)
	fmt.Fprintf(w, "database:    %s\n", cfg.Database.Driver)
	fmt.Fprintf(w, "telegram:    %t (%d admins)\n", cfg.Telegram.Enabled(), len(cfg.Telegram.AdminIDs))
	fmt.Fprintf(w, "reupload:    every %s, window %s\n", cfg.Jobs.Reupload.Interval, cfg.Jobs.Reupload.Window)
	fmt.Fprintf(w, "autolift:    every %s, window %s\n", cfg.Jobs.Autolift.Interval, cfg.Jobs.Autolift.Window)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "relister",
		Usage:   "Telegram-operated reupload and autolift automation for marketplace listings",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config; a missing file means defaults plus environment",
				Value:   "config/config.yaml",
				Sources: cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the bot, scheduler and HTTP server (default)",
				Action: serve,
			},
			{
				Name:   "check",
				Usage:  "validate the configuration and exit",
				Action: check,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
