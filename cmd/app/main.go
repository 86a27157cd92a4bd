package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	_ "time/tzdata"

	"github.com/double-tu/blinko-to-obsidian/internal"
	pkgconfig "github.com/double-tu/blinko-to-obsidian/pkg/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

var version = "dev"

type runner func(ctx context.Context, opts ...internal.Option) error

func action(run runner) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithVersion(version),
			internal.WithFullSync(cmd.Bool("full")),
			internal.WithReload(func() (*internal.Config, error) { return loadConfig(cmd) }),
		}

		if err := run(ctx, opts...); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}

		return nil
	}
}

// loadConfig layers defaults, the config file and explicit flags, then
// validates the result.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	// The file is optional when the explicit flags carry everything.
	if err := pkgconfig.Read(configPath, cfg, !cmd.IsSet("config")); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyOverrides(cmd, cfg)
	if err := pkgconfig.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies explicitly set flags (or their env vars) over the
// file values.
func applyOverrides(cmd *cli.Command, cfg *internal.Config) {
	if cmd.IsSet("blinko-url") {
		cfg.Blinko.BaseURL = cmd.String("blinko-url")
	}
	if cmd.IsSet("blinko-token") {
		cfg.Blinko.Token = cmd.String("blinko-token")
	}
	if cmd.IsSet("vault") {
		cfg.Vault.Path = cmd.String("vault")
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "blinko-to-obsidian",
		Usage:   "Mirror Blinko notes into an Obsidian vault as Markdown files",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "blinko-url",
				Usage:   "Blinko API base URL, e.g. https://blinko.example.com/api/v1",
				Sources: cli.EnvVars("BLINKO_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "blinko-token",
				Usage:   "Blinko API token",
				Sources: cli.EnvVars("BLINKO_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "vault",
				Usage:   "Path to the Obsidian vault",
				Sources: cli.EnvVars("VAULT_PATH"),
			},
		},
		Action: action(internal.Run),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run periodic sync with the control API and event stream",
				Action: action(internal.Run),
			},
			{
				Name:  "sync",
				Usage: "Run one incremental sync pass and exit",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Forget the sync cursor and refetch every note",
					},
				},
				Action: action(internal.Sync),
			},
			{
				Name:   "reconcile",
				Usage:  "Remove vault notes deleted in Blinko and exit",
				Action: action(internal.Reconcile),
			},
			{
				Name:   "mcp",
				Usage:  "Serve sync tools over MCP stdio",
				Action: action(internal.ServeMCP),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
