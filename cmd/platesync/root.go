package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fr0stylo/platesync/internal/adapters"
	"github.com/fr0stylo/platesync/internal/app/services"
	"github.com/fr0stylo/platesync/internal/config"
	"github.com/fr0stylo/platesync/internal/observability"
)

type globalOptions struct {
	DBDriver string
	DBPath   string
	DBDSN    string
	Verbose  bool
}

func newRootCmd() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:           "platesync",
		Short:         "Bulk plate import and reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(observability.WrapSlogHandler(handler)))
		},
	}
	cmd.PersistentFlags().StringVar(&opts.DBDriver, "db-driver", "", "database driver: sqlite or postgres (default from PLATESYNC_DB_DRIVER)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db-path", "", "sqlite database path without extension (default from PLATESYNC_DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.DBDSN, "db-dsn", "", "postgres connection string (default from PLATESYNC_DB_DSN)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log batch progress to stderr")

	cmd.AddCommand(newImportCmd(&opts))
	cmd.AddCommand(newStatusCmd(&opts))
	cmd.AddCommand(newReportCmd(&opts))
	cmd.AddCommand(newTemplateCmd())
	return cmd
}

func Execute() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies command-line overrides.
func loadConfig(opts *globalOptions) (config.Config, error) {
	if opts.DBDriver != "" {
		if err := os.Setenv("PLATESYNC_DB_DRIVER", opts.DBDriver); err != nil {
			return config.Config{}, err
		}
	}
	if opts.DBDSN != "" {
		if err := os.Setenv("PLATESYNC_DB_DSN", opts.DBDSN); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.DBPath != "" {
		cfg.Database.Path = opts.DBPath
	}
	return cfg, nil
}

type session struct {
	cfg     config.Config
	backend *adapters.Backend
	imports *services.ImportService
}

func openSession(ctx context.Context, cfg config.Config) (*session, error) {
	backend, err := adapters.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return &session{
		cfg:     cfg,
		backend: backend,
		imports: services.NewImportService(backend.Stores, cfg.ImportOptions(), cfg.Import.InitialStatus),
	}, nil
}

func (s *session) Close() error {
	return s.backend.Close()
}

func newTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Print a sample import file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), services.ImportTemplate)
			return err
		},
	}
}
