package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-image/internal/logger"
	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/config"
)

type versionInfo struct {
	Version string
	Commit  string
}

// app carries state shared by every subcommand once the root pre-run has
// loaded configuration.
type app struct {
	configPath string
	logLevel   string

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func()
}

func newRootCommand(info versionInfo) *cobra.Command {
	a := &app{closeLog: func() {}}

	cmd := &cobra.Command{
		Use:           "simpleimage",
		Short:         "Content-addressed image ingestion with lazy preset variants",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       fmt.Sprintf("%s.%s", info.Version, info.Commit),

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.closeLog()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML or JSON config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCommand(a),
		newMigrateCommand(a),
		newIngestCommand(a),
		newRegenerateCommand(a),
		newDeleteOwnerCommand(a),
		newDeleteAttachmentCommand(a),
		newEnvCommand(),
	)
	return cmd
}

// loadDotEnv loads .env files from the working directory and next to the
// config file. Variables already set win and missing files are ignored.
func loadDotEnv(configPath string) {
	envFiles := []string{".env", ".env.local"}
	dirs := []string{"."}
	if configPath != "" {
		dirs = append(dirs, filepath.Dir(configPath))
	}
	for _, dir := range dirs {
		for _, envFile := range envFiles {
			_ = godotenv.Load(filepath.Join(dir, envFile))
		}
	}
}

func (a *app) init() error {
	loadDotEnv(a.configPath)

	opts := []config.Option{config.WithEnv()}
	if a.configPath != "" {
		opts = []config.Option{config.WithFile(a.configPath)}
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	log, closeLog, err := logger.New(cfg.Log, cfg.IsProduction())
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	a.cfg = cfg
	a.logger = log
	a.closeLog = closeLog
	return nil
}

func (a *app) service(ctx context.Context, opts ...simpleimage.Option) (*config.Service, error) {
	svc, err := a.cfg.BuildService(ctx, a.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build service: %w", err)
	}
	return svc, nil
}

var errNoSchema = errors.New("the in-memory database has no schema to migrate")
