package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rickgao/marketfeed/internal/config"
	"github.com/rickgao/marketfeed/internal/logging"
	"github.com/rickgao/marketfeed/internal/version"
)

type options struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "marketfeed",
		Short: "Real-time market data ingestion and distribution hub",
		Long: `marketfeed polls spot market providers on a fixed cycle, keeps a bounded
in-memory view of current and recent prices, and fans live updates out to
websocket clients. Upstream exchange streams are shared between clients that
subscribe to the same symbol and channel.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	root.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (defaults apply when empty)")
	root.Flags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file loaded before the config")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	})

	return root
}

func loadConfig(opts *options) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}
	if opts.configPath == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(opts.configPath)
}

func run(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		return err
	}
	defer logger.Sync()

	logger.Info("starting marketfeed",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("config", opts.configPath),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return err
	}

	if err := a.start(ctx); err != nil {
		logger.Error("failed to start", zap.Error(err))
		a.shutdown()
		return err
	}

	logger.Info("marketfeed running",
		zap.String("addr", cfg.Server.Addr),
		zap.Strings("sources", cfg.Ingest.Sources),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case runErr = <-a.serveErr:
		logger.Error("http server failed", zap.Error(runErr))
	}

	a.shutdown()
	logger.Info("marketfeed stopped")
	return runErr
}
