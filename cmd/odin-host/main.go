package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Capati/odin-wasm-host/internal/config"
	"github.com/Capati/odin-wasm-host/internal/host"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "odin-host",
		Short: "Native host for Odin WebAssembly programs",
		Long: `
odin-host runs WebAssembly programs built for the browser runtime natively.
Guests import js_load_file_sync to read assets synchronously; paths are
resolved against a local directory or an HTTP base URL.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to configuration file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.StringSlice("bundle-path", nil, "directories searched for bundles")
	flags.String("base-url", "", "serve assets from this http(s) base URL")
	flags.String("root-dir", ".", "serve assets from this directory")
	flags.Uint32("memory-pages", 256, "memory limit per guest in 64KiB pages")
	flags.String("host-module", "env", "import module name of the host functions")
	flags.Bool("wasi", true, "provide WASI preview1 to guests")
	flags.String("cache-dir", "", "persistent compilation cache directory")
	flags.Int("timeout", 30, "guest call timeout in seconds")
	flags.Int64("max-file-size", 64<<20, "largest asset a guest may load, in bytes")
	flags.Bool("no-cache", false, "disable the in-memory asset cache")

	cmd.AddCommand(
		runCommand(),
		fetchCommand(),
		bundlesCommand(),
		schemaCommand(),
	)

	return cmd
}

// session is the state shared by commands that need a host.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	host   *host.Host
}

func newSession(cmd *cobra.Command) (*session, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logger.Debug("Starting odin-host",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(cmd.Context())

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	h, err := host.New(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	return &session{ctx: ctx, cancel: cancel, logger: logger, host: h}, nil
}

func (s *session) Close() {
	// The run context may already be canceled.
	if err := s.host.Close(context.Background()); err != nil {
		s.logger.Error("Failed to close host", zap.Error(err))
	}
	s.cancel()
	_ = s.logger.Sync()
}

// newLogger builds a development logger at debug level and a production
// logger otherwise.
func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = atomicLevel

	return cfg.Build()
}
