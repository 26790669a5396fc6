package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	p2h "github.com/NTOM/piskel2Houdini"
)

// ServeFlags holds overrides for the serve subcommand.
type ServeFlags struct {
	ConfigPath    string
	Listen        string
	MetricsListen string
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the cook dispatch server",
		Long: `Start the HTTP server that accepts cook requests and dispatches them
to hython workers. All configuration is loaded from a TOML file.

Examples:
  piskel2houdini serve config.toml
  piskel2houdini serve --config=config.toml --listen=:9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(serveFlags)
		},
	}

	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "listen address override (e.g. :8899)")
	cmd.Flags().StringVar(&serveFlags.MetricsListen, "metrics-listen", "", "metrics listen address override")
	return cmd
}

func runServe(flags *ServeFlags) error {
	if flags.ConfigPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=config.toml or provide as argument")
	}
	cfg, err := p2h.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}
	if flags.MetricsListen != "" {
		cfg.MetricsListen = flags.MetricsListen
	}

	cfg.Log.Setup()

	genv, err := cfg.GlobalEnv()
	if err != nil {
		return err
	}

	var sink p2h.HistorySink
	if cfg.History.DSN != "" {
		sink, err = p2h.NewHistorySink(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		defer func() {
			if closer, ok := sink.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		}()
	}

	disp := p2h.New(cfg.TaskEngine(), cfg.TaskDefaults(), sink)
	disp.SetGlobalEnv(genv)

	if err := p2h.RegisterMetricsDefault(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if cfg.MetricsListen != "" {
		go func() {
			if err := p2h.ServeMetrics(cfg.MetricsListen); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	srv := p2h.NewHTTPServer(cfg.Listen, cfg.BasePath, disp)
	slog.Info("serving", "listen", cfg.Listen, "base_path", cfg.BasePath, "kinds", disp.Kinds())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
