// gatelink is a debug CLI for the gateway transport: probe health, send
// messages, abort runs, list sessions and tail the live event feed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/openclaw/gatelink/config"
	"github.com/openclaw/gatelink/logger"
	"github.com/openclaw/gatelink/str"
	"github.com/openclaw/gatelink/telemetry"
	"github.com/openclaw/gatelink/transport"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "gatelink",
	Short:         "Debug client for the agent gateway transport",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config file")
	rootCmd.PersistentFlags().String("gateway", "", "gateway websocket URL (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "trace, debug, info, warn or error")
	rootCmd.PersistentFlags().String("otlp-url", "", "OTLP collector URL for telemetry export")
}

// flagOrEnv resolves a setting from the flag first, then the environment.
func flagOrEnv(cmd *cobra.Command, flagName, envName string) string {
	if val, err := cmd.Flags().GetString(flagName); err == nil && val != "" {
		return val
	}
	return os.Getenv(envName)
}

func newLogger(cmd *cobra.Command) logger.Logger {
	if level := flagOrEnv(cmd, "log-level", "GATELINK_LOG_LEVEL"); level != "" {
		return logger.NewConsoleLogger(logger.ParseLevel(level))
	}
	return logger.NewConsoleLogger()
}

// loadConfig reads the config file when one is given, otherwise starts from
// defaults so --gateway alone is enough for ad hoc use.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &config.Config{}
		cfg.Gateway.URL = os.Getenv("GATELINK_GATEWAY_URL")
		cfg.Gateway.AuthToken = os.Getenv("GATELINK_AUTH_TOKEN")
	}
	if gateway := flagOrEnv(cmd, "gateway", ""); gateway != "" {
		cfg.Gateway.URL = gateway
	}
	return cfg, nil
}

// dial builds a connected client plus its shutdown chain.
func dial(ctx context.Context, cmd *cobra.Command) (*transport.Client, *config.Config, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	log := newLogger(cmd)

	shutdownTelemetry := func() {}
	tracer := telemetry.NoopTracer()
	if otlpURL := flagOrEnv(cmd, "otlp-url", "GATELINK_OTLP_URL"); otlpURL != "" {
		tel, shutdown, err := telemetry.New(ctx, "gatelink-cli", otlpURL, cfg.Telemetry.AuthToken)
		if err != nil {
			return nil, nil, nil, err
		}
		tracer = tel.Tracer
		shutdownTelemetry = shutdown
	}

	connCfg, err := cfg.ConnConfig()
	if err != nil {
		shutdownTelemetry()
		return nil, nil, nil, err
	}
	connCfg.Logger = log
	if masked, err := str.MaskURL(connCfg.URL); err == nil {
		log.Debug("connecting to gateway %s", masked)
	}

	client, err := transport.Dial(ctx, transport.Config{
		Conn:                 connCfg,
		IdempotencyStore:     newIdempotencyStore(cfg),
		IdempotencyRetention: cfg.IdempotencyRetention(),
		Tracer:               tracer,
	})
	if err != nil {
		shutdownTelemetry()
		return nil, nil, nil, err
	}
	cleanup := func() {
		client.Close()
		shutdownTelemetry()
	}
	return client, cfg, cleanup, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(healthCmd(), sendCmd(), abortCmd(), sessionsCmd(), tailCmd())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.NewConsoleLogger().Fatal("%v", err)
	}
}
