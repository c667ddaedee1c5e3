// Command gatewayd runs the gateway as a standalone process: it reads
// configuration from the environment (spec §6), wires an Engine, and
// serves until SIGINT/SIGTERM triggers a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	gatewaycore "github.com/caddyserver/gatewaycore"
	"github.com/caddyserver/gatewaycore/internal/envconfig"
	"github.com/caddyserver/gatewaycore/internal/gwlog"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var logLevel string
	flags := pflag.NewFlagSet("gatewayd", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the gateway routing config (overrides GATEWAY_CONFIG_PATH)")
	flags.StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg := gatewaycore.EnvConfig(gwlog.Nop(), envconfig.OSSource)
	if configPath != "" {
		cfg.ConfigPath = configPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log := gwlog.New(cfg.Mode, cfg.LogLevel)
	defer log.Sync() //nolint:errcheck

	engine := gatewaycore.New(cfg, log, time.Now())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Run(ctx); err != nil {
		log.Error("gateway exited with error", zap.Error(err))
		return 1
	}

	log.Info("gateway shut down cleanly")
	return 0
}
