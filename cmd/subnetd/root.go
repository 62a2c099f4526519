// subnetd is the subnet daemon: a single binary hosting the router,
// worker and gateway roles plus a streaming test client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hayotensor/subnet/pkg/config"
	"github.com/hayotensor/subnet/pkg/observability"
	"github.com/hayotensor/subnet/pkg/protocol"
	"github.com/hayotensor/subnet/pkg/protocol/codec"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "subnetd",
	Short:         "streamed task routing over correlated connections",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(routerCmd, workerCmd, gatewayCmd, clientCmd)
}

// setup loads configuration, installs the global logger and returns a
// context that ends on SIGINT/SIGTERM.
func setup(role string) (*config.Config, context.Context, context.CancelFunc, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := observability.SetupLogger(cfg.AppName+"."+role, cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cancel := func() {
		stop()
		_ = logger.Sync()
	}
	zap.L().Info("starting", zap.String("role", role), zap.String("version", version))
	return cfg, ctx, cancel, nil
}

// wire builds the codec registry and resolves the configured frame
// payload format.
func wire(cfg *config.Config) (*codec.Registry, protocol.Format, error) {
	reg, err := codec.NewRegistry()
	if err != nil {
		return nil, protocol.FormatUnknown, err
	}
	format := protocol.ParseFormat(cfg.WireFormat)
	if format == protocol.FormatUnknown {
		zap.L().Warn("unknown wire_format, falling back to cbor", zap.String("wire_format", cfg.WireFormat))
		format = protocol.FormatCBOR
	}
	return reg, format, nil
}
