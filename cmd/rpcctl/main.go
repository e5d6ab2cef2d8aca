// Command rpcctl talks to Deribit over a persistent JSON-RPC WebSocket
// session: one-off calls, live subscriptions and a recorder that tapes
// pushes into TimescaleDB.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/deribit-rpc/internal/api"
	"github.com/rickgao/deribit-rpc/internal/config"
	"github.com/rickgao/deribit-rpc/internal/version"
)

// app carries what every command needs after flag parsing.
type app struct {
	configPath string
	testnet    bool
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "rpcctl",
		Short: "Deribit JSON-RPC WebSocket client",
		Long: `rpcctl keeps a persistent, authenticated JSON-RPC session with Deribit.

It answers heartbeat challenges, reconnects with backoff, restores
subscriptions after reconnects and resends batches that were cut off
by a dropped socket.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to config file (defaults apply when empty)")
	flags.BoolVar(&a.testnet, "testnet", false, "use test.deribit.com endpoints")
	flags.StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "override logging.format (text, json)")

	rootCmd.AddCommand(
		versionCmd(),
		statusCmd(a),
		callCmd(a),
		subscribeCmd(a),
		recordCmd(a),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// setup loads the config and installs the process logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadWithDefaults(a.configPath)
		if err != nil {
			return err
		}
	} else {
		a.cfg = config.Default()
	}

	if a.testnet {
		a.cfg.API.WSURL = api.TestWSURL
		a.cfg.API.RestURL = api.TestRESTURL
	}
	if a.logLevel != "" {
		a.cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		a.cfg.Logging.Format = a.logFormat
	}

	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	a.logger = newLogger(os.Stderr, a.cfg.Logging).With("instance", a.cfg.Instance.ID)
	slog.SetDefault(a.logger)

	a.logger.Debug("configuration loaded",
		"version", version.Version,
		"config", a.configPath,
		"ws_url", a.cfg.API.WSURL,
	)
	return nil
}
