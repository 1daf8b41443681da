package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auto-dns/docker-proxy/internal/app"
	"github.com/auto-dns/docker-proxy/internal/config"
	"github.com/auto-dns/docker-proxy/internal/logger"
)

type contextKey string

const configKey = contextKey("config")

var configFile string

var rootCmd = &cobra.Command{
	Use:   "docker-proxy",
	Short: "Reach Docker containers by name from the host",
	Long: "Resolves container names and addresses of a compose project or network and routes " +
		"connections to them through a SOCKS relay container attached to that network.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(configFile); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := context.WithValue(cmd.Context(), configKey, cfg)
		cmd.SetContext(ctx)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default is config.yaml)")
	flags.String("log-level", "INFO", "set log level (e.g. INFO, DEBUG, WARN)")
	flags.String("scope-kind", "project", "what to watch: project or network")
	flags.StringP("scope", "s", "", "compose project or network name (default: current directory name)")
	flags.String("network", "", "network the relay joins (default: <project>_default)")
	flags.String("driver", config.RuntimeDriverAPI, "runtime driver: api or cli")

	bindFlag("log.log_level", "log-level")
	bindFlag("app.scope_kind", "scope-kind")
	bindFlag("app.scope_name", "scope")
	bindFlag("app.network_override", "network")
	bindFlag("app.runtime_driver", "driver")

	rootCmd.AddCommand(upCmd, fetchCmd, dialCmd, lookupCmd, reverseCmd, routeCmd, indexCmd, composeCmd)
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// withApp loads the config stored by PersistentPreRunE, wires an App and
// closes it once fn returns.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a application) error) error {
	cfg := cmd.Context().Value(configKey).(*config.Config)
	logInstance := logger.SetupLogger(cfg)

	application, err := app.New(cfg, logInstance)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logInstance.Warn().Err(err).Msg("Failed to close app")
		}
	}()

	// Create a context with cancellation for graceful shutdown.
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return fn(ctx, application)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Execution error: %v\n", err)
		os.Exit(1)
	}
}
