// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/config"
	"github.com/xkilldash9x/constellation/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// newRootCmd builds the command tree. Each call gets its own viper instance so
// tests never share state.
func newRootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "constellation",
		Short:        "Constellation propagates window geometry to every pipeline of every tab.",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}

			cfg, err := config.Load(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "constellation"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting constellation", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(newSimulateCmd(v))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command with a signal-aware context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// initializeConfig reads in the config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CONSTELLATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}

// configFrom returns the config stored by the root command.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not initialized")
	}
	return cfg, nil
}
