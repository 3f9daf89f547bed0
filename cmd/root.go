// -- cmd/root.go --

// Package cmd defines the mahoraga command line: a long-running triage daemon
// (serve), a crash log tailer (watch), and a one-shot triage run (triage).
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/internal/config"
	"github.com/xkilldash9x/mahoraga/internal/observability"
)

// NewRootCommand builds a fresh command tree. A new instance per execution
// keeps flag state from leaking between runs.
func NewRootCommand() *cobra.Command {
	var cfgFile string
	var appConfig *config.Config

	rootCmd := &cobra.Command{
		Use:   "mahoraga",
		Short: "Mahoraga is a confidence-scored bug triage service.",
		Long: `Mahoraga ingests bug reports (GitHub issues, crash logs, JUnit reports),
scores developer expertise from git history, asks an LLM for a root-cause
analysis, and either assigns the bug with an explanatory comment or routes it
to a human when confidence is too low.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				// Fall back to a console logger so the failure is visible.
				observability.InitializeLogger(config.LoggerConfig{
					Level: "info", Format: "console", ServiceName: "mahoraga",
				})
				return err
			}
			appConfig = cfg

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Info("Starting mahoraga", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default is ./config.yaml, then ~/.mahoraga/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	// Subcommands read the loaded config through the closure; PersistentPreRunE
	// has always run by the time RunE fires.
	getConfig := func() config.Interface { return appConfig }

	rootCmd.AddCommand(newServeCommand(getConfig))
	rootCmd.AddCommand(newTriageCommand(getConfig))
	rootCmd.AddCommand(newWatchCommand(getConfig))
	return rootCmd
}

// Execute runs the command tree under the given context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// loadConfig reads the config file (if any), overlays MAHORAGA_* environment
// variables, and validates the result.
func loadConfig(cfgFile string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".mahoraga"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("MAHORAGA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars carry the run.
	}

	return config.NewConfigFromViper(v)
}
