package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/medping/golang_services/internal/platform/config"
)

const serviceName = "broadcast_service"

var (
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "broadcast_service",
	Short: "Proximity request broadcast and fulfillment coordinator",
	Long: `broadcast_service fans a requester's request out to every active provider
within a radius, collects their offers, and settles each request exactly once
through selection, cancellation or unanimous rejection.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	v = config.New()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.defaults.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	if err := v.BindPFlag("LOG_LEVEL", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func initConfig() error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	var err error
	cfg, err = config.Load(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return nil
}
