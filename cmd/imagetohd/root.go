/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/DHANNZHOST/imagetohd/internal/logging"
	"github.com/DHANNZHOST/imagetohd/relay"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imagetohd",
	Short: "Relay images to an upscaling service",
	Long: strings.TrimSpace(`
Accepts image uploads or image URLs over HTTP, forwards them to a third-party
upscaling endpoint and streams the enhanced image back to the caller.
    `),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		format, _ := cmd.Flags().GetString("log-format")
		return logging.Setup(level, format, cmd.ErrOrStderr())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		db, err := relay.GetDatabase(config.Database)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		if err := relay.PrepareDatabase(cmd.Context(), db); err != nil {
			return fmt.Errorf("failed to prepare database: %w", err)
		}

		app, err := relay.NewRelayApp(config, db)
		if err != nil {
			return fmt.Errorf("failed to create app: %w", err)
		}

		log.Info().
			Str("database", config.Database).
			Str("uploads", config.Uploads.Dir).
			Str("mode", string(config.Relay.Mode)).
			Str("staging", config.Staging.Backend).
			Msg("configuration loaded")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return relay.NewServer(config, app).Run(ctx)
	},
}

// loadConfig reads --config (if any) and applies the command line
// overrides on top of it.
func loadConfig(cmd *cobra.Command) (*relay.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	config, err := relay.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if !flags.Changed("log-level") && !flags.Changed("log-format") {
		if err := logging.Setup(config.Logging.Level, config.Logging.Format, cmd.ErrOrStderr()); err != nil {
			return nil, fmt.Errorf("invalid logging configuration: %w", err)
		}
	}
	if flags.Changed("addr") {
		config.Server.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("uploads") {
		config.Uploads.Dir, _ = flags.GetString("uploads")
	}
	if flags.Changed("database") {
		config.Database, _ = flags.GetString("database")
	}
	if flags.Changed("mode") {
		mode, _ := flags.GetString("mode")
		config.Relay.Mode = relay.Mode(mode)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("error executing command")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	rootCmd.PersistentFlags().StringP("database", "d", "", "Database file path")

	rootCmd.Flags().StringP("addr", "a", "", "Address to bind the webserver")
	rootCmd.Flags().StringP("uploads", "u", "", "Uploads directory path")
	rootCmd.Flags().StringP("mode", "m", "", "Relay mode (direct, two-hop, disk-staged)")
}
