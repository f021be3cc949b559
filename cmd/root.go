package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// configPath is the directory searched for config.yaml or app.env
var configPath string

var rootCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Telemetry integration service for tower equipment",
	Long: `A service that polls equipment telemetry, maps it onto the catalogued
tower equipment, and serves the latest state and history over HTTP.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml or app.env")
}
