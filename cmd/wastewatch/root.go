package main

import (
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "wastewatch",
	Short: "Waste collection dashboard backend",
	Long: `wastewatch keeps the collection records and compartment fill levels of a
smart bin in memory and serves them as a JSON API. Payloads arrive over HTTP,
WebSocket, AMQP, MQTT or an upstream live feed.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides LOG_LEVEL)")
}
