package main

import (
	"log"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ddns",
	Short: "Keeps DNS records pointed at this host's current address",
	Long: `ddns resolves the public IPv4 and IPv6 addresses of this host using an ordered
list of resolvers and pushes every enabled DNS record whose address changed to its
provider (Cloudflare, Route 53).

Records, resolver order and plugin settings are read from the configuration file.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("failed to initialize command line parser: %s", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.json", "Path to the configuration file (.json, .yaml or .yml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file to load before reading the configuration")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Turns on verbose logging")
}
