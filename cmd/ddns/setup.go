package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Travis-Britz/ddns/v2"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configures provider credentials",
}

var setupCloudflareCmd = &cobra.Command{
	Use:   "cloudflare [provider-id]",
	Short: "Stores a Cloudflare API token and registers it as a provider",
	Long: `Prompts for a Cloudflare API token, verifies that it is active and writes it
to a key file readable only by the current user. The provider id (default
"cloudflare") is then added to the plugins section of the configuration, pointing
at the key file.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		keyFile, _ := cmd.Flags().GetString("key-file")
		id := "cloudflare"
		if len(args) > 0 {
			id = args[0]
		}

		helper := CmdHelper{}
		logger := helper.GetLogger()
		store := helper.GetStore()

		if _, err := os.Stat(keyFile); err == nil {
			logger.Info("key file already exists, keeping it", zap.String("path", keyFile))
			if err := ddns.VerifyPermissions(keyFile); err != nil {
				logger.Fatal("unusable key file", zap.Error(err))
			}
		} else {
			token, err := promptToken()
			if err != nil {
				logger.Fatal("failed to read token", zap.Error(err))
			}
			if err := verifyToken(token); err != nil {
				logger.Fatal("failed to verify token", zap.Error(err))
			}
			logger.Info("token verified successfully")

			if err := ddns.WriteTokenFile(keyFile, token); err != nil {
				logger.Fatal("failed to write key file", zap.Error(err))
			}
			logger.Info("token written", zap.String("path", keyFile))
		}

		err := store.SetPlugin(id, ddns.PluginConfig{"kind": "cloudflare", "tokenFile": keyFile})
		if err != nil {
			logger.Fatal("failed to save configuration", zap.Error(err))
		}
		logger.Info("provider configured", zap.String("provider", id), zap.String("config", store.Path()))
	},
}

func promptToken() (string, error) {
	fmt.Fprint(os.Stderr, "Enter Cloudflare API Token: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("error reading from stdin: %w", err)
	}
	return string(b), nil
}

func verifyToken(token string) error {
	api, err := cloudflare.NewWithAPIToken(token)
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.AddCommand(setupCloudflareCmd)

	home, _ := os.UserHomeDir()
	setupCloudflareCmd.Flags().StringP("key-file", "k", filepath.Join(home, ".cloudflare"), "Path to the Cloudflare API token file")
}
