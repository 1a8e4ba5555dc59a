package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Travis-Britz/ddns/v2"
)

// ControlTokenEnv holds the bearer token for the control server when --token is not given.
const ControlTokenEnv = "DDNS_CONTROL_TOKEN"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the HTTP control API for editing records and running updates",
	Long: `Serves the HTTP control API for reading and editing the configuration
and for running updates on demand.

With --service the recurring updater runs in the same process.
Plugins are loaded once at startup: records added for a provider that was not
configured at startup fail as unknown providers until the next restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		listen, _ := cmd.Flags().GetString("listen")
		token, _ := cmd.Flags().GetString("token")
		service, _ := cmd.Flags().GetBool("service")

		helper := CmdHelper{}
		logger := helper.GetLogger()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if token == "" {
			token = os.Getenv(ControlTokenEnv)
		}
		if token == "" {
			logger.Warn("control API is not protected by a token")
		}

		var opts []ddns.Option
		if service {
			opts = append(opts, ddns.Recurring())
		}
		updater := helper.GetUpdater(ctx, opts...)

		server := ddns.NewControlServer(helper.GetStore(), updater, listen,
			ddns.WithControlLogger(logger),
			ddns.WithControlToken(token))
		if err := server.Start(); err != nil {
			logger.Fatal("failed to start control server", zap.Error(err))
		}
		defer server.Stop()

		if service {
			if err := updater.Start(ctx); err != nil {
				logger.Fatal("failed to start updater", zap.Error(err))
			}
		}

		<-ctx.Done()
		logger.Info("shutting down")
		updater.Stop()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "127.0.0.1:3000", "Address to serve the control API on")
	serveCmd.Flags().String("token", "", "Bearer token required by the control API (default $"+ControlTokenEnv+")")
	serveCmd.Flags().BoolP("service", "s", false, "Also run the recurring updater")
}
