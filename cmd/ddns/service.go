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

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Updates the configured DNS records at the configured interval until stopped",
	Run: func(cmd *cobra.Command, args []string) {
		helper := CmdHelper{}
		logger := helper.GetLogger()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		updater := helper.GetUpdater(ctx, ddns.Recurring())
		if err := updater.Start(ctx); err != nil {
			logger.Fatal("failed to start updater", zap.Error(err))
		}
		logger.Info("service started", zap.Duration("interval", helper.GetStore().PollInterval()))

		<-updater.Done()
	},
}

func init() {
	rootCmd.AddCommand(serviceCmd)
}
