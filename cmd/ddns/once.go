package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Updates the configured DNS records once",
	Run: func(cmd *cobra.Command, args []string) {
		helper := CmdHelper{}
		logger := helper.GetLogger()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		updater := helper.GetUpdater(ctx)
		report, err := updater.RunOnce(ctx)
		if err != nil {
			logger.Fatal("update cancelled", zap.Error(err))
		}

		if missing := report.Resolution.Missing(); !missing.Empty() {
			logger.Warn("no address found", zap.Stringer("families", missing))
		}
		if failures := report.Failures(); len(failures) > 0 {
			logger.Fatal("some records could not be updated",
				zap.Int("failed", len(failures)),
				zap.Int("dispatched", len(report.Dispatches)))
		}
	},
}

func init() {
	rootCmd.AddCommand(onceCmd)
}
