package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Travis-Britz/ddns/v2"
)

type CmdHelper struct {
	logger *zap.Logger
	store  *ddns.Store
}

func (h *CmdHelper) GetLogger() *zap.Logger {
	if h.logger == nil {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")

		logConfig := zap.NewDevelopmentConfig()
		if !verbose {
			logConfig.Level.SetLevel(zap.InfoLevel)
			logConfig.DisableCaller = true
		}

		logger, err := logConfig.Build()
		if err != nil {
			log.Fatalf("failed to initialize logger: %s", err)
		}

		h.logger = logger
	}

	return h.logger
}

// GetStore loads the environment file and then the configuration.
func (h *CmdHelper) GetStore() *ddns.Store {
	logger := h.GetLogger()

	if h.store == nil {
		envFile, _ := rootCmd.PersistentFlags().GetString("env-file")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Fatal("failed to load environment file", zap.String("path", envFile), zap.Error(err))
		}

		path, _ := rootCmd.PersistentFlags().GetString("config")
		store, err := ddns.OpenStore(path)
		if err != nil {
			logger.Fatal("failed to load config file", zap.Error(err))
		}
		logger.Debug("config loaded",
			zap.String("path", store.Path()),
			zap.Int("records", len(store.Records())),
			zap.Strings("resolvers", store.ResolverPriority()))

		h.store = store
	}

	return h.store
}

// GetRegistry builds every resolver in the priority list and every provider named by a record.
// Plugins that fail to build are logged; records using them fail as unknown providers.
func (h *CmdHelper) GetRegistry(ctx context.Context) *ddns.Registry {
	logger := h.GetLogger()
	store := h.GetStore()

	reg, err := ddns.BuildRegistry(ctx, store.ResolverPriority(), store.ProviderIDs(), store.Plugins(), ddns.PluginEnv{
		Logger:     logger,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	})
	if err != nil {
		logger.Warn("some plugins could not be loaded", zap.Error(err))
	}
	logger.Debug("plugins loaded",
		zap.Strings("resolvers", reg.ResolverIDs()),
		zap.Strings("providers", reg.ProviderIDs()))

	return reg
}

func (h *CmdHelper) GetUpdater(ctx context.Context, opts ...ddns.Option) *ddns.Updater {
	logger := h.GetLogger()

	opts = append([]ddns.Option{ddns.WithLogger(logger)}, opts...)
	u, err := ddns.New(h.GetStore(), h.GetRegistry(ctx), opts...)
	if err != nil {
		logger.Fatal("failed to create updater", zap.Error(err))
	}

	return u
}
