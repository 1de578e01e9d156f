package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cantiolabs/cantio/backend/internal/auth"
	"github.com/cantiolabs/cantio/backend/internal/config"
	"github.com/cantiolabs/cantio/backend/internal/database"
	"github.com/cantiolabs/cantio/backend/internal/logging"
	"github.com/cantiolabs/cantio/backend/internal/lyrics"
	"github.com/cantiolabs/cantio/backend/internal/quota"
	"github.com/cantiolabs/cantio/backend/internal/server"
	"github.com/cantiolabs/cantio/backend/internal/songs"
	"github.com/cantiolabs/cantio/backend/internal/storage"
	"github.com/cantiolabs/cantio/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cantio-api",
		Short: "Cantio lyrics-gated audio backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().String("lyrics-base-url", defaults.GetString("lyrics.base_url"), "Lyrics catalog base URL")
	cmd.PersistentFlags().String("storage-bucket", defaults.GetString("storage.bucket"), "Object store bucket")
	cmd.PersistentFlags().String("storage-region", defaults.GetString("storage.region"), "Object store region")
	cmd.PersistentFlags().String("storage-endpoint", defaults.GetString("storage.endpoint"), "Custom S3-compatible endpoint")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "lyrics.base_url", "lyrics-base-url")
	bindFlag(cmd, "storage.bucket", "storage-bucket")
	bindFlag(cmd, "storage.region", "storage-region")
	bindFlag(cmd, "storage.endpoint", "storage-endpoint")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "cantio-auth",
		Audience:      "cantio-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	objectStore, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:   appConfig.ObjectStoreBucket,
		Region:   appConfig.ObjectStoreRegion,
		Endpoint: appConfig.ObjectStoreEndpoint,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	catalogClient, err := lyrics.NewCatalogClient(lyrics.CatalogClientConfig{
		BaseURL: appConfig.LyricsBaseURL,
		Timeout: appConfig.LyricsTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	acquirer, err := lyrics.NewService(lyrics.ServiceConfig{
		Catalog: catalogClient,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	songsService, err := songs.NewService(songs.ServiceConfig{
		Database:   db,
		Objects:    objectStore,
		Acquirer:   acquirer,
		Clock:      time.Now,
		IDProvider: songs.NewUUIDProvider(),
		Logger:     logger,
		Limits: songs.Limits{
			MaxSongsPerOwner: appConfig.MaxSongsPerOwner,
			MaxAudioBytes:    appConfig.MaxAudioBytes,
			MaxVideoBytes:    appConfig.MaxVideoBytes,
			PreviewLines:     appConfig.PreviewLines,
			SignedURLTTL:     appConfig.SignedURLTTL,
		},
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	quotaService, err := quota.NewService(quota.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:    tokenManager,
		SongsService:    songsService,
		UsersService:    usersService,
		QuotaService:    quotaService,
		TrackSearcher:   catalogClient,
		EmbedDailyLimit: appConfig.EmbedDailyLimit,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
