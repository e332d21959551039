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
	"github.com/spitit-app/backend/internal/auth"
	"github.com/spitit-app/backend/internal/config"
	"github.com/spitit-app/backend/internal/database"
	"github.com/spitit-app/backend/internal/entries"
	"github.com/spitit-app/backend/internal/llm"
	"github.com/spitit-app/backend/internal/logging"
	"github.com/spitit-app/backend/internal/server"
	"github.com/spitit-app/backend/internal/summaries"
	"github.com/spitit-app/backend/internal/users"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "spitit-api",
		Short: "SpitIt journaling backend service",
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
	cmd.PersistentFlags().String("signing-secret", "", "Bearer-token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("openai-base-url", defaults.GetString("openai.base_url"), "Text-generation API base URL")
	cmd.PersistentFlags().String("openai-api-key", "", "Text-generation API key (overrides env)")
	cmd.PersistentFlags().String("openai-model", defaults.GetString("openai.model"), "Text-generation model name")
	cmd.PersistentFlags().Int("openai-timeout-seconds", defaults.GetInt("openai.timeout_seconds"), "Text-generation call timeout in seconds")
	cmd.PersistentFlags().Int("summary-batch-limit", defaults.GetInt("summary.batch_limit"), "Maximum spits consumed per summary")
	cmd.PersistentFlags().String("summary-mode", defaults.GetString("summary.mode"), "Summary mode (backlog or daily)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "openai.base_url", "openai-base-url")
	bindFlag(cmd, "openai.api_key", "openai-api-key")
	bindFlag(cmd, "openai.model", "openai-model")
	bindFlag(cmd, "openai.timeout_seconds", "openai-timeout-seconds")
	bindFlag(cmd, "summary.batch_limit", "summary-batch-limit")
	bindFlag(cmd, "summary.mode", "summary-mode")
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "spitit-auth",
		Audience:      "spitit-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	idProvider := entries.NewUUIDProvider()

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
	})
	if err != nil {
		return err
	}

	entriesService, err := entries.NewService(entries.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	generator, err := llm.New(llm.Config{
		BaseURL: appConfig.OpenAIBaseURL,
		APIKey:  appConfig.OpenAIAPIKey,
		Model:   appConfig.OpenAIModel,
		Timeout: appConfig.GenerationTimeout,
	})
	if err != nil {
		return err
	}

	summariesService, err := summaries.NewService(summaries.ServiceConfig{
		Database:   db,
		Entries:    entriesService,
		Generator:  generator,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
		BatchLimit: appConfig.SummaryBatchLimit,
		Mode:       appConfig.SummaryMode,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:     tokenManager,
		UsersService:     usersService,
		EntriesService:   entriesService,
		SummariesService: summariesService,
		Logger:           logger,
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
