package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/config"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/database"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/engagement"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/projects"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/reader"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/server"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/stats"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/tracing"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serviceName = "agora-api"

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Agora civic participation backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMigrateCommand(), newIssueTokenCommand())

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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("notify.redis_address"), "Redis address for the notification stream (optional)")
	cmd.PersistentFlags().String("otlp-endpoint", defaults.GetString("tracing.otlp_endpoint"), "OTLP/gRPC trace collector endpoint (optional)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "notify.redis_address", "redis-address")
	bindFlag(cmd, "tracing.otlp_endpoint", "otlp-endpoint")
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

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
			if err != nil {
				return err
			}
			return closeDatabase(db)
		},
	}
}

func newIssueTokenCommand() *cobra.Command {
	var identity auth.SessionIdentity
	var role string
	command := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a session token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			parsedRole, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			identity.Role = parsedRole
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      appConfig.AuthTokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueSessionToken(identity)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	command.Flags().StringVar(&identity.UserID, "user-id", "", "User identifier (required)")
	command.Flags().StringVar(&identity.Email, "email", "", "User e-mail")
	command.Flags().StringVar(&identity.DisplayName, "name", "", "Display name")
	command.Flags().StringVar(&role, "role", string(auth.RoleUser), "Role (admin, author, moderator, user)")
	command.Flags().StringVar(&identity.Lang, "lang", "", "Preferred language")
	command.Flags().StringVar(&identity.CountryCode, "country", "", "ISO country code")
	_ = command.MarkFlagRequired("user-id")
	return command
}

func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func closeDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: serviceName,
		Endpoint:    appConfig.TracingEndpoint,
		SampleRatio: appConfig.TracingSampling,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace exporter shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer closeDatabase(db) //nolint:errcheck

	dispatcher := notify.NewDispatcher()
	var redisSink notify.Sink
	if appConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		defer redisClient.Close()
		redisSink = notify.NewRedisStreamSink(redisClient, appConfig.RedisStream, 0)
		logger.Info("notification stream enabled",
			zap.String("redis_address", appConfig.RedisAddress),
			zap.String("stream", appConfig.RedisStream))
	}
	fanout := notify.NewFanout(logger, dispatcher, redisSink)
	defer fanout.Wait()

	idProvider := ids.NewUUIDProvider()
	ledger, err := engagement.NewLedger(engagement.LedgerConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}
	projectService, err := projects.NewService(projects.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Stats:      stats.NewEngine(logger),
		Notifier:   fanout,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	commentService, err := comments.NewService(comments.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Ledger:     ledger,
		Notifier:   fanout,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	resolver, err := reader.NewResolver(reader.Config{
		Database:     db,
		Ledger:       ledger,
		Clock:        time.Now,
		Logger:       logger,
		DefaultLimit: appConfig.DefaultPageLimit,
		MaxLimit:     appConfig.MaxPageLimit,
	})
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessions,
		Users:          userService,
		Projects:       projectService,
		Comments:       commentService,
		Reader:         resolver,
		Realtime:       dispatcher,
		AllowedOrigins: appConfig.AllowedOrigins,
		ServiceName:    serviceName,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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
