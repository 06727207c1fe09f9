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

	"github.com/MarcoPoloResearchLab/chapterhub/internal/auth"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/config"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/database"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/ids"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/logging"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/polls"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/relay"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/server"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chapterhub-api",
		Short: "Chapter website content backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newCreateAdminCommand(), newSweepPollsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "CORS allowed origins")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Duration("token-ttl", defaults.GetDuration("auth.token_ttl"), "Bearer token lifetime")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Duration("poll-sweep-interval", defaults.GetDuration("polls.sweep_interval"), "Interval between expired poll sweeps")
	cmd.PersistentFlags().Bool("unique-voters", defaults.GetBool("polls.unique_voters"), "Reject repeat votes from the same voter id")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl", "token-ttl")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "polls.sweep_interval", "poll-sweep-interval")
	bindFlag(cmd, "polls.unique_voters", "unique-voters")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

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

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newCreateAdminCommand() *cobra.Command {
	var input users.SignupInput
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account or promote an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc services) error {
				user, created, err := svc.users.EnsureAdmin(ctx, input)
				if err != nil {
					return err
				}
				verb := "promoted"
				if created {
					verb = "created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s %s (%s)\n", user.Email, verb, user.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&input.Name, "name", "Administrator", "Admin display name")
	cmd.Flags().StringVar(&input.Email, "email", "", "Admin email")
	cmd.Flags().StringVar(&input.Password, "password", "", "Admin password, used only when creating the account")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSweepPollsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-polls",
		Short: "Deactivate polls whose end date has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc services) error {
				swept, err := svc.sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d polls deactivated\n", len(swept))
				return nil
			})
		},
	}
}

// services holds the wired services shared by every command.
type services struct {
	config  config.AppConfig
	logger  *zap.Logger
	db      *gorm.DB
	users   *users.Service
	content *content.Store
	polls   *polls.Service
	relay   *relay.Relay
	sweeper *polls.Sweeper
}

func withServices(ctx context.Context, run func(context.Context, services) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	registry := content.NewRegistry()
	db, err := database.OpenSQLite(appConfig.DatabasePath, registry, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := ids.NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Hasher:     auth.NewPasswordHasher(0),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	store, err := content.NewStore(content.StoreConfig{
		Database:   db,
		Registry:   registry,
		Clock:      time.Now,
		IDProvider: idProvider,
		Creators:   userService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	pollService, err := polls.NewService(polls.ServiceConfig{
		Database:     db,
		Clock:        time.Now,
		IDProvider:   idProvider,
		UniqueVoters: appConfig.UniqueVoters,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	changes := relay.New(relay.Config{BufferSize: appConfig.RealtimeBuffer})
	sweeper, err := polls.NewSweeper(polls.SweeperConfig{
		Service:   pollService,
		Publisher: changes,
		Interval:  appConfig.SweepInterval,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	return run(ctx, services{
		config:  appConfig,
		logger:  logger,
		db:      db,
		users:   userService,
		content: store,
		polls:   pollService,
		relay:   changes,
		sweeper: sweeper,
	})
}

func runServer(ctx context.Context) error {
	return withServices(ctx, serve)
}

func serve(ctx context.Context, svc services) error {
	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(svc.config.SigningSecret),
		Issuer:        svc.config.TokenIssuer,
		Audience:      svc.config.TokenAudience,
		TokenTTL:      svc.config.TokenTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:      tokenManager,
		Users:             svc.users,
		Content:           svc.content,
		Polls:             svc.polls,
		Relay:             svc.relay,
		AllowedOrigins:    svc.config.AllowedOrigins,
		HeartbeatInterval: svc.config.HeartbeatInterval,
		Logger:            svc.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              svc.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go svc.sweeper.Run(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		svc.logger.Info("server starting", zap.String("address", svc.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
