package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/badges"
	"github.com/MarcoPoloResearchLab/quorum/internal/config"
	"github.com/MarcoPoloResearchLab/quorum/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quorum-api",
		Short: "Quorum reputation and answer quality service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServer(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "reconcile",
			Short: "Recompute every answer quality metric and every expertise row",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runReconcile(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "grant-badges",
			Short: "Grant every pending badge to every known user",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runGrantBadges(cmd.Context())
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("session-issuer", defaults.GetString("session.issuer"), "Expected session token issuer")
	cmd.PersistentFlags().String("session-cookie", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for read caching (empty disables)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "session.issuer", "session-issuer")
	bindFlag(cmd, "session.cookie_name", "session-cookie")
	bindFlag(cmd, "redis.url", "redis-url")
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
	app, err := newApplication()
	if err != nil {
		return err
	}
	defer app.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:   app.sessions,
		Users:      app.users,
		Signals:    app.signals,
		Dispatcher: app.dispatcher,
		Expertise:  app.expertise,
		Badges:     app.badges,
		Trending:   app.trending,
		Cache:      app.cache,
		Metrics:    app.metrics,
		Logger:     app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
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

func runReconcile(ctx context.Context) error {
	app, err := newApplication()
	if err != nil {
		return err
	}
	defer app.Close()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		answers, err := app.dispatcher.RecomputeAll(groupCtx)
		if err != nil {
			return err
		}
		app.logger.Info("answer quality reconciled",
			zap.Int("recomputed", answers.Recomputed),
			zap.Int("failed", answers.Failed),
		)
		return nil
	})
	group.Go(func() error {
		experts, err := app.expertise.RecomputeAll(groupCtx)
		if err != nil {
			return err
		}
		app.logger.Info("expertise reconciled",
			zap.Int("recomputed", experts.Recomputed),
			zap.Int("failed", experts.Failed),
		)
		return nil
	})
	return group.Wait()
}

func runGrantBadges(ctx context.Context) error {
	app, err := newApplication()
	if err != nil {
		return err
	}
	defer app.Close()

	userIDs, err := app.expertise.KnownUserIDs(ctx)
	if err != nil {
		return err
	}
	result, err := app.badges.GrantPendingForUsers(ctx, userIDs, badges.SourceSweep)
	if err != nil {
		return err
	}
	app.logger.Info("pending badges granted",
		zap.Int("users", result.Users),
		zap.Int("granted", result.Granted),
		zap.Int("failed", result.Failed),
	)
	return nil
}
