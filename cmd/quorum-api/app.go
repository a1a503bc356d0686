package main

import (
	"github.com/MarcoPoloResearchLab/quorum/internal/auth"
	"github.com/MarcoPoloResearchLab/quorum/internal/badges"
	"github.com/MarcoPoloResearchLab/quorum/internal/cache"
	"github.com/MarcoPoloResearchLab/quorum/internal/config"
	"github.com/MarcoPoloResearchLab/quorum/internal/database"
	"github.com/MarcoPoloResearchLab/quorum/internal/expertise"
	"github.com/MarcoPoloResearchLab/quorum/internal/logging"
	"github.com/MarcoPoloResearchLab/quorum/internal/metrics"
	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
	"github.com/MarcoPoloResearchLab/quorum/internal/signals"
	"github.com/MarcoPoloResearchLab/quorum/internal/trending"
	"github.com/MarcoPoloResearchLab/quorum/internal/users"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds the wired services shared by every subcommand.
type application struct {
	config     config.AppConfig
	logger     *zap.Logger
	db         *gorm.DB
	cache      *cache.Store
	metrics    *metrics.Metrics
	sessions   *auth.SessionValidator
	users      *users.Service
	dispatcher *quality.Dispatcher
	signals    *signals.Service
	expertise  *expertise.Service
	badges     *badges.Service
	trending   *trending.Service
}

func newApplication() (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return nil, err
	}

	app := &application{
		config:  appConfig,
		logger:  logger,
		db:      db,
		cache:   cache.Open(appConfig.RedisURL, appConfig.CacheTTL, logger),
		metrics: metrics.New(),
	}
	if err := app.wire(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) wire() error {
	var err error
	ids := qa.NewUUIDProvider()

	a.sessions, err = auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(a.config.SessionSigningSecret),
		Issuer:        a.config.SessionIssuer,
		CookieName:    a.config.SessionCookieName,
	})
	if err != nil {
		return err
	}

	a.users, err = users.NewService(users.ServiceConfig{Database: a.db})
	if err != nil {
		return err
	}

	a.dispatcher, err = quality.NewDispatcher(quality.DispatcherConfig{
		Database:    a.db,
		Weights:     a.config.Weights,
		Logger:      a.logger,
		Observer:    a.metrics,
		MaxAttempts: a.config.MaxAttempts,
	})
	if err != nil {
		return err
	}

	a.signals, err = signals.NewService(signals.ServiceConfig{
		Database:         a.db,
		Recomputer:       a.dispatcher,
		IDProvider:       ids,
		Logger:           a.logger,
		RecomputeTimeout: a.config.RecomputeTimeout,
		MaxAttempts:      a.config.MaxAttempts,
	})
	if err != nil {
		return err
	}

	a.expertise, err = expertise.NewService(expertise.ServiceConfig{
		Database:    a.db,
		Logger:      a.logger,
		MaxAttempts: a.config.MaxAttempts,
	})
	if err != nil {
		return err
	}

	a.badges, err = badges.NewService(badges.ServiceConfig{
		Database:    a.db,
		Profiles:    a.expertise,
		IDProvider:  ids,
		Logger:      a.logger,
		MaxAttempts: a.config.MaxAttempts,
	})
	if err != nil {
		return err
	}

	a.trending, err = trending.NewService(trending.ServiceConfig{
		Database: a.db,
		Logger:   a.logger,
	})
	return err
}

// Close releases the cache and database connections and flushes the logger.
func (a *application) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("cache close failed", zap.Error(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
