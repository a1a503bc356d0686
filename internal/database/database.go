package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/quorum/internal/badges"
	"github.com/MarcoPoloResearchLab/quorum/internal/expertise"
	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
	"github.com/MarcoPoloResearchLab/quorum/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Models lists every table owned or read by the engine, in migration order.
func Models() []interface{} {
	return []interface{}{
		&qa.Question{},
		&qa.Answer{},
		&qa.Reaction{},
		&qa.Flag{},
		&quality.Metric{},
		&expertise.Stats{},
		&expertise.Domain{},
		&badges.Badge{},
		&badges.UserBadge{},
		&users.User{},
		&migrationRecord{},
	}
}

// Open establishes a connection for the configured driver and performs schema migrations.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if driver != DriverPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", dialector.Name()))
	}

	return db, nil
}
