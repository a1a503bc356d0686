package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/badges"
	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSeedBadgeCatalog       = "2026-01-12_seed_badge_catalog"
	migrationRecountReactionCounter = "2026-02-03_recount_reaction_counters"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedBadgeCatalog, apply: seedBadgeCatalog},
		{name: migrationRecountReactionCounter, apply: recountReactionCounters},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func seedBadgeCatalog(db *gorm.DB) error {
	return badges.SeedCatalog(db, qa.NewUUIDProvider(), time.Now())
}

// recountReactionCounters rebuilds the cached answer counters from the reaction rows.
func recountReactionCounters(db *gorm.DB) error {
	return db.Model(&qa.Answer{}).
		Where("1 = 1").
		Updates(map[string]interface{}{
			"helpful_count": gorm.Expr(
				"(SELECT COUNT(*) FROM answer_reactions WHERE answer_reactions.answer_id = answers.answer_id AND answer_reactions.type = ?)",
				qa.ReactionHelpful,
			),
			"expert_badge_count": gorm.Expr(
				"(SELECT COUNT(*) FROM answer_reactions WHERE answer_reactions.answer_id = answers.answer_id AND answer_reactions.type = ?)",
				qa.ReactionExpert,
			),
		}).Error
}
