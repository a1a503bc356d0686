package expertise

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Delta is an incremental change to a user's counters within one category.
type Delta struct {
	Answers         int64
	Accepted        int64
	Helpful         int64
	Expert          int64
	ActivitySeconds int64
}

// ReactionDelta maps a reaction type change onto expertise counters.
func ReactionDelta(reactionType qa.ReactionType, amount int64) Delta {
	switch reactionType {
	case qa.ReactionHelpful:
		return Delta{Helpful: amount}
	case qa.ReactionExpert:
		return Delta{Expert: amount}
	default:
		return Delta{}
	}
}

func (d Delta) empty() bool {
	return d.Answers == 0 && d.Accepted == 0 && d.Helpful == 0 && d.Expert == 0 && d.ActivitySeconds == 0
}

// userLockClass namespaces the per-user advisory locks.
const userLockClass = 7411

// lockUser holds the user's expertise lock until the transaction ends, so deltas and
// full recomputes for one user never interleave. SQLite runs on a single connection,
// which already serialises them.
func lockUser(tx *gorm.DB, userID string) error {
	statement, ok := userLockStatement(tx.Dialector.Name())
	if !ok {
		return nil
	}
	return tx.Exec(statement, userLockClass, userID).Error
}

func userLockStatement(dialect string) (string, bool) {
	if dialect != "postgres" {
		return "", false
	}
	return "SELECT pg_advisory_xact_lock(?, hashtext(?))", true
}

// ApplyDelta adjusts counters inside the caller's transaction. The domain row is
// upserted; the stats row is only touched when it already exists, because a missing
// row is rebuilt from the signal tables on first read. Counters never drop below zero.
func ApplyDelta(tx *gorm.DB, userID, category string, delta Delta) error {
	if delta.empty() || userID == "" {
		return nil
	}

	statsUpdates := map[string]interface{}{}
	addCounter(statsUpdates, "user_expertise_stats", "total_answers", delta.Answers)
	addCounter(statsUpdates, "user_expertise_stats", "featured_answers", delta.Accepted)
	addCounter(statsUpdates, "user_expertise_stats", "helpful_reactions", delta.Helpful)
	addCounter(statsUpdates, "user_expertise_stats", "expert_reactions", delta.Expert)

	if err := lockUser(tx, userID); err != nil {
		return err
	}
	var existing int64
	if err := tx.Model(&Stats{}).Where("user_id = ?", userID).Count(&existing).Error; err != nil {
		return err
	}

	if category != "" {
		domain := Domain{
			UserID:              userID,
			Category:            category,
			AnswerCount:         nonNegative(delta.Answers),
			AcceptedCount:       nonNegative(delta.Accepted),
			HelpfulReactions:    nonNegative(delta.Helpful),
			ExpertReactions:     nonNegative(delta.Expert),
			LastActivitySeconds: nonNegative(delta.ActivitySeconds),
		}
		domainUpdates := map[string]interface{}{}
		addCounter(domainUpdates, "user_domain_expertise", "answer_count", delta.Answers)
		addCounter(domainUpdates, "user_domain_expertise", "accepted_count", delta.Accepted)
		addCounter(domainUpdates, "user_domain_expertise", "helpful_reactions", delta.Helpful)
		addCounter(domainUpdates, "user_domain_expertise", "expert_reactions", delta.Expert)
		if delta.ActivitySeconds > 0 {
			domainUpdates["last_activity_s"] = gorm.Expr(
				"CASE WHEN user_domain_expertise.last_activity_s > ? THEN user_domain_expertise.last_activity_s ELSE ? END",
				delta.ActivitySeconds, delta.ActivitySeconds,
			)
		}
		if len(domainUpdates) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "category"}},
				DoUpdates: clause.Assignments(domainUpdates),
			}).Create(&domain).Error; err != nil {
				return err
			}
		}
	}

	if existing == 0 || len(statsUpdates) == 0 {
		return nil
	}
	if err := tx.Model(&Stats{}).Where("user_id = ?", userID).Updates(statsUpdates).Error; err != nil {
		return err
	}
	return refreshDerived(tx, userID)
}

// incrementStat bumps a single stats counter when the row exists and reports whether it did.
func incrementStat(tx *gorm.DB, userID, column string, amount int64) (bool, error) {
	if err := lockUser(tx, userID); err != nil {
		return false, err
	}
	updates := map[string]interface{}{}
	addCounter(updates, "user_expertise_stats", column, amount)
	result := tx.Model(&Stats{}).Where("user_id = ?", userID).Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	return true, refreshDerived(tx, userID)
}

func refreshDerived(tx *gorm.DB, userID string) error {
	var stats Stats
	if err := tx.Where("user_id = ?", userID).Take(&stats).Error; err != nil {
		return err
	}
	var domains []Domain
	if err := tx.Where("user_id = ?", userID).Find(&domains).Error; err != nil {
		return err
	}
	derived := deriveStats(stats, domains)
	return tx.Model(&Stats{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
		"expert_score": derived.ExpertScore,
		"expert_level": derived.ExpertLevel,
		"top_category": derived.TopCategory,
	}).Error
}

func addCounter(updates map[string]interface{}, table, column string, amount int64) {
	if amount == 0 {
		return
	}
	qualified := fmt.Sprintf("%s.%s", table, column)
	updates[column] = gorm.Expr(
		fmt.Sprintf("CASE WHEN %s + ? < 0 THEN 0 ELSE %s + ? END", qualified, qualified),
		amount, amount,
	)
}
