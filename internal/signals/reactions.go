package signals

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/quorum/internal/expertise"
	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
	"gorm.io/gorm"
)

// Transition names the state change a reaction toggle produced.
type Transition string

const (
	TransitionCreated  Transition = "created"
	TransitionReplaced Transition = "replaced"
	TransitionRemoved  Transition = "removed"
)

// ReactionRequest is a user's reaction submission.
type ReactionRequest struct {
	AnswerID string
	UserID   string
	Type     string
}

// ReactionResult reports the reaction state after a toggle.
type ReactionResult struct {
	AnswerID         string
	Previous         qa.ReactionType
	Current          qa.ReactionType
	Transition       Transition
	HelpfulCount     int64
	ExpertBadgeCount int64
	// Metric is set when the reactor is the question's asker and rescoring succeeded.
	Metric *quality.Metric
}

// ToggleReaction applies the reaction state machine for one (answer, user) pair:
// no reaction creates one, the same type removes it and a different type replaces it.
func (s *Service) ToggleReaction(ctx context.Context, request ReactionRequest) (ReactionResult, error) {
	answerID, userID, err := requireIdentifiers(opToggleReaction, request.AnswerID, request.UserID)
	if err != nil {
		return ReactionResult{}, err
	}
	reactionType, err := qa.ParseReactionType(request.Type)
	if err != nil {
		return ReactionResult{}, qa.NewError(opToggleReaction, "invalid_reaction_type", qa.KindValidation, err)
	}

	var result ReactionResult
	var askerReacted bool
	err = s.mutate(ctx, opToggleReaction, func(tx *gorm.DB) error {
		locked, err := lockAnswer(tx, opToggleReaction, answerID)
		if err != nil {
			return err
		}
		if locked.answer.AuthorID == userID {
			return qa.NewError(opToggleReaction, "self_reaction", qa.KindValidation, qa.ErrSelfAction)
		}

		now := s.clock().UTC().Unix()
		var existing qa.Reaction
		lookupErr := tx.Where("answer_id = ? AND user_id = ?", answerID, userID).Take(&existing).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			reactionID, err := s.ids.NewID()
			if err != nil {
				return qa.NewError(opToggleReaction, "id_generation_failed", qa.KindInternal, err)
			}
			if err := tx.Create(&qa.Reaction{
				ReactionID:       reactionID,
				AnswerID:         answerID,
				UserID:           userID,
				Type:             reactionType,
				CreatedAtSeconds: now,
				UpdatedAtSeconds: now,
			}).Error; err != nil {
				return qa.NewError(opToggleReaction, "reaction_insert_failed", qa.KindInternal, err)
			}
			result = ReactionResult{Current: reactionType, Transition: TransitionCreated}
		case lookupErr != nil:
			return qa.NewError(opToggleReaction, "reaction_select_failed", qa.KindInternal, lookupErr)
		case existing.Type == reactionType:
			if err := tx.Where("reaction_id = ?", existing.ReactionID).Delete(&qa.Reaction{}).Error; err != nil {
				return qa.NewError(opToggleReaction, "reaction_delete_failed", qa.KindInternal, err)
			}
			result = ReactionResult{Previous: existing.Type, Transition: TransitionRemoved}
		default:
			if err := tx.Model(&qa.Reaction{}).
				Where("reaction_id = ?", existing.ReactionID).
				Updates(map[string]interface{}{"type": reactionType, "updated_at_s": now}).Error; err != nil {
				return qa.NewError(opToggleReaction, "reaction_update_failed", qa.KindInternal, err)
			}
			result = ReactionResult{Previous: existing.Type, Current: reactionType, Transition: TransitionReplaced}
		}

		if err := adjustReactionCounter(tx, answerID, result.Previous, -1); err != nil {
			return qa.NewError(opToggleReaction, "counter_update_failed", qa.KindInternal, err)
		}
		if err := adjustReactionCounter(tx, answerID, result.Current, 1); err != nil {
			return qa.NewError(opToggleReaction, "counter_update_failed", qa.KindInternal, err)
		}

		author, category := locked.answer.AuthorID, locked.question.Category
		for _, delta := range []expertise.Delta{
			expertise.ReactionDelta(result.Previous, -1),
			expertise.ReactionDelta(result.Current, 1),
		} {
			if err := expertise.ApplyDelta(tx, author, category, delta); err != nil {
				return qa.NewError(opToggleReaction, "expertise_update_failed", qa.KindInternal, err)
			}
		}

		var counters qa.Answer
		if err := tx.Select("helpful_count", "expert_badge_count").
			Where("answer_id = ?", answerID).
			Take(&counters).Error; err != nil {
			return qa.NewError(opToggleReaction, "answer_select_failed", qa.KindInternal, err)
		}
		result.AnswerID = answerID
		result.HelpfulCount = counters.HelpfulCount
		result.ExpertBadgeCount = counters.ExpertBadgeCount
		askerReacted = locked.question.AskerID == userID
		return nil
	})
	if err != nil {
		return ReactionResult{}, err
	}

	// Only the asker's reaction is a scoring signal; other reactions only move counters.
	if askerReacted {
		result.Metric = s.rescoreAnswer(ctx, answerID, quality.TriggerReaction)
	}
	return result, nil
}

// adjustReactionCounter atomically moves the cached counter backing reactionType.
func adjustReactionCounter(tx *gorm.DB, answerID string, reactionType qa.ReactionType, delta int) error {
	column, ok := reactionType.CounterColumn()
	if !ok {
		return nil
	}
	query := tx.Model(&qa.Answer{}).Where("answer_id = ?", answerID)
	if delta < 0 {
		query = query.Where(fmt.Sprintf("%s > 0", column))
	}
	return query.UpdateColumn(column, gorm.Expr(fmt.Sprintf("%s + ?", column), delta)).Error
}
