package signals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
	"gorm.io/gorm"
)

var errFlagNoteTooLong = fmt.Errorf("signals: flag note exceeds %d characters", maxFlagNoteLength)

// FlagRequest creates a flag or updates the reason and note of an existing one.
type FlagRequest struct {
	AnswerID string
	UserID   string
	Reason   string
	Note     string
}

// FlagResult reports the flag state for one (answer, user) pair.
type FlagResult struct {
	AnswerID string
	Present  bool
	Reason   qa.FlagReason
	Created  bool
	Metric   *quality.Metric
}

// FlagAnswer records the user's flag on an answer. Flags never touch the cached reaction counters.
func (s *Service) FlagAnswer(ctx context.Context, request FlagRequest) (FlagResult, error) {
	answerID, userID, err := requireIdentifiers(opFlagAnswer, request.AnswerID, request.UserID)
	if err != nil {
		return FlagResult{}, err
	}
	reason, err := qa.ParseFlagReason(request.Reason)
	if err != nil {
		return FlagResult{}, qa.NewError(opFlagAnswer, "invalid_flag_reason", qa.KindValidation, err)
	}
	note := strings.TrimSpace(request.Note)
	if utf8.RuneCountInString(note) > maxFlagNoteLength {
		return FlagResult{}, qa.NewError(opFlagAnswer, "note_too_long", qa.KindValidation, errFlagNoteTooLong)
	}

	result := FlagResult{AnswerID: answerID, Present: true, Reason: reason}
	err = s.mutate(ctx, opFlagAnswer, func(tx *gorm.DB) error {
		locked, err := lockAnswer(tx, opFlagAnswer, answerID)
		if err != nil {
			return err
		}
		if locked.answer.AuthorID == userID {
			return qa.NewError(opFlagAnswer, "self_flag", qa.KindValidation, qa.ErrSelfAction)
		}

		now := s.clock().UTC().Unix()
		var existing qa.Flag
		lookupErr := tx.Where("answer_id = ? AND user_id = ?", answerID, userID).Take(&existing).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			flagID, err := s.ids.NewID()
			if err != nil {
				return qa.NewError(opFlagAnswer, "id_generation_failed", qa.KindInternal, err)
			}
			if err := tx.Create(&qa.Flag{
				FlagID:           flagID,
				AnswerID:         answerID,
				UserID:           userID,
				Reason:           reason,
				Note:             note,
				CreatedAtSeconds: now,
				UpdatedAtSeconds: now,
			}).Error; err != nil {
				return qa.NewError(opFlagAnswer, "flag_insert_failed", qa.KindInternal, err)
			}
			result.Created = true
		case lookupErr != nil:
			return qa.NewError(opFlagAnswer, "flag_select_failed", qa.KindInternal, lookupErr)
		default:
			if err := tx.Model(&qa.Flag{}).
				Where("flag_id = ?", existing.FlagID).
				Updates(map[string]interface{}{"reason": reason, "note": note, "updated_at_s": now}).Error; err != nil {
				return qa.NewError(opFlagAnswer, "flag_update_failed", qa.KindInternal, err)
			}
			result.Created = false
		}
		return nil
	})
	if err != nil {
		return FlagResult{}, err
	}

	result.Metric = s.rescoreAnswer(ctx, answerID, quality.TriggerFlag)
	return result, nil
}

// RemoveFlag withdraws the user's flag. Removing an absent flag succeeds without rescoring.
func (s *Service) RemoveFlag(ctx context.Context, rawAnswerID, rawUserID string) (FlagResult, error) {
	answerID, userID, err := requireIdentifiers(opRemoveFlag, rawAnswerID, rawUserID)
	if err != nil {
		return FlagResult{}, err
	}

	var removed bool
	err = s.mutate(ctx, opRemoveFlag, func(tx *gorm.DB) error {
		if _, err := lockAnswer(tx, opRemoveFlag, answerID); err != nil {
			return err
		}
		deletion := tx.Where("answer_id = ? AND user_id = ?", answerID, userID).Delete(&qa.Flag{})
		if deletion.Error != nil {
			return qa.NewError(opRemoveFlag, "flag_delete_failed", qa.KindInternal, deletion.Error)
		}
		removed = deletion.RowsAffected > 0
		return nil
	})
	if err != nil {
		return FlagResult{}, err
	}

	result := FlagResult{AnswerID: answerID}
	if removed {
		result.Metric = s.rescoreAnswer(ctx, answerID, quality.TriggerFlag)
	}
	return result, nil
}
