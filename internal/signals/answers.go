package signals

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/quorum/internal/expertise"
	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AcceptResult reports the accepted answer of a question after an accept or unaccept.
type AcceptResult struct {
	QuestionID string
	AnswerID   string
	Accepted   bool
	// Replaced is the previously accepted answer that lost acceptance, if any.
	Replaced string
	Metric   *quality.Metric
}

// AcceptAnswer marks the answer as the question's accepted answer. Only the asker may accept,
// never their own answer. A previously accepted answer is unaccepted in the same transaction.
func (s *Service) AcceptAnswer(ctx context.Context, rawAnswerID, rawUserID string) (AcceptResult, error) {
	answerID, userID, err := requireIdentifiers(opAcceptAnswer, rawAnswerID, rawUserID)
	if err != nil {
		return AcceptResult{}, err
	}

	var result AcceptResult
	var changed bool
	err = s.mutate(ctx, opAcceptAnswer, func(tx *gorm.DB) error {
		locked, err := lockAnswer(tx, opAcceptAnswer, answerID)
		if err != nil {
			return err
		}
		question := locked.question
		if question.AskerID != userID {
			return qa.NewError(opAcceptAnswer, "not_asker", qa.KindValidation, qa.ErrNotPermitted)
		}
		if locked.answer.AuthorID == userID {
			return qa.NewError(opAcceptAnswer, "self_accept", qa.KindValidation, qa.ErrSelfAction)
		}
		result = AcceptResult{QuestionID: question.QuestionID, AnswerID: answerID, Accepted: true}
		if locked.answer.IsAccepted {
			return nil
		}

		var previous []qa.Answer
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("question_id = ? AND is_accepted = ? AND answer_id <> ?", question.QuestionID, true, answerID).
			Find(&previous).Error; err != nil {
			return qa.NewError(opAcceptAnswer, "accepted_select_failed", qa.KindInternal, err)
		}
		now := s.clock().UTC().Unix()
		for _, answer := range previous {
			if err := setAccepted(tx, answer.AnswerID, false, now); err != nil {
				return qa.NewError(opAcceptAnswer, "unaccept_failed", qa.KindInternal, err)
			}
			if err := expertise.ApplyDelta(tx, answer.AuthorID, question.Category, expertise.Delta{Accepted: -1}); err != nil {
				return qa.NewError(opAcceptAnswer, "expertise_update_failed", qa.KindInternal, err)
			}
			result.Replaced = answer.AnswerID
		}

		if err := setAccepted(tx, answerID, true, now); err != nil {
			return qa.NewError(opAcceptAnswer, "accept_failed", qa.KindInternal, err)
		}
		if err := expertise.ApplyDelta(tx, locked.answer.AuthorID, question.Category, expertise.Delta{Accepted: 1, ActivitySeconds: now}); err != nil {
			return qa.NewError(opAcceptAnswer, "expertise_update_failed", qa.KindInternal, err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return AcceptResult{}, err
	}

	if changed {
		result.Metric = s.rescoreQuestion(ctx, result.QuestionID, answerID)
	}
	return result, nil
}

// UnacceptAnswer clears acceptance from the answer. Unaccepting an answer that is not accepted is a no-op.
func (s *Service) UnacceptAnswer(ctx context.Context, rawAnswerID, rawUserID string) (AcceptResult, error) {
	answerID, userID, err := requireIdentifiers(opUnacceptAnswer, rawAnswerID, rawUserID)
	if err != nil {
		return AcceptResult{}, err
	}

	var result AcceptResult
	var changed bool
	err = s.mutate(ctx, opUnacceptAnswer, func(tx *gorm.DB) error {
		locked, err := lockAnswer(tx, opUnacceptAnswer, answerID)
		if err != nil {
			return err
		}
		if locked.question.AskerID != userID {
			return qa.NewError(opUnacceptAnswer, "not_asker", qa.KindValidation, qa.ErrNotPermitted)
		}
		result = AcceptResult{QuestionID: locked.question.QuestionID, AnswerID: answerID}
		if !locked.answer.IsAccepted {
			return nil
		}
		if err := setAccepted(tx, answerID, false, s.clock().UTC().Unix()); err != nil {
			return qa.NewError(opUnacceptAnswer, "unaccept_failed", qa.KindInternal, err)
		}
		if err := expertise.ApplyDelta(tx, locked.answer.AuthorID, locked.question.Category, expertise.Delta{Accepted: -1}); err != nil {
			return qa.NewError(opUnacceptAnswer, "expertise_update_failed", qa.KindInternal, err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return AcceptResult{}, err
	}

	if changed {
		result.Metric = s.rescoreQuestion(ctx, result.QuestionID, answerID)
	}
	return result, nil
}

func setAccepted(tx *gorm.DB, answerID string, accepted bool, nowSeconds int64) error {
	acceptedAt := int64(0)
	if accepted {
		acceptedAt = nowSeconds
	}
	return tx.Model(&qa.Answer{}).
		Where("answer_id = ?", answerID).
		Updates(map[string]interface{}{
			"is_accepted":   accepted,
			"accepted_at_s": acceptedAt,
			"updated_at_s":  nowSeconds,
		}).Error
}

// EditRequest replaces an answer's body.
type EditRequest struct {
	AnswerID string
	UserID   string
	Body     string
}

// EditResult reports the edit counters after an edit.
type EditResult struct {
	AnswerID  string
	EditCount int64
	Metric    *quality.Metric
}

// EditAnswer stores a new body written by the answer's author and rescores the answer.
func (s *Service) EditAnswer(ctx context.Context, request EditRequest) (EditResult, error) {
	answerID, userID, err := requireIdentifiers(opEditAnswer, request.AnswerID, request.UserID)
	if err != nil {
		return EditResult{}, err
	}
	body := strings.TrimSpace(request.Body)
	if body == "" {
		return EditResult{}, qa.NewError(opEditAnswer, "empty_body", qa.KindValidation, errEmptyBody)
	}

	result := EditResult{AnswerID: answerID}
	err = s.mutate(ctx, opEditAnswer, func(tx *gorm.DB) error {
		locked, err := lockAnswer(tx, opEditAnswer, answerID)
		if err != nil {
			return err
		}
		if locked.answer.AuthorID != userID {
			return qa.NewError(opEditAnswer, "not_author", qa.KindValidation, qa.ErrNotPermitted)
		}
		now := s.clock().UTC().Unix()
		if err := tx.Model(&qa.Answer{}).
			Where("answer_id = ?", answerID).
			Updates(map[string]interface{}{
				"body":         body,
				"edit_count":   gorm.Expr("edit_count + ?", 1),
				"edited_at_s":  now,
				"updated_at_s": now,
			}).Error; err != nil {
			return qa.NewError(opEditAnswer, "answer_update_failed", qa.KindInternal, err)
		}
		result.EditCount = locked.answer.EditCount + 1
		return nil
	})
	if err != nil {
		return EditResult{}, err
	}

	result.Metric = s.rescoreAnswer(ctx, answerID, quality.TriggerEdit)
	return result, nil
}
