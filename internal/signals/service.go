package signals

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingRecomputer = errors.New("recomputer is required")
	errEmptyBody         = errors.New("signals: answer body is empty")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew            = "signals.service.new"
	opToggleReaction        = "signals.toggle_reaction"
	opFlagAnswer            = "signals.flag_answer"
	opRemoveFlag            = "signals.remove_flag"
	opAcceptAnswer          = "signals.accept_answer"
	opUnacceptAnswer        = "signals.unaccept_answer"
	opEditAnswer            = "signals.edit_answer"
	opRescore               = "signals.rescore"
	defaultMaxAttempts      = 3
	defaultRecomputeTimeout = 2 * time.Second
	maxFlagNoteLength       = 1000
)

// Recomputer rescores answers after their signals change.
type Recomputer interface {
	RecomputeAnswer(ctx context.Context, answerID string, trigger quality.TriggerKind) (quality.Metric, error)
	RecomputeQuestionAnswers(ctx context.Context, questionID string) ([]quality.Metric, error)
}

// ServiceConfig describes the dependencies of the signal mutation service.
type ServiceConfig struct {
	Database         *gorm.DB
	Recomputer       Recomputer
	IDProvider       qa.IDProvider
	Clock            func() time.Time
	Logger           *zap.Logger
	RecomputeTimeout time.Duration
	MaxAttempts      int
}

// Service applies reaction, flag, acceptance and edit mutations and triggers rescoring.
type Service struct {
	db               *gorm.DB
	recomputer       Recomputer
	ids              qa.IDProvider
	clock            func() time.Time
	logger           *zap.Logger
	recomputeTimeout time.Duration
	maxAttempts      int
}

// NewService validates the configuration and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, qa.NewError(opServiceNew, "missing_database", qa.KindInternal, errMissingDatabase)
	}
	if cfg.Recomputer == nil {
		return nil, qa.NewError(opServiceNew, "missing_recomputer", qa.KindInternal, errMissingRecomputer)
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = qa.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	timeout := cfg.RecomputeTimeout
	if timeout <= 0 {
		timeout = defaultRecomputeTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Service{
		db:               cfg.Database,
		recomputer:       cfg.Recomputer,
		ids:              ids,
		clock:            clock,
		logger:           logger,
		recomputeTimeout: timeout,
		maxAttempts:      attempts,
	}, nil
}

// target is a row-locked visible answer together with its question.
type target struct {
	answer   qa.Answer
	question qa.Question
}

// lockAnswer loads a visible answer under a row lock along with its question.
func lockAnswer(tx *gorm.DB, operation, answerID string) (target, error) {
	var answer qa.Answer
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("answer_id = ?", answerID).
		Take(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && answer.IsHidden) {
		return target{}, qa.NewError(operation, "answer_not_found", qa.KindNotFound, qa.ErrAnswerNotFound)
	}
	if err != nil {
		return target{}, qa.NewError(operation, "answer_select_failed", qa.KindInternal, err)
	}

	var question qa.Question
	err = tx.Where("question_id = ?", answer.QuestionID).Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && question.IsHidden) {
		return target{}, qa.NewError(operation, "question_not_found", qa.KindNotFound, qa.ErrQuestionNotFound)
	}
	if err != nil {
		return target{}, qa.NewError(operation, "question_select_failed", qa.KindInternal, err)
	}
	return target{answer: answer, question: question}, nil
}

func requireIdentifiers(operation string, answerID, userID string) (string, string, error) {
	answer, err := qa.NewIdentifier(answerID)
	if err != nil {
		return "", "", qa.NewError(operation, "invalid_answer_id", qa.KindValidation, err)
	}
	user, err := qa.NewIdentifier(userID)
	if err != nil {
		return "", "", qa.NewError(operation, "invalid_user_id", qa.KindValidation, err)
	}
	return answer, user, nil
}

// mutate runs fn in a transaction with bounded retry on write conflicts.
func (s *Service) mutate(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return qa.NewError(operation, "missing_database", qa.KindInternal, errMissingDatabase)
	}
	err := qa.RetryOnConflict(ctx, operation, s.maxAttempts, func() error {
		return s.db.WithContext(ctx).Transaction(fn)
	})
	if err != nil && qa.KindOf(err) == qa.KindInternal {
		s.logError(operation, "mutation_failed", err)
	}
	return err
}

// rescoreAnswer runs after the mutation committed. Failures are logged and swallowed.
func (s *Service) rescoreAnswer(ctx context.Context, answerID string, trigger quality.TriggerKind) *quality.Metric {
	recomputeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.recomputeTimeout)
	defer cancel()
	metric, err := s.recomputer.RecomputeAnswer(recomputeCtx, answerID, trigger)
	if err != nil {
		s.logError(opRescore, "recompute_answer_failed", err,
			zap.String("answer_id", answerID),
			zap.String("trigger", trigger.String()),
		)
		return nil
	}
	return &metric
}

func (s *Service) rescoreQuestion(ctx context.Context, questionID, answerID string) *quality.Metric {
	recomputeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.recomputeTimeout)
	defer cancel()
	metrics, err := s.recomputer.RecomputeQuestionAnswers(recomputeCtx, questionID)
	if err != nil {
		s.logError(opRescore, "recompute_question_failed", err,
			zap.String("question_id", questionID),
			zap.String("trigger", quality.TriggerAccept.String()),
		)
		return nil
	}
	for index := range metrics {
		if metrics[index].AnswerID == answerID {
			return &metrics[index]
		}
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	logger.Error("signals service error", attrs...)
}
