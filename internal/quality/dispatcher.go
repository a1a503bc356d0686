package quality

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opDispatcherNew           = "quality.dispatcher.new"
	opRecomputeAnswer         = "quality.recompute_answer"
	opRecomputeQuestion       = "quality.recompute_question_answers"
	opGetMetric               = "quality.get_metric"
	opRecomputeAll            = "quality.recompute_all"
	sweepBatchSize            = 200
	defaultConflictRetryCount = 3
)

// RecomputeObserver receives one observation per recompute attempt.
type RecomputeObserver interface {
	ObserveRecompute(trigger TriggerKind, err error, elapsed time.Duration)
}

// DispatcherConfig describes the dependencies of the recompute dispatcher.
type DispatcherConfig struct {
	Database    *gorm.DB
	Weights     Weights
	Clock       func() time.Time
	Logger      *zap.Logger
	Observer    RecomputeObserver
	MaxAttempts int
}

// Dispatcher re-reads answer signals, scores them and persists the resulting metric.
type Dispatcher struct {
	db          *gorm.DB
	weights     Weights
	clock       func() time.Time
	logger      *zap.Logger
	observer    RecomputeObserver
	maxAttempts int
}

// NewDispatcher validates the configuration and builds a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Database == nil {
		return nil, qa.NewError(opDispatcherNew, "missing_database", qa.KindInternal, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	weights := cfg.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, qa.NewError(opDispatcherNew, "invalid_weights", qa.KindValidation, err)
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultConflictRetryCount
	}
	return &Dispatcher{
		db:          cfg.Database,
		weights:     weights,
		clock:       clock,
		logger:      logger,
		observer:    cfg.Observer,
		maxAttempts: attempts,
	}, nil
}

// RecomputeAnswer rescores a single visible answer and upserts its metric.
// Repeating the call with unchanged signals leaves the stored row untouched.
func (d *Dispatcher) RecomputeAnswer(ctx context.Context, answerID string, trigger TriggerKind) (Metric, error) {
	started := d.clock()
	metric, err := d.recomputeAnswer(ctx, answerID, trigger)
	d.observe(trigger, err, started)
	return metric, err
}

func (d *Dispatcher) recomputeAnswer(ctx context.Context, rawAnswerID string, trigger TriggerKind) (Metric, error) {
	if err := trigger.validate(); err != nil {
		return Metric{}, qa.NewError(opRecomputeAnswer, "invalid_trigger", qa.KindValidation, err)
	}
	answerID, err := qa.NewIdentifier(rawAnswerID)
	if err != nil {
		return Metric{}, qa.NewError(opRecomputeAnswer, "invalid_answer_id", qa.KindValidation, err)
	}

	var result Metric
	err = qa.RetryOnConflict(ctx, opRecomputeAnswer, d.maxAttempts, func() error {
		return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var answer qa.Answer
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("answer_id = ?", answerID).
				Take(&answer).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && answer.IsHidden) {
				return qa.NewError(opRecomputeAnswer, "answer_not_found", qa.KindNotFound, qa.ErrAnswerNotFound)
			}
			if err != nil {
				d.logError(opRecomputeAnswer, "answer_select_failed", err, zap.String("answer_id", answerID))
				return qa.NewError(opRecomputeAnswer, "answer_select_failed", qa.KindInternal, err)
			}

			var question qa.Question
			err = tx.Where("question_id = ?", answer.QuestionID).Take(&question).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && question.IsHidden) {
				return qa.NewError(opRecomputeAnswer, "question_not_found", qa.KindNotFound, qa.ErrQuestionNotFound)
			}
			if err != nil {
				d.logError(opRecomputeAnswer, "question_select_failed", err, zap.String("answer_id", answerID))
				return qa.NewError(opRecomputeAnswer, "question_select_failed", qa.KindInternal, err)
			}

			metrics, err := d.scoreAnswers(tx, []qa.Answer{answer}, question.AskerID, trigger)
			if err != nil {
				return qa.NewError(opRecomputeAnswer, "score_failed", qa.KindInternal, err)
			}
			result = metrics[0]
			return nil
		})
	})
	if err != nil {
		return Metric{}, err
	}
	return result, nil
}

// RecomputeQuestionAnswers rescores every visible answer under the question in one transaction.
func (d *Dispatcher) RecomputeQuestionAnswers(ctx context.Context, rawQuestionID string) ([]Metric, error) {
	started := d.clock()
	metrics, err := d.recomputeQuestionAnswers(ctx, rawQuestionID)
	d.observe(TriggerAccept, err, started)
	return metrics, err
}

func (d *Dispatcher) recomputeQuestionAnswers(ctx context.Context, rawQuestionID string) ([]Metric, error) {
	questionID, err := qa.NewIdentifier(rawQuestionID)
	if err != nil {
		return nil, qa.NewError(opRecomputeQuestion, "invalid_question_id", qa.KindValidation, err)
	}

	var results []Metric
	err = qa.RetryOnConflict(ctx, opRecomputeQuestion, d.maxAttempts, func() error {
		return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var question qa.Question
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("question_id = ?", questionID).
				Take(&question).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && question.IsHidden) {
				return qa.NewError(opRecomputeQuestion, "question_not_found", qa.KindNotFound, qa.ErrQuestionNotFound)
			}
			if err != nil {
				d.logError(opRecomputeQuestion, "question_select_failed", err, zap.String("question_id", questionID))
				return qa.NewError(opRecomputeQuestion, "question_select_failed", qa.KindInternal, err)
			}

			var answers []qa.Answer
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("question_id = ? AND is_hidden = ?", questionID, false).
				Order("created_at_s ASC, answer_id ASC").
				Find(&answers).Error; err != nil {
				d.logError(opRecomputeQuestion, "answers_select_failed", err, zap.String("question_id", questionID))
				return qa.NewError(opRecomputeQuestion, "answers_select_failed", qa.KindInternal, err)
			}
			if len(answers) == 0 {
				results = []Metric{}
				return nil
			}

			metrics, err := d.scoreAnswers(tx, answers, question.AskerID, TriggerAccept)
			if err != nil {
				return qa.NewError(opRecomputeQuestion, "score_failed", qa.KindInternal, err)
			}
			results = metrics
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetMetric returns the stored metric for a visible answer. An answer that was never
// recomputed is scored on the fly without persisting the result.
func (d *Dispatcher) GetMetric(ctx context.Context, rawAnswerID string) (Metric, error) {
	if d == nil || d.db == nil {
		return Metric{}, qa.NewError(opGetMetric, "missing_database", qa.KindInternal, errMissingDatabase)
	}
	answerID, err := qa.NewIdentifier(rawAnswerID)
	if err != nil {
		return Metric{}, qa.NewError(opGetMetric, "invalid_answer_id", qa.KindValidation, err)
	}

	db := d.db.WithContext(ctx)
	var answer qa.Answer
	err = db.Where("answer_id = ?", answerID).Take(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && answer.IsHidden) {
		return Metric{}, qa.NewError(opGetMetric, "answer_not_found", qa.KindNotFound, qa.ErrAnswerNotFound)
	}
	if err != nil {
		d.logError(opGetMetric, "answer_select_failed", err, zap.String("answer_id", answerID))
		return Metric{}, qa.NewError(opGetMetric, "answer_select_failed", qa.KindInternal, err)
	}

	var question qa.Question
	err = db.Where("question_id = ?", answer.QuestionID).Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && question.IsHidden) {
		return Metric{}, qa.NewError(opGetMetric, "question_not_found", qa.KindNotFound, qa.ErrQuestionNotFound)
	}
	if err != nil {
		d.logError(opGetMetric, "question_select_failed", err, zap.String("answer_id", answerID))
		return Metric{}, qa.NewError(opGetMetric, "question_select_failed", qa.KindInternal, err)
	}

	var stored Metric
	err = db.Where("answer_id = ?", answerID).Take(&stored).Error
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		d.logError(opGetMetric, "metric_select_failed", err, zap.String("answer_id", answerID))
		return Metric{}, qa.NewError(opGetMetric, "metric_select_failed", qa.KindInternal, err)
	}

	signals, err := loadSignals(db, []qa.Answer{answer}, question.AskerID)
	if err != nil {
		d.logError(opGetMetric, "signals_select_failed", err, zap.String("answer_id", answerID))
		return Metric{}, qa.NewError(opGetMetric, "signals_select_failed", qa.KindInternal, err)
	}
	score := d.weights.Compute(signals[answerID])
	return Metric{AnswerID: answerID, AQS: score.AQS, Label: score.Label}, nil
}

// SweepResult summarises a reconciliation pass.
type SweepResult struct {
	Recomputed int
	Failed     int
}

// RecomputeAll rescores every visible answer under a visible question in batches.
// Individual failures are logged and counted.
func (d *Dispatcher) RecomputeAll(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	var batch []qa.Answer
	db := d.db.WithContext(ctx)
	visibleQuestions := db.Model(&qa.Question{}).Select("question_id").Where("is_hidden = ?", false)
	err := db.
		Select("answer_id").
		Where("is_hidden = ? AND question_id IN (?)", false, visibleQuestions).
		FindInBatches(&batch, sweepBatchSize, func(_ *gorm.DB, _ int) error {
			ids := make([]string, 0, len(batch))
			for _, answer := range batch {
				ids = append(ids, answer.AnswerID)
			}
			for _, answerID := range ids {
				if _, err := d.RecomputeAnswer(ctx, answerID, TriggerSweep); err != nil {
					result.Failed++
					continue
				}
				result.Recomputed++
			}
			return ctx.Err()
		}).Error
	if err != nil {
		d.logError(opRecomputeAll, "batch_failed", err)
		return result, qa.NewError(opRecomputeAll, "batch_failed", qa.KindInternal, err)
	}
	return result, nil
}

// scoreAnswers computes and persists metrics for answers that share one asker.
func (d *Dispatcher) scoreAnswers(tx *gorm.DB, answers []qa.Answer, askerID string, trigger TriggerKind) ([]Metric, error) {
	signals, err := loadSignals(tx, answers, askerID)
	if err != nil {
		d.logError(opRecomputeAnswer, "signals_select_failed", err)
		return nil, err
	}

	answerIDs := make([]string, 0, len(answers))
	for _, answer := range answers {
		answerIDs = append(answerIDs, answer.AnswerID)
	}
	var existing []Metric
	if err := tx.Where("answer_id IN ?", answerIDs).Find(&existing).Error; err != nil {
		d.logError(opRecomputeAnswer, "metric_select_failed", err)
		return nil, err
	}
	stored := make(map[string]Metric, len(existing))
	for _, metric := range existing {
		stored[metric.AnswerID] = metric
	}

	now := d.clock().UTC().Unix()
	results := make([]Metric, 0, len(answers))
	for _, answer := range answers {
		score := d.weights.Compute(signals[answer.AnswerID])
		if previous, ok := stored[answer.AnswerID]; ok && previous.AQS == score.AQS && previous.Label == score.Label {
			results = append(results, previous)
			continue
		}
		metric := Metric{
			AnswerID:          answer.AnswerID,
			AQS:               score.AQS,
			Label:             score.Label,
			LastTrigger:       trigger,
			ComputedAtSeconds: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "answer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"aqs", "label", "last_trigger", "computed_at_s"}),
		}).Create(&metric).Error; err != nil {
			d.logError(opRecomputeAnswer, "metric_upsert_failed", err, zap.String("answer_id", answer.AnswerID))
			return nil, err
		}
		results = append(results, metric)
	}
	return results, nil
}

type flagCountRow struct {
	AnswerID string
	Reason   qa.FlagReason
	Total    int64
}

// loadSignals reads the scoring inputs for answers. Only the asker's reaction feeds the score.
func loadSignals(db *gorm.DB, answers []qa.Answer, askerID string) (map[string]Signals, error) {
	signals := make(map[string]Signals, len(answers))
	answerIDs := make([]string, 0, len(answers))
	for _, answer := range answers {
		answerIDs = append(answerIDs, answer.AnswerID)
		signals[answer.AnswerID] = Signals{
			ExpertBadgeCount: answer.ExpertBadgeCount,
			IsAccepted:       answer.IsAccepted,
			BodyLength:       utf8.RuneCountInString(answer.Body),
			EditCount:        answer.EditCount,
		}
	}

	var askerReactions []qa.Reaction
	if err := db.Where("answer_id IN ? AND user_id = ?", answerIDs, askerID).Find(&askerReactions).Error; err != nil {
		return nil, err
	}
	for _, reaction := range askerReactions {
		entry := signals[reaction.AnswerID]
		entry.AskerReaction = reaction.Type
		signals[reaction.AnswerID] = entry
	}

	var flagRows []flagCountRow
	if err := db.Model(&qa.Flag{}).
		Select("answer_id, reason, COUNT(*) AS total").
		Where("answer_id IN ?", answerIDs).
		Group("answer_id, reason").
		Scan(&flagRows).Error; err != nil {
		return nil, err
	}
	for _, row := range flagRows {
		entry := signals[row.AnswerID]
		if row.Reason.IsSevere() {
			entry.SevereFlags += row.Total
		} else {
			entry.MinorFlags += row.Total
		}
		signals[row.AnswerID] = entry
	}
	return signals, nil
}

func (d *Dispatcher) observe(trigger TriggerKind, err error, started time.Time) {
	if d == nil || d.observer == nil {
		return
	}
	d.observer.ObserveRecompute(trigger, err, d.clock().Sub(started))
}

func (d *Dispatcher) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger := noOpLogger
	if d != nil && d.logger != nil {
		logger = d.logger
	}
	logger.Error("quality dispatcher error", attrs...)
}
