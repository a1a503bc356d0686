package expertise

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errInvalidPeriod   = errors.New("expertise: invalid leaderboard period")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew          = "expertise.service.new"
	opGetProfile          = "expertise.get_profile"
	opRecompute           = "expertise.recompute"
	opRecordQuestion      = "expertise.record_question_posted"
	opRecordAnswer        = "expertise.record_answer_posted"
	opScoreBreakdown      = "expertise.score_breakdown"
	opLeaderboard         = "expertise.leaderboard"
	opRecomputeAll        = "expertise.recompute_all"
	defaultMaxAttempts    = 3
	defaultLeaderboardTop = 20
	maxLeaderboardLimit   = 100
)

// ServiceConfig describes the dependencies of the expertise aggregator.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	Logger      *zap.Logger
	MaxAttempts int
}

// Service aggregates per-user expertise from the signal tables.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	logger      *zap.Logger
	maxAttempts int
	recomputes  singleflight.Group
}

// NewService validates the configuration and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, qa.NewError(opServiceNew, "missing_database", qa.KindInternal, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Service{
		db:          cfg.Database,
		clock:       clock,
		logger:      logger,
		maxAttempts: attempts,
	}, nil
}

// Profile is the read model for a user's expertise.
type Profile struct {
	Stats             Stats
	Domains           []Domain
	Breakdown         Breakdown
	NextLevel         Level
	PointsToNextLevel int64
}

// GetProfile returns a user's expertise, creating the stats row from the signal
// tables on first access. Score, level and top category are re-derived on every read.
func (s *Service) GetProfile(ctx context.Context, rawUserID string) (Profile, error) {
	if s == nil || s.db == nil {
		return Profile{}, qa.NewError(opGetProfile, "missing_database", qa.KindInternal, errMissingDatabase)
	}
	userID, err := qa.NewIdentifier(rawUserID)
	if err != nil {
		return Profile{}, qa.NewError(opGetProfile, "invalid_user_id", qa.KindValidation, err)
	}

	db := s.db.WithContext(ctx)
	var stats Stats
	err = db.Where("user_id = ?", userID).Take(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.Recompute(ctx, userID)
	}
	if err != nil {
		s.logError(opGetProfile, "stats_select_failed", err, zap.String("user_id", userID))
		return Profile{}, qa.NewError(opGetProfile, "stats_select_failed", qa.KindInternal, err)
	}

	var domains []Domain
	if err := db.Where("user_id = ?", userID).Order("category ASC").Find(&domains).Error; err != nil {
		s.logError(opGetProfile, "domains_select_failed", err, zap.String("user_id", userID))
		return Profile{}, qa.NewError(opGetProfile, "domains_select_failed", qa.KindInternal, err)
	}

	refreshed := deriveStats(stats, domains)
	if refreshed.ExpertScore != stats.ExpertScore || refreshed.ExpertLevel != stats.ExpertLevel || refreshed.TopCategory != stats.TopCategory {
		refreshed.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := db.Model(&Stats{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"expert_score": refreshed.ExpertScore,
				"expert_level": refreshed.ExpertLevel,
				"top_category": refreshed.TopCategory,
				"updated_at_s": refreshed.UpdatedAtSeconds,
			}).Error; err != nil {
			s.logger.Warn("expertise derived fields refresh failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return buildProfile(refreshed, domains), nil
}

// Recompute rebuilds a user's stats and domain rows from scratch. Concurrent calls
// for the same user share one execution.
func (s *Service) Recompute(ctx context.Context, rawUserID string) (Profile, error) {
	if s == nil || s.db == nil {
		return Profile{}, qa.NewError(opRecompute, "missing_database", qa.KindInternal, errMissingDatabase)
	}
	userID, err := qa.NewIdentifier(rawUserID)
	if err != nil {
		return Profile{}, qa.NewError(opRecompute, "invalid_user_id", qa.KindValidation, err)
	}

	value, err, _ := s.recomputes.Do(userID, func() (interface{}, error) {
		var profile Profile
		retryErr := qa.RetryOnConflict(ctx, opRecompute, s.maxAttempts, func() error {
			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				built, err := s.recomputeTx(tx, userID)
				if err != nil {
					return err
				}
				profile = built
				return nil
			})
		})
		return profile, retryErr
	})
	if err != nil {
		return Profile{}, err
	}
	return value.(Profile), nil
}

func (s *Service) recomputeTx(tx *gorm.DB, userID string) (Profile, error) {
	if err := lockUser(tx, userID); err != nil {
		s.logError(opRecompute, "user_lock_failed", err, zap.String("user_id", userID))
		return Profile{}, qa.NewError(opRecompute, "user_lock_failed", qa.KindInternal, err)
	}
	inputs, err := collectInputs(tx, inputFilter{UserID: userID})
	if err != nil {
		s.logError(opRecompute, "inputs_select_failed", err, zap.String("user_id", userID))
		return Profile{}, qa.NewError(opRecompute, "inputs_select_failed", qa.KindInternal, err)
	}
	rows, err := collectDomains(tx, userID)
	if err != nil {
		s.logError(opRecompute, "domains_select_failed", err, zap.String("user_id", userID))
		return Profile{}, qa.NewError(opRecompute, "domains_select_failed", qa.KindInternal, err)
	}

	var existing []Domain
	if err := tx.Where("user_id = ?", userID).Find(&existing).Error; err != nil {
		s.logError(opRecompute, "domains_select_failed", err, zap.String("user_id", userID))
		return Profile{}, qa.NewError(opRecompute, "domains_select_failed", qa.KindInternal, err)
	}

	domainsByCategory := make(map[string]Domain, len(existing)+len(rows))
	for _, domain := range existing {
		domain.AnswerCount, domain.AcceptedCount, domain.HelpfulReactions, domain.ExpertReactions = 0, 0, 0, 0
		domainsByCategory[domain.Category] = domain
	}
	for _, row := range rows {
		domainsByCategory[row.Category] = Domain{
			UserID:              userID,
			Category:            row.Category,
			AnswerCount:         row.AnswerCount,
			AcceptedCount:       row.AcceptedCount,
			HelpfulReactions:    row.HelpfulReactions,
			ExpertReactions:     row.ExpertReactions,
			LastActivitySeconds: maxInt64(row.LastActivitySeconds, domainsByCategory[row.Category].LastActivitySeconds),
		}
	}
	domains := make([]Domain, 0, len(domainsByCategory))
	for _, domain := range domainsByCategory {
		domains = append(domains, domain)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i].Category < domains[j].Category })

	for index := range domains {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "category"}},
			DoUpdates: clause.AssignmentColumns([]string{"answer_count", "accepted_count", "helpful_reactions", "expert_reactions", "last_activity_s"}),
		}).Create(&domains[index]).Error; err != nil {
			s.logError(opRecompute, "domain_upsert_failed", err, zap.String("user_id", userID))
			return Profile{}, qa.NewError(opRecompute, "domain_upsert_failed", qa.KindInternal, err)
		}
	}

	counters := Inputs{}
	if found, ok := inputs[userID]; ok {
		counters = *found
	}
	stats := deriveStats(Stats{
		UserID:           userID,
		TotalAnswers:     counters.TotalAnswers,
		TotalQuestions:   counters.TotalQuestions,
		HelpfulReactions: counters.HelpfulReactions,
		ExpertReactions:  counters.ExpertReactions,
		FeaturedAnswers:  counters.AcceptedAnswers,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}, domains)

	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_answers", "total_questions", "helpful_reactions", "expert_reactions",
			"featured_answers", "expert_score", "expert_level", "top_category", "updated_at_s",
		}),
	}).Create(&stats).Error; err != nil {
		s.logError(opRecompute, "stats_upsert_failed", err, zap.String("user_id", userID))
		return Profile{}, qa.NewError(opRecompute, "stats_upsert_failed", qa.KindInternal, err)
	}

	return buildProfile(stats, domains), nil
}

// RecordQuestionPosted counts a new visible question towards its asker's stats.
func (s *Service) RecordQuestionPosted(ctx context.Context, rawQuestionID string) error {
	questionID, err := qa.NewIdentifier(rawQuestionID)
	if err != nil {
		return qa.NewError(opRecordQuestion, "invalid_question_id", qa.KindValidation, err)
	}
	return qa.RetryOnConflict(ctx, opRecordQuestion, s.maxAttempts, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var question qa.Question
			err := tx.Where("question_id = ?", questionID).Take(&question).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && question.IsHidden) {
				return qa.NewError(opRecordQuestion, "question_not_found", qa.KindNotFound, qa.ErrQuestionNotFound)
			}
			if err != nil {
				return qa.NewError(opRecordQuestion, "question_select_failed", qa.KindInternal, err)
			}
			if _, err := incrementStat(tx, question.AskerID, "total_questions", 1); err != nil {
				s.logError(opRecordQuestion, "stats_update_failed", err, zap.String("question_id", questionID))
				return qa.NewError(opRecordQuestion, "stats_update_failed", qa.KindInternal, err)
			}
			return nil
		})
	})
}

// RecordAnswerPosted counts a new visible answer towards its author's stats and domain row.
func (s *Service) RecordAnswerPosted(ctx context.Context, rawAnswerID string) error {
	answerID, err := qa.NewIdentifier(rawAnswerID)
	if err != nil {
		return qa.NewError(opRecordAnswer, "invalid_answer_id", qa.KindValidation, err)
	}
	return qa.RetryOnConflict(ctx, opRecordAnswer, s.maxAttempts, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var answer qa.Answer
			err := tx.Where("answer_id = ?", answerID).Take(&answer).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && answer.IsHidden) {
				return qa.NewError(opRecordAnswer, "answer_not_found", qa.KindNotFound, qa.ErrAnswerNotFound)
			}
			if err != nil {
				return qa.NewError(opRecordAnswer, "answer_select_failed", qa.KindInternal, err)
			}
			var question qa.Question
			err = tx.Where("question_id = ?", answer.QuestionID).Take(&question).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && question.IsHidden) {
				return qa.NewError(opRecordAnswer, "question_not_found", qa.KindNotFound, qa.ErrQuestionNotFound)
			}
			if err != nil {
				return qa.NewError(opRecordAnswer, "question_select_failed", qa.KindInternal, err)
			}
			if err := ApplyDelta(tx, answer.AuthorID, question.Category, Delta{Answers: 1, ActivitySeconds: answer.CreatedAtSeconds}); err != nil {
				s.logError(opRecordAnswer, "stats_update_failed", err, zap.String("answer_id", answerID))
				return qa.NewError(opRecordAnswer, "stats_update_failed", qa.KindInternal, err)
			}
			return nil
		})
	})
}

// Debug compares stored counters with counters derived from the signal tables.
type Debug struct {
	UserID    string
	Stored    Inputs
	Derived   Inputs
	Breakdown Breakdown
	Level     Level
	InSync    bool
}

// ScoreBreakdown reports the formula terms for a user using the stored counters.
func (s *Service) ScoreBreakdown(ctx context.Context, rawUserID string) (Debug, error) {
	profile, err := s.GetProfile(ctx, rawUserID)
	if err != nil {
		return Debug{}, err
	}
	userID := profile.Stats.UserID
	inputs, err := collectInputs(s.db.WithContext(ctx), inputFilter{UserID: userID})
	if err != nil {
		s.logError(opScoreBreakdown, "inputs_select_failed", err, zap.String("user_id", userID))
		return Debug{}, qa.NewError(opScoreBreakdown, "inputs_select_failed", qa.KindInternal, err)
	}
	derived := Inputs{}
	if found, ok := inputs[userID]; ok {
		derived = *found
	}
	stored := profile.Stats.Inputs()
	return Debug{
		UserID:    userID,
		Stored:    stored,
		Derived:   derived,
		Breakdown: Explain(stored),
		Level:     LevelFor(Score(stored)),
		InSync:    stored == derived,
	}, nil
}

// Period bounds the activity a leaderboard considers.
type Period string

const (
	PeriodAll   Period = "all"
	PeriodMonth Period = "month"
	PeriodWeek  Period = "week"
)

// ParsePeriod validates raw input; empty input means PeriodAll.
func ParsePeriod(value string) (Period, error) {
	switch Period(strings.ToLower(strings.TrimSpace(value))) {
	case "", PeriodAll:
		return PeriodAll, nil
	case PeriodMonth:
		return PeriodMonth, nil
	case PeriodWeek:
		return PeriodWeek, nil
	default:
		return "", errInvalidPeriod
	}
}

func (p Period) since(now time.Time) int64 {
	switch p {
	case PeriodWeek:
		return now.Add(-7 * 24 * time.Hour).Unix()
	case PeriodMonth:
		return now.Add(-30 * 24 * time.Hour).Unix()
	default:
		return 0
	}
}

// LeaderboardQuery selects a leaderboard slice.
type LeaderboardQuery struct {
	Period   Period
	Category string
	Limit    int
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank   int
	UserID string
	Score  int64
	Level  Level
	Inputs Inputs
}

// Leaderboard ranks users by expert score over the requested period and category.
func (s *Service) Leaderboard(ctx context.Context, query LeaderboardQuery) ([]LeaderboardEntry, error) {
	if s == nil || s.db == nil {
		return nil, qa.NewError(opLeaderboard, "missing_database", qa.KindInternal, errMissingDatabase)
	}
	if query.Period == "" {
		query.Period = PeriodAll
	}
	if _, err := ParsePeriod(string(query.Period)); err != nil {
		return nil, qa.NewError(opLeaderboard, "invalid_period", qa.KindValidation, err)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLeaderboardTop
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	db := s.db.WithContext(ctx)
	filter := inputFilter{
		SinceSeconds: query.Period.since(s.clock().UTC()),
		Category:     strings.TrimSpace(query.Category),
	}
	inputs, err := collectInputs(db, filter)
	if err != nil {
		s.logError(opLeaderboard, "inputs_select_failed", err)
		return nil, qa.NewError(opLeaderboard, "inputs_select_failed", qa.KindInternal, err)
	}
	// All-time standings score the stored counters, as the profile does. Users without
	// a stats row keep their signal-derived counters, which is what their first
	// profile read stores.
	if filter.SinceSeconds == 0 && filter.Category == "" {
		var stored []Stats
		if err := db.Find(&stored).Error; err != nil {
			s.logError(opLeaderboard, "stats_select_failed", err)
			return nil, qa.NewError(opLeaderboard, "stats_select_failed", qa.KindInternal, err)
		}
		for index := range stored {
			counters := stored[index].Inputs()
			inputs[stored[index].UserID] = &counters
		}
	}

	entries := make([]LeaderboardEntry, 0, len(inputs))
	for userID, counters := range inputs {
		score := Score(*counters)
		if score == 0 {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			UserID: userID,
			Score:  score,
			Level:  LevelFor(score),
			Inputs: *counters,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for index := range entries {
		entries[index].Rank = index + 1
	}
	return entries, nil
}

// SweepResult summarises a full recompute pass.
type SweepResult struct {
	Recomputed int
	Failed     int
}

// RecomputeAll rebuilds stats for every user with questions, answers or an existing stats row.
func (s *Service) RecomputeAll(ctx context.Context) (SweepResult, error) {
	userIDs, err := s.KnownUserIDs(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	var result SweepResult
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return result, qa.NewError(opRecomputeAll, "context_done", qa.KindInternal, err)
		}
		if _, err := s.Recompute(ctx, userID); err != nil {
			result.Failed++
			continue
		}
		result.Recomputed++
	}
	return result, nil
}

// KnownUserIDs lists every user that has produced signals or already has stats, sorted.
func (s *Service) KnownUserIDs(ctx context.Context) ([]string, error) {
	db := s.db.WithContext(ctx)
	seen := make(map[string]struct{})
	sources := []struct {
		table  string
		column string
	}{
		{table: "answers", column: "author_id"},
		{table: "questions", column: "asker_id"},
		{table: "user_expertise_stats", column: "user_id"},
	}
	for _, source := range sources {
		var ids []string
		if err := db.Table(source.table).Distinct(source.column).Pluck(source.column, &ids).Error; err != nil {
			s.logError(opRecomputeAll, "user_ids_select_failed", err, zap.String("table", source.table))
			return nil, qa.NewError(opRecomputeAll, "user_ids_select_failed", qa.KindInternal, err)
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	userIDs := make([]string, 0, len(seen))
	for id := range seen {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)
	return userIDs, nil
}

func deriveStats(stats Stats, domains []Domain) Stats {
	stats.ExpertScore = Score(stats.Inputs())
	stats.ExpertLevel = LevelFor(stats.ExpertScore)
	stats.TopCategory = TopCategory(domains)
	return stats
}

func buildProfile(stats Stats, domains []Domain) Profile {
	profile := Profile{
		Stats:     stats,
		Domains:   domains,
		Breakdown: Explain(stats.Inputs()),
	}
	if next, missing, ok := NextLevel(stats.ExpertScore); ok {
		profile.NextLevel = next
		profile.PointsToNextLevel = missing
	}
	return profile
}

func maxInt64(left, right int64) int64 {
	if left > right {
		return left
	}
	return right
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
	logger.Error("expertise service error", attrs...)
}
