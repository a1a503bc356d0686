package trending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errInvalidPeriod   = errors.New("trending: invalid period")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew  = "trending.service.new"
	opTrending    = "trending.list"
	DefaultLimit  = 10
	MaxLimit      = 50
)

// Period narrows the candidate window; it never exceeds Lookback.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates raw input; empty input means PeriodWeek.
func ParsePeriod(value string) (Period, error) {
	switch Period(strings.ToLower(strings.TrimSpace(value))) {
	case "", PeriodWeek:
		return PeriodWeek, nil
	case PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", errInvalidPeriod
	}
}

func (p Period) window() time.Duration {
	switch p {
	case PeriodDay:
		return 24 * time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	default:
		return Lookback
	}
}

// ServiceConfig describes the dependencies of the trending service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service ranks recent questions at read time. Nothing is persisted.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
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
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Query selects a trending slice.
type Query struct {
	Period Period
	Limit  int
}

// Entry is one ranked question.
type Entry struct {
	QuestionID       string  `json:"question_id"`
	Title            string  `json:"title"`
	Category         string  `json:"category"`
	Views            int64   `json:"views"`
	AnswersCount     int64   `json:"answers_count"`
	ReactionsCount   int64   `json:"reactions_count"`
	CreatedAtSeconds int64   `json:"created_at_s"`
	Score            float64 `json:"score"`
}

type candidateRow struct {
	QuestionID       string
	Title            string
	Category         string
	Views            int64
	AnswersCount     int64
	CreatedAtSeconds int64
	ReactionsCount   int64
}

// Trending scores every visible question inside the period and returns the top entries.
func (s *Service) Trending(ctx context.Context, query Query) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, qa.NewError(opTrending, "missing_database", qa.KindInternal, errMissingDatabase)
	}
	period, err := ParsePeriod(string(query.Period))
	if err != nil {
		return nil, qa.NewError(opTrending, "invalid_period", qa.KindValidation, err)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	now := s.clock().UTC()
	since := now.Add(-period.window()).Unix()

	var rows []candidateRow
	for _, band := range recencyBands(now, since) {
		bandRows, err := s.candidates(ctx, band, limit)
		if err != nil {
			s.logger.Error("trending service error",
				zap.String("operation", opTrending),
				zap.String("reason", "candidates_select_failed"),
				zap.Error(err),
			)
			return nil, qa.NewError(opTrending, "candidates_select_failed", qa.KindInternal, err)
		}
		rows = append(rows, bandRows...)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		score, ok := Score(Engagement{
			Views:          row.Views,
			AnswersCount:   row.AnswersCount,
			ReactionsCount: row.ReactionsCount,
			CreatedAt:      time.Unix(row.CreatedAtSeconds, 0).UTC(),
		}, now)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			QuestionID:       row.QuestionID,
			Title:            row.Title,
			Category:         row.Category,
			Views:            row.Views,
			AnswersCount:     row.AnswersCount,
			ReactionsCount:   row.ReactionsCount,
			CreatedAtSeconds: row.CreatedAtSeconds,
			Score:            score,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].CreatedAtSeconds != entries[j].CreatedAtSeconds {
			return entries[i].CreatedAtSeconds > entries[j].CreatedAtSeconds
		}
		return entries[i].QuestionID < entries[j].QuestionID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// recencyBand is a creation-time range sharing one recency factor. Inside a band the ranking
// follows base engagement, so the top entries overall are among the top entries of each band.
type recencyBand struct {
	from  int64
	until int64
	open  bool
}

func recencyBands(now time.Time, since int64) []recencyBand {
	dayAgo := now.Add(-24 * time.Hour).Unix()
	weekAgo := now.Add(-7 * 24 * time.Hour).Unix()
	bands := []recencyBand{
		{from: dayAgo, open: true},
		{from: weekAgo, until: dayAgo},
		{from: now.Add(-Lookback).Unix(), until: weekAgo},
	}
	clipped := make([]recencyBand, 0, len(bands))
	for _, band := range bands {
		if band.from < since {
			band.from = since
		}
		if !band.open && band.until <= band.from {
			continue
		}
		clipped = append(clipped, band)
	}
	return clipped
}

func (s *Service) candidates(ctx context.Context, band recencyBand, limit int) ([]candidateRow, error) {
	query := s.db.WithContext(ctx).
		Table("questions AS q").
		Select(`q.question_id AS question_id, q.title AS title, q.category AS category,
			q.views AS views, q.answers_count AS answers_count, q.created_at_s AS created_at_seconds,
			COUNT(r.reaction_id) AS reactions_count`).
		Joins("LEFT JOIN answers AS a ON a.question_id = q.question_id AND a.is_hidden = ?", false).
		Joins("LEFT JOIN answer_reactions AS r ON r.answer_id = a.answer_id").
		Where("q.is_hidden = ? AND q.created_at_s >= ?", false, band.from)
	if !band.open {
		query = query.Where("q.created_at_s < ?", band.until)
	}
	var rows []candidateRow
	err := query.
		Group("q.question_id, q.title, q.category, q.views, q.answers_count, q.created_at_s").
		Order(baseScoreOrder).
		Order("q.created_at_s DESC").
		Order("q.question_id ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

var baseScoreOrder = fmt.Sprintf("(q.views * %d + q.answers_count * %d + COUNT(r.reaction_id) * %d) DESC",
	ViewWeight, AnswerWeight, ReactionWeight)
