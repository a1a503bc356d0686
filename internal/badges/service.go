package badges

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/expertise"
	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingProfiles = errors.New("profile reader is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew   = "badges.service.new"
	opReport       = "badges.report"
	opGrant        = "badges.grant"
	opGrantPending = "badges.grant_pending"
	opSeedCatalog  = "badges.seed_catalog"

	// SourceManual marks badges granted by an administrator.
	SourceManual = "manual"
	// SourceSweep marks badges granted by the background grant job.
	SourceSweep = "sweep"

	maxSourceLength    = 32
	defaultMaxAttempts = 3
)

// ProfileReader loads a user's expertise, creating it on first access.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (expertise.Profile, error)
}

// ServiceConfig describes the dependencies of the badge service.
type ServiceConfig struct {
	Database    *gorm.DB
	Profiles    ProfileReader
	IDProvider  qa.IDProvider
	Clock       func() time.Time
	Logger      *zap.Logger
	MaxAttempts int
}

// Service reports badge eligibility and performs explicit grants.
type Service struct {
	db          *gorm.DB
	profiles    ProfileReader
	ids         qa.IDProvider
	clock       func() time.Time
	logger      *zap.Logger
	maxAttempts int
}

// NewService validates the configuration and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, qa.NewError(opServiceNew, "missing_database", qa.KindInternal, errMissingDatabase)
	}
	if cfg.Profiles == nil {
		return nil, qa.NewError(opServiceNew, "missing_profiles", qa.KindInternal, errMissingProfiles)
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
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Service{
		db:          cfg.Database,
		profiles:    cfg.Profiles,
		ids:         ids,
		clock:       clock,
		logger:      logger,
		maxAttempts: attempts,
	}, nil
}

// Award is a granted badge.
type Award struct {
	Code             string
	Category         Category
	Title            string
	AwardedAtSeconds int64
	Source           string
}

// Report is the badge state of a user: eligibility is derived, awards are persisted facts.
type Report struct {
	UserID   string
	Level    expertise.Level
	Eligible []string
	Awarded  []Award
	Pending  []string
}

// Report evaluates eligibility and compares it with the user's awarded badges. It never grants.
func (s *Service) Report(ctx context.Context, userID string) (Report, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return Report{}, err
	}
	return s.reportFor(ctx, profile)
}

// ReportForProfile builds a report from an already-loaded profile.
func (s *Service) ReportForProfile(ctx context.Context, profile expertise.Profile) (Report, error) {
	return s.reportFor(ctx, profile)
}

func (s *Service) reportFor(ctx context.Context, profile expertise.Profile) (Report, error) {
	evaluation := Evaluate(profile.Stats, profile.Domains)
	awarded, err := s.awarded(s.db.WithContext(ctx), profile.Stats.UserID)
	if err != nil {
		s.logError(opReport, "awards_select_failed", err, zap.String("user_id", profile.Stats.UserID))
		return Report{}, qa.NewError(opReport, "awards_select_failed", qa.KindInternal, err)
	}
	codes := make(map[string]struct{}, len(awarded))
	for _, award := range awarded {
		codes[award.Code] = struct{}{}
	}
	return Report{
		UserID:   profile.Stats.UserID,
		Level:    evaluation.Level,
		Eligible: evaluation.Eligible,
		Awarded:  awarded,
		Pending:  Pending(evaluation.Eligible, codes),
	}, nil
}

type awardRow struct {
	Code             string
	Category         Category
	Title            string
	AwardedAtSeconds int64
	Source           string
}

func (s *Service) awarded(db *gorm.DB, userID string) ([]Award, error) {
	var rows []awardRow
	err := db.Table("user_badges AS ub").
		Select("b.code AS code, b.category AS category, b.title AS title, ub.awarded_at_s AS awarded_at_seconds, ub.source AS source").
		Joins("JOIN badges AS b ON b.badge_id = ub.badge_id").
		Where("ub.user_id = ?", userID).
		Order("ub.awarded_at_s ASC, b.code ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	awards := make([]Award, 0, len(rows))
	for _, row := range rows {
		awards = append(awards, Award(row))
	}
	return awards, nil
}

// Grant awards the badge to the user. Granting an already-awarded badge is a no-op
// reported through the created flag.
func (s *Service) Grant(ctx context.Context, rawUserID, code, source string) (Award, bool, error) {
	userID, err := qa.NewIdentifier(rawUserID)
	if err != nil {
		return Award{}, false, qa.NewError(opGrant, "invalid_user_id", qa.KindValidation, err)
	}
	definition, err := Lookup(code)
	if err != nil {
		return Award{}, false, qa.NewError(opGrant, "unknown_badge", qa.KindValidation, err)
	}
	source = normalizeSource(source)

	var award Award
	var created bool
	err = qa.RetryOnConflict(ctx, opGrant, s.maxAttempts, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var grantErr error
			award, created, grantErr = s.grantTx(tx, userID, definition, source)
			return grantErr
		})
	})
	if err != nil {
		if qa.KindOf(err) == qa.KindInternal {
			s.logError(opGrant, "grant_failed", err, zap.String("user_id", userID), zap.String("code", definition.Code))
		}
		return Award{}, false, err
	}
	if created {
		s.logger.Info("badge granted",
			zap.String("user_id", userID),
			zap.String("code", definition.Code),
			zap.String("source", source),
		)
	}
	return award, created, nil
}

// GrantPending grants every pending badge of the user and returns the new awards.
func (s *Service) GrantPending(ctx context.Context, userID, source string) ([]Award, error) {
	report, err := s.Report(ctx, userID)
	if err != nil {
		return nil, err
	}
	granted := make([]Award, 0, len(report.Pending))
	for _, code := range report.Pending {
		award, created, err := s.Grant(ctx, report.UserID, code, source)
		if err != nil {
			s.logError(opGrantPending, "grant_failed", err, zap.String("user_id", report.UserID), zap.String("code", code))
			return granted, err
		}
		if created {
			granted = append(granted, award)
		}
	}
	return granted, nil
}

// SweepResult summarises a grant pass over many users.
type SweepResult struct {
	Users   int
	Granted int
	Failed  int
}

// GrantPendingForUsers runs GrantPending for every user, continuing past individual failures.
func (s *Service) GrantPendingForUsers(ctx context.Context, userIDs []string, source string) (SweepResult, error) {
	var result SweepResult
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return result, qa.NewError(opGrantPending, "context_done", qa.KindInternal, err)
		}
		granted, err := s.GrantPending(ctx, userID, source)
		result.Granted += len(granted)
		if err != nil {
			result.Failed++
			continue
		}
		result.Users++
	}
	return result, nil
}

func (s *Service) grantTx(tx *gorm.DB, userID string, definition Definition, source string) (Award, bool, error) {
	badge, err := s.ensureBadge(tx, definition)
	if err != nil {
		return Award{}, false, qa.NewError(opGrant, "badge_upsert_failed", qa.KindInternal, err)
	}

	var existing UserBadge
	err = tx.Where("user_id = ? AND badge_id = ?", userID, badge.BadgeID).Take(&existing).Error
	if err == nil {
		return Award{
			Code:             badge.Code,
			Category:         badge.Category,
			Title:            badge.Title,
			AwardedAtSeconds: existing.AwardedAtSeconds,
			Source:           existing.Source,
		}, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Award{}, false, qa.NewError(opGrant, "award_select_failed", qa.KindInternal, err)
	}

	awardID, err := s.ids.NewID()
	if err != nil {
		return Award{}, false, qa.NewError(opGrant, "id_generation_failed", qa.KindInternal, err)
	}
	record := UserBadge{
		UserBadgeID:      awardID,
		UserID:           userID,
		BadgeID:          badge.BadgeID,
		AwardedAtSeconds: s.clock().UTC().Unix(),
		Source:           source,
	}
	if err := tx.Create(&record).Error; err != nil {
		return Award{}, false, qa.NewError(opGrant, "award_insert_failed", qa.KindInternal, err)
	}
	return Award{
		Code:             badge.Code,
		Category:         badge.Category,
		Title:            badge.Title,
		AwardedAtSeconds: record.AwardedAtSeconds,
		Source:           record.Source,
	}, true, nil
}

// ensureBadge returns the catalog row for definition, inserting it when absent.
func (s *Service) ensureBadge(tx *gorm.DB, definition Definition) (Badge, error) {
	var badge Badge
	err := tx.Where("code = ?", definition.Code).Take(&badge).Error
	if err == nil {
		return badge, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Badge{}, err
	}
	badgeID, err := s.ids.NewID()
	if err != nil {
		return Badge{}, err
	}
	badge = newBadge(badgeID, definition, s.clock().UTC().Unix())
	if err := tx.Create(&badge).Error; err != nil {
		return Badge{}, err
	}
	return badge, nil
}

func newBadge(badgeID string, definition Definition, nowSeconds int64) Badge {
	return Badge{
		BadgeID:          badgeID,
		Code:             definition.Code,
		Category:         definition.Category,
		Title:            definition.Title,
		Description:      definition.Description,
		CreatedAtSeconds: nowSeconds,
	}
}

// SeedCatalog inserts the static catalog, leaving existing rows untouched.
func SeedCatalog(db *gorm.DB, ids qa.IDProvider, now time.Time) error {
	if ids == nil {
		ids = qa.NewUUIDProvider()
	}
	for _, definition := range staticDefinitions {
		badgeID, err := ids.NewID()
		if err != nil {
			return qa.NewError(opSeedCatalog, "id_generation_failed", qa.KindInternal, err)
		}
		badge := newBadge(badgeID, definition, now.UTC().Unix())
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(&badge).Error; err != nil {
			return qa.NewError(opSeedCatalog, "badge_insert_failed", qa.KindInternal, err)
		}
	}
	return nil
}

func normalizeSource(source string) string {
	trimmed := strings.ToLower(strings.TrimSpace(source))
	if trimmed == "" {
		return SourceManual
	}
	if len(trimmed) > maxSourceLength {
		return trimmed[:maxSourceLength]
	}
	return trimmed
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
	logger.Error("badges service error", attrs...)
}
