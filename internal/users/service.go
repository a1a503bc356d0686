package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for the users directory.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service maintains the users directory from session claims.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	names sync.Map
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Resolve returns the canonical user for the session claims, creating or refreshing
// the directory entry. The canonical id drops any "provider:" prefix.
func (s *Service) Resolve(ctx context.Context, claims auth.SessionClaims) (User, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return User{}, ErrInvalidIdentity
	}

	now := s.now().UTC().Unix()
	user := User{
		UserID:            subject,
		Provider:          provider,
		Email:             normalize(claims.UserEmail),
		DisplayName:       normalize(claims.UserDisplayName),
		Roles:             joinRoles(claims.UserRoles),
		LastSeenAtSeconds: now,
		CreatedAtSeconds:  now,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider", "user_email", "user_display_name", "user_roles", "last_seen_at_s"}),
	}).Create(&user).Error; err != nil {
		return User{}, err
	}

	s.names.Store(user.UserID, user.DisplayName)
	return user, nil
}

// DisplayNames returns the display name for each known id; unknown ids are omitted.
func (s *Service) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	missing := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		if cached, ok := s.names.Load(userID); ok {
			if name, ok := cached.(string); ok {
				names[userID] = name
				continue
			}
		}
		missing = append(missing, userID)
	}
	if len(missing) == 0 {
		return names, nil
	}

	var found []User
	if err := s.db.WithContext(ctx).
		Select("user_id", "user_display_name").
		Where("user_id IN ?", missing).
		Find(&found).Error; err != nil {
		return nil, err
	}
	for _, user := range found {
		names[user.UserID] = user.DisplayName
		s.names.Store(user.UserID, user.DisplayName)
	}
	return names, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else {
			subject = raw
		}
	}
	return provider, subject
}
