package users

import (
	"sort"
	"strings"
)

// User is the directory entry for an authenticated participant.
type User struct {
	UserID            string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Provider          string `gorm:"column:provider;size:32;not null;default:'default'"`
	Email             string `gorm:"column:user_email;size:320;not null;default:''"`
	DisplayName       string `gorm:"column:user_display_name;size:320;not null;default:''"`
	Roles             string `gorm:"column:user_roles;size:255;not null;default:''"`
	LastSeenAtSeconds int64  `gorm:"column:last_seen_at_s;not null"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing the users directory.
func (User) TableName() string {
	return "users"
}

// RoleList splits the stored roles.
func (u User) RoleList() []string {
	if u.Roles == "" {
		return nil
	}
	return strings.Split(u.Roles, ",")
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

// joinRoles stores roles lower-cased, de-duplicated and sorted.
func joinRoles(roles []string) string {
	seen := make(map[string]struct{}, len(roles))
	cleaned := make([]string, 0, len(roles))
	for _, role := range roles {
		value := strings.ToLower(normalize(role))
		if value == "" || strings.Contains(value, ",") {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		cleaned = append(cleaned, value)
	}
	sort.Strings(cleaned)
	return strings.Join(cleaned, ",")
}
