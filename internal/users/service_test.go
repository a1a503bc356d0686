package users

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate users schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestResolveStripsProviderPrefix(t *testing.T) {
	service, _ := newTestService(t, func() time.Time { return time.Unix(1, 0) })

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
		UserRoles:       []string{"Admin", "admin", " member "},
	}
	user, err := service.Resolve(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if user.UserID != "12345" || user.Provider != "google" {
		t.Fatalf("expected canonical user id without provider prefix, got %+v", user)
	}
	if user.Roles != "admin,member" {
		t.Fatalf("expected normalized roles, got %q", user.Roles)
	}
}

func TestResolveRefreshesExistingEntry(t *testing.T) {
	current := time.Unix(100, 0)
	service, db := newTestService(t, func() time.Time { return current })
	ctx := context.Background()

	if _, err := service.Resolve(ctx, auth.SessionClaims{UserID: "u-1", UserDisplayName: "Old"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	current = time.Unix(200, 0)
	if _, err := service.Resolve(ctx, auth.SessionClaims{UserID: "u-1", UserDisplayName: "New"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	var stored User
	if err := db.Where("user_id = ?", "u-1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	if stored.DisplayName != "New" || stored.LastSeenAtSeconds != 200 || stored.CreatedAtSeconds != 100 {
		t.Fatalf("unexpected stored user: %+v", stored)
	}
	var count int64
	db.Model(&User{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single directory entry, got %d", count)
	}
}

func TestResolveRejectsEmptyIdentity(t *testing.T) {
	service, _ := newTestService(t, nil)
	if _, err := service.Resolve(context.Background(), auth.SessionClaims{}); err != ErrInvalidIdentity {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestDisplayNames(t *testing.T) {
	service, db := newTestService(t, nil)
	if err := db.Create(&User{UserID: "u-2", DisplayName: "Grace", LastSeenAtSeconds: 1, CreatedAtSeconds: 1}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	names, err := service.DisplayNames(context.Background(), []string{"u-2", "ghost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 1 || names["u-2"] != "Grace" {
		t.Fatalf("unexpected names: %v", names)
	}
}
