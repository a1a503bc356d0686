package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/quorum/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessionValidator struct {
	err error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return auth.SessionClaims{}, s.err
}

func TestAuthorizeRequestLogLevels(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		wantLevel zapcore.Level
	}{
		{name: "expired token", err: auth.ErrExpiredSessionToken, wantLevel: zapcore.InfoLevel},
		{name: "missing token", err: auth.ErrMissingSessionToken, wantLevel: zapcore.InfoLevel},
		{name: "bad signature", err: errors.New("signature mismatch"), wantLevel: zapcore.WarnLevel},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			ctx.Request = httptest.NewRequest(http.MethodPost, "/answers/a-1/reactions", http.NoBody)

			core, logs := observer.New(zapcore.DebugLevel)
			handler := &httpHandler{
				sessions: stubSessionValidator{err: testCase.err},
				logger:   zap.New(core),
			}

			handler.authorizeRequest(ctx)

			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
			}
			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("expected exactly one log entry, got %d", len(entries))
			}
			if entries[0].Level != testCase.wantLevel {
				t.Fatalf("expected %s level, got %s", testCase.wantLevel, entries[0].Level)
			}
			if entries[0].Message != "session validation failed" {
				t.Fatalf("unexpected log message: %q", entries[0].Message)
			}
		})
	}
}

func TestSessionCookieAuthenticatesAndRegistersUser(t *testing.T) {
	server := newTestServer(t)
	server.seedThread(t)

	request := httptest.NewRequest(http.MethodPost, "/answers/a-2/accept", http.NoBody)
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: signSession(t, "google:asker", "Asker Person")})
	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected cookie session to be accepted, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var count int64
	if err := server.db.Table("users").Where("user_id = ? AND user_display_name = ?", "asker", "Asker Person").Count(&count).Error; err != nil {
		t.Fatalf("failed to count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the session user to be registered under its canonical id")
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	server := newTestServer(t)

	var payload errorPayload
	if status := server.do(t, http.MethodGet, "/admin/users/u-1/score-debug", signSession(t, "member", "Member"), nil, &payload); status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", status)
	}
	if payload.Error != "forbidden" {
		t.Fatalf("unexpected error payload: %+v", payload)
	}

	var debug scoreDebugPayload
	if status := server.do(t, http.MethodGet, "/admin/users/u-1/score-debug", signSession(t, "root", "Root", "Admin"), nil, &debug); status != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", status)
	}
	if debug.UserID != "u-1" || !debug.InSync || debug.Breakdown.Total != 0 {
		t.Fatalf("unexpected debug payload: %+v", debug)
	}
}
