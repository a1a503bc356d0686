package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/auth"
	"github.com/MarcoPoloResearchLab/quorum/internal/badges"
	"github.com/MarcoPoloResearchLab/quorum/internal/database"
	"github.com/MarcoPoloResearchLab/quorum/internal/expertise"
	"github.com/MarcoPoloResearchLab/quorum/internal/metrics"
	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
	"github.com/MarcoPoloResearchLab/quorum/internal/signals"
	"github.com/MarcoPoloResearchLab/quorum/internal/trending"
	"github.com/MarcoPoloResearchLab/quorum/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "server-test-secret"
	testCookieName    = "app_session"
	testNowSeconds    = 1700000000
)

type testServer struct {
	handler http.Handler
	db      *gorm.DB
	metrics *metrics.Metrics
}

func testClock() time.Time {
	return time.Unix(testNowSeconds, 0).UTC()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	collector := metrics.New()
	dispatcher, err := quality.NewDispatcher(quality.DispatcherConfig{Database: db, Clock: testClock, Observer: collector})
	if err != nil {
		t.Fatalf("failed to construct dispatcher: %v", err)
	}
	signalService, err := signals.NewService(signals.ServiceConfig{Database: db, Recomputer: dispatcher, Clock: testClock})
	if err != nil {
		t.Fatalf("failed to construct signals service: %v", err)
	}
	expertiseService, err := expertise.NewService(expertise.ServiceConfig{Database: db, Clock: testClock})
	if err != nil {
		t.Fatalf("failed to construct expertise service: %v", err)
	}
	badgeService, err := badges.NewService(badges.ServiceConfig{Database: db, Profiles: expertiseService, Clock: testClock})
	if err != nil {
		t.Fatalf("failed to construct badges service: %v", err)
	}
	trendingService, err := trending.NewService(trending.ServiceConfig{Database: db, Clock: testClock})
	if err != nil {
		t.Fatalf("failed to construct trending service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
		Clock:         testClock,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}
	directory, err := users.NewService(users.ServiceConfig{Database: db, Clock: testClock})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:   validator,
		Users:      directory,
		Signals:    signalService,
		Dispatcher: dispatcher,
		Expertise:  expertiseService,
		Badges:     badgeService,
		Trending:   trendingService,
		Metrics:    collector,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return &testServer{handler: handler, db: db, metrics: collector}
}

func signSession(t *testing.T, userID, displayName string, roles ...string) string {
	t.Helper()
	now := testClock()
	claims := auth.SessionClaims{
		UserID:          userID,
		UserDisplayName: displayName,
		UserRoles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    "quorum-auth",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign session: %v", err)
	}
	return token
}

// do performs a request with an optional JSON body and bearer token and decodes the JSON response into out.
func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)

	if out != nil && recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
			t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
		}
	}
	return recorder.Code
}

// seedThread creates question q-1 in category "go" asked by "asker" with answers a-1 (author-1) and a-2 (author-2).
func (s *testServer) seedThread(t *testing.T) {
	t.Helper()
	question := qa.Question{QuestionID: "q-1", AskerID: "asker", Title: "goroutines", Category: "go", Views: 10, AnswersCount: 2, CreatedAtSeconds: testNowSeconds - 3600}
	if err := s.db.Create(&question).Error; err != nil {
		t.Fatalf("failed to seed question: %v", err)
	}
	for index, authorID := range []string{"author-1", "author-2"} {
		answer := qa.Answer{
			AnswerID:         "a-" + string(rune('1'+index)),
			QuestionID:       "q-1",
			AuthorID:         authorID,
			Body:             strings.Repeat("x", 500),
			CreatedAtSeconds: testNowSeconds - 1800,
			UpdatedAtSeconds: testNowSeconds - 1800,
		}
		if err := s.db.Create(&answer).Error; err != nil {
			t.Fatalf("failed to seed answer: %v", err)
		}
	}
}
