package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for input, expected := range testCases {
		if got := ParseLevel(input); got != expected {
			t.Fatalf("ParseLevel(%q) = %s, want %s", input, got, expected)
		}
	}
}

func TestRequestLoggerLevelsByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user", "u-1")
		c.Next()
	})
	router.Use(RequestLogger(zap.New(core), "user"))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/missing", "/broken"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(entries))
	}
	expected := []zapcore.Level{zapcore.DebugLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for index, entry := range entries {
		if entry.Level != expected[index] {
			t.Fatalf("entry %d: expected %s, got %s", index, expected[index], entry.Level)
		}
		if entry.ContextMap()["user_id"] != "u-1" {
			t.Fatalf("entry %d: expected user_id field, got %v", index, entry.ContextMap())
		}
	}
}
