package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/auth"
	"github.com/MarcoPoloResearchLab/quorum/internal/badges"
	"github.com/MarcoPoloResearchLab/quorum/internal/cache"
	"github.com/MarcoPoloResearchLab/quorum/internal/expertise"
	"github.com/MarcoPoloResearchLab/quorum/internal/logging"
	"github.com/MarcoPoloResearchLab/quorum/internal/metrics"
	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
	"github.com/MarcoPoloResearchLab/quorum/internal/signals"
	"github.com/MarcoPoloResearchLab/quorum/internal/trending"
	"github.com/MarcoPoloResearchLab/quorum/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey        = "quorum_user_id"
	sessionClaimsContextKey = "quorum_session_claims"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserDirectory    = errors.New("user directory dependency required")
	errMissingSignalsService   = errors.New("signals service dependency required")
	errMissingDispatcher       = errors.New("quality dispatcher dependency required")
	errMissingExpertiseService = errors.New("expertise service dependency required")
	errMissingBadgesService    = errors.New("badges service dependency required")
	errMissingTrendingService  = errors.New("trending service dependency required")
)

// SessionValidator authenticates an incoming request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserDirectory resolves session claims to directory entries.
type UserDirectory interface {
	Resolve(ctx context.Context, claims auth.SessionClaims) (users.User, error)
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

type Dependencies struct {
	Sessions   SessionValidator
	Users      UserDirectory
	Signals    *signals.Service
	Dispatcher *quality.Dispatcher
	Expertise  *expertise.Service
	Badges     *badges.Service
	Trending   *trending.Service
	Cache      *cache.Store
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessionValidator
	case deps.Users == nil:
		return nil, errMissingUserDirectory
	case deps.Signals == nil:
		return nil, errMissingSignalsService
	case deps.Dispatcher == nil:
		return nil, errMissingDispatcher
	case deps.Expertise == nil:
		return nil, errMissingExpertiseService
	case deps.Badges == nil:
		return nil, errMissingBadgesService
	case deps.Trending == nil:
		return nil, errMissingTrendingService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := registerValidators(); err != nil {
		logger.Error("validator registration failed", zap.Error(err))
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(logging.RequestLogger(logger, userIDContextKey))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	handler := &httpHandler{
		sessions:   deps.Sessions,
		users:      deps.Users,
		signals:    deps.Signals,
		dispatcher: deps.Dispatcher,
		expertise:  deps.Expertise,
		badges:     deps.Badges,
		trending:   deps.Trending,
		cache:      deps.Cache,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/answers/:id/quality", handler.handleGetQuality)
	router.GET("/users/:id/expertise", handler.handleGetExpertise)
	router.GET("/leaderboard", handler.handleLeaderboard)
	router.GET("/questions/trending", handler.handleTrending)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/answers/:id/reactions", handler.handleToggleReaction)
	protected.PUT("/answers/:id/flag", handler.handleFlagAnswer)
	protected.DELETE("/answers/:id/flag", handler.handleRemoveFlag)
	protected.POST("/answers/:id/accept", handler.handleAcceptAnswer)
	protected.DELETE("/answers/:id/accept", handler.handleUnacceptAnswer)
	protected.POST("/answers/:id/edits", handler.handleEditAnswer)

	admin := protected.Group("/admin")
	admin.Use(handler.requireAdmin)
	admin.GET("/users/:id/score-debug", handler.handleScoreDebug)
	admin.POST("/users/:id/badges", handler.handleGrantBadges)
	admin.POST("/users/:id/expertise/recompute", handler.handleRecomputeExpertise)
	admin.POST("/answers/:id/recompute", handler.handleRecomputeAnswer)
	admin.POST("/questions/:id/recompute", handler.handleRecomputeQuestion)
	admin.POST("/events/question-posted", handler.handleQuestionPosted)
	admin.POST("/events/answer-posted", handler.handleAnswerPosted)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions   SessionValidator
	users      UserDirectory
	signals    *signals.Service
	dispatcher *quality.Dispatcher
	expertise  *expertise.Service
	badges     *badges.Service
	trending   *trending.Service
	cache      *cache.Store
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Code: "auth.unauthorized"})
		return
	}

	user, err := h.users.Resolve(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Code: "auth.unauthorized"})
			return
		}
		h.logger.Error("failed to resolve session user", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorPayload{Error: "user_resolution_failed", Code: "auth.user_resolution_failed"})
		return
	}

	c.Set(userIDContextKey, user.UserID)
	c.Set(sessionClaimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	value, ok := c.Get(sessionClaimsContextKey)
	claims, isClaims := value.(auth.SessionClaims)
	if !ok || !isClaims || !claims.HasRole(auth.RoleAdmin) {
		c.AbortWithStatusJSON(http.StatusForbidden, errorPayload{Error: "forbidden", Code: "auth.forbidden"})
		return
	}
	c.Next()
}
