package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/quorum/internal/badges"
	"github.com/MarcoPoloResearchLab/quorum/internal/cache"
	"github.com/MarcoPoloResearchLab/quorum/internal/expertise"
	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"github.com/MarcoPoloResearchLab/quorum/internal/trending"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opLeaderboardRequest = "server.leaderboard"
	opTrendingRequest    = "server.trending"
)

func (h *httpHandler) handleGetExpertise(c *gin.Context) {
	ctx := c.Request.Context()
	profile, err := h.expertise.GetProfile(ctx, c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	var report *badges.Report
	if evaluated, err := h.badges.ReportForProfile(ctx, profile); err != nil {
		h.logger.Warn("badge report failed", zap.String("user_id", profile.Stats.UserID), zap.Error(err))
	} else {
		report = &evaluated
	}
	c.JSON(http.StatusOK, newExpertisePayload(profile, report))
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	period, err := expertise.ParsePeriod(c.Query("period"))
	if err != nil {
		h.writeServiceError(c, qa.NewError(opLeaderboardRequest, "invalid_period", qa.KindValidation, err))
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		h.writeServiceError(c, qa.NewError(opLeaderboardRequest, "invalid_limit", qa.KindValidation, err))
		return
	}
	category := strings.TrimSpace(c.Query("category"))

	key := fmt.Sprintf("leaderboard:%s:%s:%d", period, strings.ToLower(category), limit)
	response, err := cache.Remember(c.Request.Context(), h.cache, key, func(ctx context.Context) (leaderboardResponsePayload, error) {
		return h.loadLeaderboard(ctx, expertise.LeaderboardQuery{Period: period, Category: category, Limit: limit})
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) loadLeaderboard(ctx context.Context, query expertise.LeaderboardQuery) (leaderboardResponsePayload, error) {
	entries, err := h.expertise.Leaderboard(ctx, query)
	if err != nil {
		return leaderboardResponsePayload{}, err
	}

	userIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		userIDs = append(userIDs, entry.UserID)
	}
	names, err := h.users.DisplayNames(ctx, userIDs)
	if err != nil {
		h.logger.Warn("display name lookup failed", zap.Error(err))
		names = map[string]string{}
	}

	response := leaderboardResponsePayload{
		Period:   string(query.Period),
		Category: query.Category,
		Entries:  make([]leaderboardEntryPayload, 0, len(entries)),
	}
	for _, entry := range entries {
		response.Entries = append(response.Entries, leaderboardEntryPayload{
			Rank:        entry.Rank,
			UserID:      entry.UserID,
			DisplayName: names[entry.UserID],
			Score:       entry.Score,
			Level:       string(entry.Level),
			Inputs:      entry.Inputs,
		})
	}
	return response, nil
}

func (h *httpHandler) handleTrending(c *gin.Context) {
	period, err := trending.ParsePeriod(c.Query("period"))
	if err != nil {
		h.writeServiceError(c, qa.NewError(opTrendingRequest, "invalid_period", qa.KindValidation, err))
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		h.writeServiceError(c, qa.NewError(opTrendingRequest, "invalid_limit", qa.KindValidation, err))
		return
	}

	key := fmt.Sprintf("trending:%s:%d", period, limit)
	entries, err := cache.Remember(c.Request.Context(), h.cache, key, func(ctx context.Context) ([]trending.Entry, error) {
		return h.trending.Trending(ctx, trending.Query{Period: period, Limit: limit})
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if entries == nil {
		entries = []trending.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"period": string(period), "questions": entries})
}

// parseLimit treats an empty value as zero so the service default applies.
func parseLimit(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, err
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive, got %d", limit)
	}
	return limit, nil
}
