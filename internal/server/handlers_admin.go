package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/quorum/internal/badges"
	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
	"github.com/gin-gonic/gin"
)

const opAdminRecomputeAnswer = "server.admin.recompute_answer"

func (h *httpHandler) handleScoreDebug(c *gin.Context) {
	debug, err := h.expertise.ScoreBreakdown(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, scoreDebugPayload{
		UserID:    debug.UserID,
		Stored:    debug.Stored,
		Derived:   debug.Derived,
		Breakdown: debug.Breakdown,
		Level:     string(debug.Level),
		InSync:    debug.InSync,
	})
}

// handleGrantBadges grants the named badge, or every pending badge when no code is given.
func (h *httpHandler) handleGrantBadges(c *gin.Context) {
	var request grantBadgesRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		h.writeBindError(c, "badges.grant", err)
		return
	}
	ctx := c.Request.Context()
	userID := c.Param("id")
	source := request.Source
	if strings.TrimSpace(source) == "" {
		source = badges.SourceManual
	}

	var granted []badges.Award
	if strings.TrimSpace(request.Code) == "" {
		awards, err := h.badges.GrantPending(ctx, userID, source)
		if err != nil {
			h.writeServiceError(c, err)
			return
		}
		granted = awards
	} else {
		award, created, err := h.badges.Grant(ctx, userID, request.Code, source)
		if err != nil {
			h.writeServiceError(c, err)
			return
		}
		if created {
			granted = append(granted, award)
		}
	}

	c.JSON(http.StatusOK, grantBadgesResponsePayload{
		UserID:  strings.TrimSpace(userID),
		Granted: newAwardPayloads(granted),
	})
}

func (h *httpHandler) handleRecomputeExpertise(c *gin.Context) {
	profile, err := h.expertise.Recompute(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newExpertisePayload(profile, nil))
}

func (h *httpHandler) handleRecomputeAnswer(c *gin.Context) {
	trigger := quality.TriggerSweep
	if raw := c.Query("trigger"); raw != "" {
		parsed, err := quality.ParseTriggerKind(raw)
		if err != nil {
			h.writeServiceError(c, qa.NewError(opAdminRecomputeAnswer, "invalid_trigger", qa.KindValidation, err))
			return
		}
		trigger = parsed
	}
	metric, err := h.dispatcher.RecomputeAnswer(c.Request.Context(), c.Param("id"), trigger)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMetricPayload(metric))
}

func (h *httpHandler) handleRecomputeQuestion(c *gin.Context) {
	metrics, err := h.dispatcher.RecomputeQuestionAnswers(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payloads := make([]metricPayload, 0, len(metrics))
	for _, metric := range metrics {
		payloads = append(payloads, newMetricPayload(metric))
	}
	c.JSON(http.StatusOK, gin.H{"question_id": strings.TrimSpace(c.Param("id")), "answers": payloads})
}

func (h *httpHandler) handleQuestionPosted(c *gin.Context) {
	var request questionPostedPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, "expertise.record_question_posted", err)
		return
	}
	if err := h.expertise.RecordQuestionPosted(c.Request.Context(), request.QuestionID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAnswerPosted(c *gin.Context) {
	var request answerPostedPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, "expertise.record_answer_posted", err)
		return
	}
	if err := h.expertise.RecordAnswerPosted(c.Request.Context(), request.AnswerID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
