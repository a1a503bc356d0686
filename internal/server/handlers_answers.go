package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/quorum/internal/signals"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleGetQuality(c *gin.Context) {
	metric, err := h.dispatcher.GetMetric(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMetricPayload(metric))
}

func (h *httpHandler) handleToggleReaction(c *gin.Context) {
	var request reactionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, "signals.toggle_reaction", err)
		return
	}

	result, err := h.signals.ToggleReaction(c.Request.Context(), signals.ReactionRequest{
		AnswerID: c.Param("id"),
		UserID:   c.GetString(userIDContextKey),
		Type:     request.Type,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, reactionResponsePayload{
		AnswerID:         result.AnswerID,
		Previous:         string(result.Previous),
		Current:          string(result.Current),
		Transition:       string(result.Transition),
		HelpfulCount:     result.HelpfulCount,
		ExpertBadgeCount: result.ExpertBadgeCount,
		Quality:          optionalMetricPayload(result.Metric),
	})
}

func (h *httpHandler) handleFlagAnswer(c *gin.Context) {
	var request flagRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, "signals.flag_answer", err)
		return
	}

	result, err := h.signals.FlagAnswer(c.Request.Context(), signals.FlagRequest{
		AnswerID: c.Param("id"),
		UserID:   c.GetString(userIDContextKey),
		Reason:   request.Reason,
		Note:     request.Note,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newFlagResponsePayload(result))
}

func (h *httpHandler) handleRemoveFlag(c *gin.Context) {
	result, err := h.signals.RemoveFlag(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newFlagResponsePayload(result))
}

func newFlagResponsePayload(result signals.FlagResult) flagResponsePayload {
	return flagResponsePayload{
		AnswerID: result.AnswerID,
		Present:  result.Present,
		Reason:   string(result.Reason),
		Created:  result.Created,
		Quality:  optionalMetricPayload(result.Metric),
	}
}

func (h *httpHandler) handleAcceptAnswer(c *gin.Context) {
	result, err := h.signals.AcceptAnswer(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAcceptResponsePayload(result))
}

func (h *httpHandler) handleUnacceptAnswer(c *gin.Context) {
	result, err := h.signals.UnacceptAnswer(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAcceptResponsePayload(result))
}

func newAcceptResponsePayload(result signals.AcceptResult) acceptResponsePayload {
	return acceptResponsePayload{
		QuestionID: result.QuestionID,
		AnswerID:   result.AnswerID,
		Accepted:   result.Accepted,
		Replaced:   result.Replaced,
		Quality:    optionalMetricPayload(result.Metric),
	}
}

func (h *httpHandler) handleEditAnswer(c *gin.Context) {
	var request editRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, "signals.edit_answer", err)
		return
	}

	result, err := h.signals.EditAnswer(c.Request.Context(), signals.EditRequest{
		AnswerID: c.Param("id"),
		UserID:   c.GetString(userIDContextKey),
		Body:     request.Body,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, editResponsePayload{
		AnswerID:  result.AnswerID,
		EditCount: result.EditCount,
		Quality:   optionalMetricPayload(result.Metric),
	})
}
