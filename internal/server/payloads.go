package server

import (
	"github.com/MarcoPoloResearchLab/quorum/internal/badges"
	"github.com/MarcoPoloResearchLab/quorum/internal/expertise"
	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
)

type metricPayload struct {
	AnswerID          string `json:"answer_id"`
	AQS               int    `json:"aqs"`
	Label             string `json:"label"`
	LastTrigger       string `json:"last_trigger"`
	ComputedAtSeconds int64  `json:"computed_at_s"`
}

func newMetricPayload(metric quality.Metric) metricPayload {
	return metricPayload{
		AnswerID:          metric.AnswerID,
		AQS:               metric.AQS,
		Label:             string(metric.Label),
		LastTrigger:       metric.LastTrigger.String(),
		ComputedAtSeconds: metric.ComputedAtSeconds,
	}
}

func optionalMetricPayload(metric *quality.Metric) *metricPayload {
	if metric == nil {
		return nil
	}
	payload := newMetricPayload(*metric)
	return &payload
}

type reactionRequestPayload struct {
	Type string `json:"type" binding:"required,reaction_type"`
}

type reactionResponsePayload struct {
	AnswerID         string         `json:"answer_id"`
	Previous         string         `json:"previous,omitempty"`
	Current          string         `json:"current,omitempty"`
	Transition       string         `json:"transition"`
	HelpfulCount     int64          `json:"helpful_count"`
	ExpertBadgeCount int64          `json:"expert_badge_count"`
	Quality          *metricPayload `json:"quality,omitempty"`
}

type flagRequestPayload struct {
	Reason string `json:"reason" binding:"required,flag_reason"`
	Note   string `json:"note" binding:"max=1000"`
}

type flagResponsePayload struct {
	AnswerID string         `json:"answer_id"`
	Present  bool           `json:"present"`
	Reason   string         `json:"reason,omitempty"`
	Created  bool           `json:"created"`
	Quality  *metricPayload `json:"quality,omitempty"`
}

type acceptResponsePayload struct {
	QuestionID string         `json:"question_id"`
	AnswerID   string         `json:"answer_id"`
	Accepted   bool           `json:"accepted"`
	Replaced   string         `json:"replaced,omitempty"`
	Quality    *metricPayload `json:"quality,omitempty"`
}

type editRequestPayload struct {
	Body string `json:"body" binding:"required"`
}

type editResponsePayload struct {
	AnswerID  string         `json:"answer_id"`
	EditCount int64          `json:"edit_count"`
	Quality   *metricPayload `json:"quality,omitempty"`
}

type domainPayload struct {
	Category            string `json:"category"`
	AnswerCount         int64  `json:"answer_count"`
	AcceptedCount       int64  `json:"accepted_count"`
	HelpfulReactions    int64  `json:"helpful_reactions"`
	ExpertReactions     int64  `json:"expert_reactions"`
	LastActivitySeconds int64  `json:"last_activity_s"`
}

type awardPayload struct {
	Code             string `json:"code"`
	Category         string `json:"category"`
	Title            string `json:"title"`
	AwardedAtSeconds int64  `json:"awarded_at_s"`
	Source           string `json:"source"`
}

func newAwardPayloads(awards []badges.Award) []awardPayload {
	payloads := make([]awardPayload, 0, len(awards))
	for _, award := range awards {
		payloads = append(payloads, awardPayload{
			Code:             award.Code,
			Category:         string(award.Category),
			Title:            award.Title,
			AwardedAtSeconds: award.AwardedAtSeconds,
			Source:           award.Source,
		})
	}
	return payloads
}

type badgeReportPayload struct {
	Eligible []string       `json:"eligible"`
	Awarded  []awardPayload `json:"awarded"`
	Pending  []string       `json:"pending"`
}

type expertisePayload struct {
	UserID            string              `json:"user_id"`
	ExpertScore       int64               `json:"expert_score"`
	ExpertLevel       string              `json:"expert_level"`
	TopCategory       string              `json:"top_category"`
	Inputs            expertise.Inputs    `json:"inputs"`
	Breakdown         expertise.Breakdown `json:"breakdown"`
	NextLevel         string              `json:"next_level,omitempty"`
	PointsToNextLevel int64               `json:"points_to_next_level"`
	Domains           []domainPayload     `json:"domains"`
	Badges            *badgeReportPayload `json:"badges,omitempty"`
}

func newExpertisePayload(profile expertise.Profile, report *badges.Report) expertisePayload {
	payload := expertisePayload{
		UserID:            profile.Stats.UserID,
		ExpertScore:       profile.Stats.ExpertScore,
		ExpertLevel:       string(profile.Stats.ExpertLevel),
		TopCategory:       profile.Stats.TopCategory,
		Inputs:            profile.Stats.Inputs(),
		Breakdown:         profile.Breakdown,
		NextLevel:         string(profile.NextLevel),
		PointsToNextLevel: profile.PointsToNextLevel,
		Domains:           make([]domainPayload, 0, len(profile.Domains)),
	}
	for _, domain := range profile.Domains {
		payload.Domains = append(payload.Domains, domainPayload{
			Category:            domain.Category,
			AnswerCount:         domain.AnswerCount,
			AcceptedCount:       domain.AcceptedCount,
			HelpfulReactions:    domain.HelpfulReactions,
			ExpertReactions:     domain.ExpertReactions,
			LastActivitySeconds: domain.LastActivitySeconds,
		})
	}
	if report != nil {
		payload.Badges = &badgeReportPayload{
			Eligible: nonNilStrings(report.Eligible),
			Awarded:  newAwardPayloads(report.Awarded),
			Pending:  nonNilStrings(report.Pending),
		}
	}
	return payload
}

type leaderboardEntryPayload struct {
	Rank        int              `json:"rank"`
	UserID      string           `json:"user_id"`
	DisplayName string           `json:"display_name,omitempty"`
	Score       int64            `json:"score"`
	Level       string           `json:"level"`
	Inputs      expertise.Inputs `json:"inputs"`
}

type leaderboardResponsePayload struct {
	Period   string                    `json:"period"`
	Category string                    `json:"category,omitempty"`
	Entries  []leaderboardEntryPayload `json:"entries"`
}

type scoreDebugPayload struct {
	UserID    string              `json:"user_id"`
	Stored    expertise.Inputs    `json:"stored"`
	Derived   expertise.Inputs    `json:"derived"`
	Breakdown expertise.Breakdown `json:"breakdown"`
	Level     string              `json:"level"`
	InSync    bool                `json:"in_sync"`
}

type grantBadgesRequestPayload struct {
	Code   string `json:"code"`
	Source string `json:"source" binding:"max=32"`
}

type grantBadgesResponsePayload struct {
	UserID  string         `json:"user_id"`
	Granted []awardPayload `json:"granted"`
}

type questionPostedPayload struct {
	QuestionID string `json:"question_id" binding:"required"`
}

type answerPostedPayload struct {
	AnswerID string `json:"answer_id" binding:"required"`
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
