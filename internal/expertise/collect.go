package expertise

import (
	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"gorm.io/gorm"
)

// inputFilter narrows signal aggregation. Zero values disable a filter.
type inputFilter struct {
	UserID       string
	SinceSeconds int64
	Category     string
}

type userCountRow struct {
	UserID string
	Total  int64
}

type userReactionRow struct {
	UserID string
	Type   qa.ReactionType
	Total  int64
}

// collectInputs derives score inputs per user straight from the signal tables.
func collectInputs(db *gorm.DB, filter inputFilter) (map[string]*Inputs, error) {
	inputs := make(map[string]*Inputs)
	entry := func(userID string) *Inputs {
		current, ok := inputs[userID]
		if !ok {
			current = &Inputs{}
			inputs[userID] = current
		}
		return current
	}

	var answerRows []userCountRow
	answers := answerScope(db.Table("answers AS a"), filter).
		Select("a.author_id AS user_id, COUNT(*) AS total")
	if filter.SinceSeconds > 0 {
		answers = answers.Where("a.created_at_s >= ?", filter.SinceSeconds)
	}
	if err := answers.Group("a.author_id").Scan(&answerRows).Error; err != nil {
		return nil, err
	}
	for _, row := range answerRows {
		entry(row.UserID).TotalAnswers = row.Total
	}

	var acceptedRows []userCountRow
	accepted := answerScope(db.Table("answers AS a"), filter).
		Select("a.author_id AS user_id, COUNT(*) AS total").
		Where("a.is_accepted = ?", true)
	if filter.SinceSeconds > 0 {
		accepted = accepted.Where("a.accepted_at_s >= ?", filter.SinceSeconds)
	}
	if err := accepted.Group("a.author_id").Scan(&acceptedRows).Error; err != nil {
		return nil, err
	}
	for _, row := range acceptedRows {
		entry(row.UserID).AcceptedAnswers = row.Total
	}

	var reactionRows []userReactionRow
	reactions := answerScope(db.Table("answer_reactions AS r").Joins("JOIN answers AS a ON a.answer_id = r.answer_id"), filter).
		Select("a.author_id AS user_id, r.type AS type, COUNT(*) AS total").
		Where("r.type IN ?", []qa.ReactionType{qa.ReactionHelpful, qa.ReactionExpert})
	if filter.SinceSeconds > 0 {
		reactions = reactions.Where("r.updated_at_s >= ?", filter.SinceSeconds)
	}
	if err := reactions.Group("a.author_id, r.type").Scan(&reactionRows).Error; err != nil {
		return nil, err
	}
	for _, row := range reactionRows {
		switch row.Type {
		case qa.ReactionHelpful:
			entry(row.UserID).HelpfulReactions = row.Total
		case qa.ReactionExpert:
			entry(row.UserID).ExpertReactions = row.Total
		}
	}

	var questionRows []userCountRow
	questions := db.Table("questions AS q").
		Select("q.asker_id AS user_id, COUNT(*) AS total").
		Where("q.is_hidden = ?", false)
	if filter.UserID != "" {
		questions = questions.Where("q.asker_id = ?", filter.UserID)
	}
	if filter.Category != "" {
		questions = questions.Where("q.category = ?", filter.Category)
	}
	if filter.SinceSeconds > 0 {
		questions = questions.Where("q.created_at_s >= ?", filter.SinceSeconds)
	}
	if err := questions.Group("q.asker_id").Scan(&questionRows).Error; err != nil {
		return nil, err
	}
	for _, row := range questionRows {
		entry(row.UserID).TotalQuestions = row.Total
	}

	return inputs, nil
}

// answerScope applies the visibility, author and category filters to a query aliasing answers as "a".
func answerScope(query *gorm.DB, filter inputFilter) *gorm.DB {
	query = query.Where("a.is_hidden = ?", false)
	if filter.UserID != "" {
		query = query.Where("a.author_id = ?", filter.UserID)
	}
	if filter.Category != "" {
		query = query.
			Joins("JOIN questions AS q ON q.question_id = a.question_id").
			Where("q.category = ?", filter.Category)
	}
	return query
}

type domainRow struct {
	Category            string
	AnswerCount         int64
	AcceptedCount       int64
	HelpfulReactions    int64
	ExpertReactions     int64
	LastActivitySeconds int64
}

// collectDomains derives a user's per-category breakdown from the answers table.
func collectDomains(db *gorm.DB, userID string) ([]domainRow, error) {
	var rows []domainRow
	err := db.Table("answers AS a").
		Select(`q.category AS category,
			COUNT(*) AS answer_count,
			SUM(CASE WHEN a.is_accepted THEN 1 ELSE 0 END) AS accepted_count,
			SUM(a.helpful_count) AS helpful_reactions,
			SUM(a.expert_badge_count) AS expert_reactions,
			MAX(a.created_at_s) AS last_activity_seconds`).
		Joins("JOIN questions AS q ON q.question_id = a.question_id").
		Where("a.author_id = ? AND a.is_hidden = ?", userID, false).
		Group("q.category").
		Order("q.category ASC").
		Scan(&rows).Error
	return rows, err
}
