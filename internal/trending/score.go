package trending

import "time"

const (
	ViewWeight     = 1
	AnswerWeight   = 10
	ReactionWeight = 5

	// Lookback bounds the age of questions eligible for trending.
	Lookback = 30 * 24 * time.Hour
)

// Engagement is the activity snapshot of a question.
type Engagement struct {
	Views          int64
	AnswersCount   int64
	ReactionsCount int64
	CreatedAt      time.Time
}

// BaseScore is the engagement volume before recency decay.
func BaseScore(engagement Engagement) float64 {
	return float64(nonNegative(engagement.Views)*ViewWeight +
		nonNegative(engagement.AnswersCount)*AnswerWeight +
		nonNegative(engagement.ReactionsCount)*ReactionWeight)
}

// RecencyFactor multiplies recent questions: 2.0 within a day, 1.5 within a week, 1.0 otherwise.
func RecencyFactor(age time.Duration) float64 {
	switch {
	case age <= 24*time.Hour:
		return 2.0
	case age <= 7*24*time.Hour:
		return 1.5
	default:
		return 1.0
	}
}

// Score ranks a question at now. ok is false when the question is outside the lookback window.
func Score(engagement Engagement, now time.Time) (float64, bool) {
	age := now.Sub(engagement.CreatedAt)
	if age < 0 {
		age = 0
	}
	if age > Lookback {
		return 0, false
	}
	return BaseScore(engagement) * RecencyFactor(age), true
}

func nonNegative(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}
