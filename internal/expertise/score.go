package expertise

import "sort"

// Points awarded per unit of activity. Every displayed expert score is derived from these.
const (
	PointsPerAnswer          int64 = 10
	PointsPerAcceptedAnswer  int64 = 50
	PointsPerHelpfulReaction int64 = 5
	PointsPerExpertReaction  int64 = 20
	PointsPerQuestion        int64 = 2
)

// Inputs are the activity counters an expert score is computed from.
type Inputs struct {
	TotalAnswers     int64 `json:"total_answers"`
	AcceptedAnswers  int64 `json:"accepted_answers"`
	HelpfulReactions int64 `json:"helpful_reactions"`
	ExpertReactions  int64 `json:"expert_reactions"`
	TotalQuestions   int64 `json:"total_questions"`
}

// Breakdown lists each term of the expert score formula.
type Breakdown struct {
	Answers   int64 `json:"answers"`
	Accepted  int64 `json:"accepted"`
	Helpful   int64 `json:"helpful"`
	Expert    int64 `json:"expert"`
	Questions int64 `json:"questions"`
	Total     int64 `json:"total"`
}

// Explain computes each weighted term and their sum.
func Explain(in Inputs) Breakdown {
	breakdown := Breakdown{
		Answers:   nonNegative(in.TotalAnswers) * PointsPerAnswer,
		Accepted:  nonNegative(in.AcceptedAnswers) * PointsPerAcceptedAnswer,
		Helpful:   nonNegative(in.HelpfulReactions) * PointsPerHelpfulReaction,
		Expert:    nonNegative(in.ExpertReactions) * PointsPerExpertReaction,
		Questions: nonNegative(in.TotalQuestions) * PointsPerQuestion,
	}
	breakdown.Total = breakdown.Answers + breakdown.Accepted + breakdown.Helpful + breakdown.Expert + breakdown.Questions
	return breakdown
}

// Score is the expert score for the given counters.
func Score(in Inputs) int64 {
	return Explain(in).Total
}

// Level is a named expertise tier.
type Level string

const (
	LevelNewcomer    Level = "newcomer"
	LevelContributor Level = "contributor"
	LevelSpecialist  Level = "specialist"
	LevelSenior      Level = "senior"
	LevelExpert      Level = "expert"
	LevelTopExpert   Level = "top_expert"
)

type levelThreshold struct {
	level    Level
	minScore int64
}

// levelThresholds is ordered ascending; each bound is inclusive.
var levelThresholds = []levelThreshold{
	{level: LevelNewcomer, minScore: 0},
	{level: LevelContributor, minScore: 30},
	{level: LevelSpecialist, minScore: 100},
	{level: LevelSenior, minScore: 200},
	{level: LevelExpert, minScore: 500},
	{level: LevelTopExpert, minScore: 1000},
}

// LevelFor maps a score to its tier.
func LevelFor(score int64) Level {
	level := LevelNewcomer
	for _, threshold := range levelThresholds {
		if score >= threshold.minScore {
			level = threshold.level
		}
	}
	return level
}

// NextLevel returns the tier above score and the points still missing. ok is false at the top tier.
func NextLevel(score int64) (Level, int64, bool) {
	for _, threshold := range levelThresholds {
		if score < threshold.minScore {
			return threshold.level, threshold.minScore - score, true
		}
	}
	return "", 0, false
}

// TopCategory picks the category with the most answers. Ties go to the most recent
// activity, then to the lexically smallest category name.
func TopCategory(domains []Domain) string {
	candidates := make([]Domain, 0, len(domains))
	for _, domain := range domains {
		if domain.AnswerCount > 0 && domain.Category != "" {
			candidates = append(candidates, domain)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		left, right := candidates[i], candidates[j]
		if left.AnswerCount != right.AnswerCount {
			return left.AnswerCount > right.AnswerCount
		}
		if left.LastActivitySeconds != right.LastActivitySeconds {
			return left.LastActivitySeconds > right.LastActivitySeconds
		}
		return left.Category < right.Category
	})
	return candidates[0].Category
}

func nonNegative(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}
