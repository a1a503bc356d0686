package expertise

import "testing"

func TestLevelForThresholds(t *testing.T) {
	testCases := []struct {
		score int64
		level Level
	}{
		{score: 0, level: LevelNewcomer},
		{score: 29, level: LevelNewcomer},
		{score: 30, level: LevelContributor},
		{score: 99, level: LevelContributor},
		{score: 100, level: LevelSpecialist},
		{score: 196, level: LevelSpecialist},
		{score: 199, level: LevelSpecialist},
		{score: 200, level: LevelSenior},
		{score: 499, level: LevelSenior},
		{score: 500, level: LevelExpert},
		{score: 999, level: LevelExpert},
		{score: 1000, level: LevelTopExpert},
		{score: 25000, level: LevelTopExpert},
	}
	for _, testCase := range testCases {
		if got := LevelFor(testCase.score); got != testCase.level {
			t.Fatalf("score %d: expected %s, got %s", testCase.score, testCase.level, got)
		}
	}
}

func TestLevelForIsMonotonic(t *testing.T) {
	rank := make(map[Level]int, len(levelThresholds))
	for index, threshold := range levelThresholds {
		rank[threshold.level] = index
	}
	previous := rank[LevelFor(0)]
	for score := int64(1); score <= 1500; score++ {
		current := rank[LevelFor(score)]
		if current < previous {
			t.Fatalf("level decreased at score %d", score)
		}
		previous = current
	}
}

func TestScoreFormula(t *testing.T) {
	inputs := Inputs{TotalAnswers: 5, AcceptedAnswers: 2, HelpfulReactions: 2, ExpertReactions: 1, TotalQuestions: 8}
	breakdown := Explain(inputs)
	if breakdown.Answers != 50 || breakdown.Accepted != 100 || breakdown.Helpful != 10 || breakdown.Expert != 20 || breakdown.Questions != 16 {
		t.Fatalf("unexpected breakdown: %+v", breakdown)
	}
	if Score(inputs) != 196 {
		t.Fatalf("expected score 196, got %d", Score(inputs))
	}
	if Score(Inputs{TotalAnswers: -3}) != 0 {
		t.Fatalf("expected negative counters to contribute nothing")
	}
}

func TestNextLevel(t *testing.T) {
	next, missing, ok := NextLevel(196)
	if !ok || next != LevelSenior || missing != 4 {
		t.Fatalf("expected senior in 4 points, got %s %d %v", next, missing, ok)
	}
	if _, _, ok := NextLevel(1000); ok {
		t.Fatalf("expected no level above top expert")
	}
}

func TestTopCategoryTieBreaks(t *testing.T) {
	testCases := []struct {
		name     string
		domains  []Domain
		expected string
	}{
		{name: "empty", domains: nil, expected: ""},
		{
			name: "most answers",
			domains: []Domain{
				{Category: "sql", AnswerCount: 2, LastActivitySeconds: 500},
				{Category: "go", AnswerCount: 3, LastActivitySeconds: 100},
			},
			expected: "go",
		},
		{
			name: "recent activity breaks count ties",
			domains: []Domain{
				{Category: "go", AnswerCount: 3, LastActivitySeconds: 100},
				{Category: "sql", AnswerCount: 3, LastActivitySeconds: 200},
			},
			expected: "sql",
		},
		{
			name: "name breaks full ties",
			domains: []Domain{
				{Category: "rust", AnswerCount: 1, LastActivitySeconds: 100},
				{Category: "go", AnswerCount: 1, LastActivitySeconds: 100},
			},
			expected: "go",
		},
		{
			name: "zero answer domains ignored",
			domains: []Domain{
				{Category: "go", AnswerCount: 0, LastActivitySeconds: 900},
			},
			expected: "",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := TopCategory(testCase.domains); got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}
