package trending

import (
	"testing"
	"time"
)

func TestScoreRecencyDecay(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	engagement := Engagement{Views: 40, AnswersCount: 3, ReactionsCount: 4}
	base := BaseScore(engagement)
	if base != 90 {
		t.Fatalf("expected base score 90, got %v", base)
	}

	testCases := []struct {
		name     string
		age      time.Duration
		expected float64
		eligible bool
	}{
		{name: "one hour", age: time.Hour, expected: 2 * base, eligible: true},
		{name: "exactly one day", age: 24 * time.Hour, expected: 2 * base, eligible: true},
		{name: "three days", age: 72 * time.Hour, expected: 1.5 * base, eligible: true},
		{name: "ten days", age: 240 * time.Hour, expected: base, eligible: true},
		{name: "thirty days", age: Lookback, expected: base, eligible: true},
		{name: "thirty one days", age: Lookback + 24*time.Hour, expected: 0, eligible: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			engagement.CreatedAt = now.Add(-testCase.age)
			score, ok := Score(engagement, now)
			if ok != testCase.eligible || score != testCase.expected {
				t.Fatalf("expected %v (eligible %v), got %v (eligible %v)", testCase.expected, testCase.eligible, score, ok)
			}
		})
	}
}

func TestScoreTreatsFutureTimestampsAsNew(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	score, ok := Score(Engagement{Views: 1, CreatedAt: now.Add(time.Hour)}, now)
	if !ok || score != 2 {
		t.Fatalf("expected future question to score 2, got %v %v", score, ok)
	}
}
