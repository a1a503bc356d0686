package badges

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/quorum/internal/expertise"
)

// ErrUnknownBadge indicates a code that is neither in the static catalog nor a domain badge code.
var ErrUnknownBadge = errors.New("badges: unknown badge code")

// Category groups badges by what they reward.
type Category string

const (
	CategoryParticipation Category = "participation"
	CategoryQuality       Category = "quality"
	CategoryDomain        Category = "domain"
)

const domainCodePrefix = "domain_expert:"

// Domain badges require both volume and recognition within one category.
const (
	DomainMinAnswers     int64 = 5
	DomainMinRecognition int64 = 5
)

// Definition describes a catalog badge and its eligibility rule.
type Definition struct {
	Code        string
	Category    Category
	Title       string
	Description string
	eligible    func(expertise.Stats) bool
}

var staticDefinitions = []Definition{
	{
		Code: "first_answer", Category: CategoryParticipation, Title: "First Answer",
		Description: "Posted a first answer.",
		eligible:    func(s expertise.Stats) bool { return s.TotalAnswers >= 1 },
	},
	{
		Code: "prolific_answerer", Category: CategoryParticipation, Title: "Prolific Answerer",
		Description: "Posted 25 answers.",
		eligible:    func(s expertise.Stats) bool { return s.TotalAnswers >= 25 },
	},
	{
		Code: "curious_mind", Category: CategoryParticipation, Title: "Curious Mind",
		Description: "Asked 10 questions.",
		eligible:    func(s expertise.Stats) bool { return s.TotalQuestions >= 10 },
	},
	{
		Code: "first_accepted", Category: CategoryQuality, Title: "Accepted",
		Description: "Had an answer accepted.",
		eligible:    func(s expertise.Stats) bool { return s.FeaturedAnswers >= 1 },
	},
	{
		Code: "trusted_answerer", Category: CategoryQuality, Title: "Trusted Answerer",
		Description: "Had 10 answers accepted.",
		eligible:    func(s expertise.Stats) bool { return s.FeaturedAnswers >= 10 },
	},
	{
		Code: "helpful_hand", Category: CategoryQuality, Title: "Helpful Hand",
		Description: "Received 25 helpful reactions.",
		eligible:    func(s expertise.Stats) bool { return s.HelpfulReactions >= 25 },
	},
	{
		Code: "expert_endorsed", Category: CategoryQuality, Title: "Expert Endorsed",
		Description: "Received 5 expert reactions.",
		eligible:    func(s expertise.Stats) bool { return s.ExpertReactions >= 5 },
	},
}

// Catalog returns the static badge definitions in catalog order.
func Catalog() []Definition {
	definitions := make([]Definition, len(staticDefinitions))
	copy(definitions, staticDefinitions)
	return definitions
}

// DomainCode returns the badge code for expertise in category.
func DomainCode(category string) string {
	return domainCodePrefix + strings.ToLower(strings.TrimSpace(category))
}

// Lookup resolves a static or domain badge code to its definition.
func Lookup(code string) (Definition, error) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	for _, definition := range staticDefinitions {
		if definition.Code == normalized {
			return definition, nil
		}
	}
	if category, ok := strings.CutPrefix(normalized, domainCodePrefix); ok && category != "" {
		return Definition{
			Code:        normalized,
			Category:    CategoryDomain,
			Title:       fmt.Sprintf("Expert in %s", category),
			Description: fmt.Sprintf("Recognised for answers in %s.", category),
		}, nil
	}
	return Definition{}, fmt.Errorf("%w: %q", ErrUnknownBadge, code)
}

// Evaluation is the pure outcome of checking a user's expertise against the catalog.
type Evaluation struct {
	Level    expertise.Level
	Eligible []string
}

// Evaluate derives the level and every badge code the user currently qualifies for, sorted.
func Evaluate(stats expertise.Stats, domains []expertise.Domain) Evaluation {
	eligible := make([]string, 0, len(staticDefinitions))
	for _, definition := range staticDefinitions {
		if definition.eligible(stats) {
			eligible = append(eligible, definition.Code)
		}
	}
	for _, domain := range domains {
		if domain.Category == "" {
			continue
		}
		if domain.AnswerCount >= DomainMinAnswers && domain.AcceptedCount+domain.ExpertReactions >= DomainMinRecognition {
			eligible = append(eligible, DomainCode(domain.Category))
		}
	}
	sort.Strings(eligible)
	return Evaluation{
		Level:    expertise.LevelFor(expertise.Score(stats.Inputs())),
		Eligible: eligible,
	}
}

// Pending returns eligible codes that have not been awarded, preserving order.
func Pending(eligible []string, awarded map[string]struct{}) []string {
	pending := make([]string, 0, len(eligible))
	for _, code := range eligible {
		if _, ok := awarded[code]; !ok {
			pending = append(pending, code)
		}
	}
	return pending
}
