package quality

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
)

// Label is the quality tier derived from an answer quality score.
type Label string

const (
	LabelStar   Label = "STAR"
	LabelPro    Label = "PRO"
	LabelUseful Label = "USEFUL"
	LabelNormal Label = "NORMAL"
)

const (
	// ProThreshold is the inclusive lower bound of the PRO label.
	ProThreshold = 70
	// UsefulThreshold is the inclusive lower bound of the USEFUL label.
	UsefulThreshold = 40

	minScore = 0
	maxScore = 100
)

// Weights holds the tunable AQS constants.
type Weights struct {
	Baseline             int
	SubstantiveBodyBonus int
	SubstantiveBodyChars int
	ShortBodyChars       int
	AskerHelpful         int
	AskerExpert          int
	AskerNotHelpful      int
	ExpertReaction       int
	ExpertReactionCap    int
	Accepted             int
	EditBonus            int
	EditBonusCap         int
	SevereFlag           int
	MinorFlag            int
}

// DefaultWeights returns the stock weighting.
func DefaultWeights() Weights {
	return Weights{
		Baseline:             10,
		SubstantiveBodyBonus: 5,
		SubstantiveBodyChars: 300,
		ShortBodyChars:       80,
		AskerHelpful:         20,
		AskerExpert:          30,
		AskerNotHelpful:      -15,
		ExpertReaction:       12,
		ExpertReactionCap:    3,
		Accepted:             45,
		EditBonus:            2,
		EditBonusCap:         3,
		SevereFlag:           -25,
		MinorFlag:            -10,
	}
}

// ErrInvalidWeights reports a weight set that breaks the scoring order.
var ErrInvalidWeights = errors.New("quality: invalid weights")

// Validate rejects weight sets that would break the ordering between signals.
func (w Weights) Validate() error {
	switch {
	case w.Baseline <= 0:
		return fmt.Errorf("%w: baseline must be positive", ErrInvalidWeights)
	case w.ShortBodyChars < 0 || w.SubstantiveBodyChars < w.ShortBodyChars:
		return fmt.Errorf("%w: substantive body length must not be below the short body length", ErrInvalidWeights)
	case w.SubstantiveBodyBonus < 0 || w.EditBonus < 0:
		return fmt.Errorf("%w: body and edit bonuses must not be negative", ErrInvalidWeights)
	case w.AskerHelpful <= 0 || w.AskerExpert <= w.AskerHelpful:
		return fmt.Errorf("%w: asker expert must outweigh asker helpful", ErrInvalidWeights)
	case w.ExpertReaction <= 0:
		return fmt.Errorf("%w: expert reaction must be positive", ErrInvalidWeights)
	case w.AskerNotHelpful > 0:
		return fmt.Errorf("%w: asker not helpful must not be positive", ErrInvalidWeights)
	case w.ExpertReactionCap <= 0 || w.EditBonusCap <= 0:
		return fmt.Errorf("%w: caps must be positive", ErrInvalidWeights)
	case w.MinorFlag >= 0 || w.SevereFlag >= w.MinorFlag:
		return fmt.Errorf("%w: severe flags must be below minor flags, both negative", ErrInvalidWeights)
	}
	for _, positive := range []int{w.Baseline, w.SubstantiveBodyBonus, w.AskerHelpful, w.AskerExpert, w.ExpertReaction, w.EditBonus} {
		if w.Accepted <= positive {
			return fmt.Errorf("%w: accepted must be the largest positive weight", ErrInvalidWeights)
		}
	}
	return nil
}

// Signals is the snapshot of an answer the score is derived from.
type Signals struct {
	// AskerReaction is the question asker's reaction to the answer; empty when absent.
	AskerReaction    qa.ReactionType
	ExpertBadgeCount int64
	IsAccepted       bool
	SevereFlags      int64
	MinorFlags       int64
	BodyLength       int
	EditCount        int64
}

// ActiveFlags returns the total number of active flags.
func (s Signals) ActiveFlags() int64 {
	return s.SevereFlags + s.MinorFlags
}

// Score is the computed answer quality.
type Score struct {
	AQS   int
	Label Label
}

// Compute derives the AQS and label from signals. It performs no I/O.
func (w Weights) Compute(signals Signals) Score {
	total := w.Baseline

	shortBody := signals.BodyLength < w.ShortBodyChars
	if signals.BodyLength >= w.SubstantiveBodyChars {
		total += w.SubstantiveBodyBonus
	}

	switch signals.AskerReaction {
	case qa.ReactionHelpful:
		total += w.AskerHelpful
	case qa.ReactionExpert:
		total += w.AskerExpert
	case qa.ReactionNotHelpful:
		total += w.AskerNotHelpful
	}

	total += w.ExpertReaction * int(capCount(signals.ExpertBadgeCount, w.ExpertReactionCap))
	total += w.EditBonus * int(capCount(signals.EditCount, w.EditBonusCap))

	if signals.IsAccepted {
		total += w.Accepted
	}

	total += w.SevereFlag * int(nonNegative(signals.SevereFlags))
	total += w.MinorFlag * int(nonNegative(signals.MinorFlags))

	if shortBody && total > ProThreshold-1 {
		total = ProThreshold - 1
	}
	total = clamp(total, minScore, maxScore)

	return Score{AQS: total, Label: labelFor(total, signals, shortBody)}
}

func labelFor(aqs int, signals Signals, shortBody bool) Label {
	if signals.IsAccepted && signals.ActiveFlags() == 0 && !shortBody {
		return LabelStar
	}
	switch {
	case aqs >= ProThreshold:
		return LabelPro
	case aqs >= UsefulThreshold:
		return LabelUseful
	default:
		return LabelNormal
	}
}

// capCount clamps value to [0, limit]. A non-positive limit counts nothing.
func capCount(value int64, limit int) int64 {
	if limit <= 0 {
		return 0
	}
	value = nonNegative(value)
	if value > int64(limit) {
		return int64(limit)
	}
	return value
}

func nonNegative(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
