package qa

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidIdentifier indicates that an identifier is empty or exceeds storage bounds.
	ErrInvalidIdentifier = errors.New("qa: invalid identifier")
	// ErrInvalidReactionType indicates a reaction type outside the supported set.
	ErrInvalidReactionType = errors.New("qa: invalid reaction type")
	// ErrInvalidFlagReason indicates a flag reason outside the supported set.
	ErrInvalidFlagReason = errors.New("qa: invalid flag reason")
	// ErrSelfAction indicates a user attempted to react to, flag or accept their own answer.
	ErrSelfAction = errors.New("qa: self action forbidden")
	// ErrNotPermitted indicates the actor does not own the resource required by the operation.
	ErrNotPermitted = errors.New("qa: actor not permitted")
	// ErrAnswerNotFound indicates the answer does not exist or is hidden.
	ErrAnswerNotFound = errors.New("qa: answer not found")
	// ErrQuestionNotFound indicates the question does not exist or is hidden.
	ErrQuestionNotFound = errors.New("qa: question not found")
)

// NewIdentifier validates a raw identifier and returns its trimmed form.
func NewIdentifier(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidIdentifier, maxIdentifierLength)
	}
	return trimmed, nil
}

// ReactionType enumerates the reactions a user can leave on an answer.
type ReactionType string

const (
	ReactionHelpful    ReactionType = "helpful"
	ReactionExpert     ReactionType = "expert"
	ReactionNotHelpful ReactionType = "not_helpful"
)

// ParseReactionType validates raw input against the supported reaction types.
func ParseReactionType(value string) (ReactionType, error) {
	switch ReactionType(strings.ToLower(strings.TrimSpace(value))) {
	case ReactionHelpful:
		return ReactionHelpful, nil
	case ReactionExpert:
		return ReactionExpert, nil
	case ReactionNotHelpful:
		return ReactionNotHelpful, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReactionType, value)
	}
}

// CounterColumn returns the cached answer counter backing this reaction type, if any.
func (t ReactionType) CounterColumn() (string, bool) {
	switch t {
	case ReactionHelpful:
		return "helpful_count", true
	case ReactionExpert:
		return "expert_badge_count", true
	default:
		return "", false
	}
}

// FlagReason enumerates the reasons an answer can be reported for.
type FlagReason string

const (
	FlagSpam       FlagReason = "SPAM"
	FlagAbuse      FlagReason = "ABUSE"
	FlagMisleading FlagReason = "MISLEADING"
	FlagLowQuality FlagReason = "LOW_QUALITY"
	FlagOther      FlagReason = "OTHER"
)

// ParseFlagReason validates raw input against the supported flag reasons.
func ParseFlagReason(value string) (FlagReason, error) {
	switch FlagReason(strings.ToUpper(strings.TrimSpace(value))) {
	case FlagSpam:
		return FlagSpam, nil
	case FlagAbuse:
		return FlagAbuse, nil
	case FlagMisleading:
		return FlagMisleading, nil
	case FlagLowQuality:
		return FlagLowQuality, nil
	case FlagOther:
		return FlagOther, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFlagReason, value)
	}
}

// IsSevere reports whether the reason is penalised with the harsher flag weight.
func (r FlagReason) IsSevere() bool {
	return r == FlagSpam || r == FlagAbuse
}

// Question is the read-only view of a question owned by the Q&A collaborator.
type Question struct {
	QuestionID       string `gorm:"column:question_id;primaryKey;size:190;not null"`
	AskerID          string `gorm:"column:asker_id;size:190;not null;index"`
	Title            string `gorm:"column:title;size:512;not null;default:''"`
	Category         string `gorm:"column:category;size:64;not null;default:'';index"`
	Views            int64  `gorm:"column:views;not null;default:0"`
	AnswersCount     int64  `gorm:"column:answers_count;not null;default:0"`
	IsHidden         bool   `gorm:"column:is_hidden;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Question) TableName() string {
	return "questions"
}

// Answer carries the signal columns the engine reads and the cached reaction counters it maintains.
type Answer struct {
	AnswerID          string `gorm:"column:answer_id;primaryKey;size:190;not null"`
	QuestionID        string `gorm:"column:question_id;size:190;not null;index"`
	AuthorID          string `gorm:"column:author_id;size:190;not null;index"`
	Body              string `gorm:"column:body;type:text;not null"`
	IsAccepted        bool   `gorm:"column:is_accepted;not null;default:false"`
	AcceptedAtSeconds int64  `gorm:"column:accepted_at_s;not null;default:0"`
	HelpfulCount      int64  `gorm:"column:helpful_count;not null;default:0"`
	ExpertBadgeCount  int64  `gorm:"column:expert_badge_count;not null;default:0"`
	IsHidden          bool   `gorm:"column:is_hidden;not null;default:false"`
	EditCount         int64  `gorm:"column:edit_count;not null;default:0"`
	EditedAtSeconds   int64  `gorm:"column:edited_at_s;not null;default:0"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Answer) TableName() string {
	return "answers"
}

// Reaction records the single active reaction a user holds on an answer.
type Reaction struct {
	ReactionID       string       `gorm:"column:reaction_id;primaryKey;size:190;not null"`
	AnswerID         string       `gorm:"column:answer_id;size:190;not null;uniqueIndex:idx_answer_reactions_answer_user,priority:1"`
	UserID           string       `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_answer_reactions_answer_user,priority:2"`
	Type             ReactionType `gorm:"column:type;size:32;not null"`
	CreatedAtSeconds int64        `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64        `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Reaction) TableName() string {
	return "answer_reactions"
}

// Flag records a user's report against an answer.
type Flag struct {
	FlagID           string     `gorm:"column:flag_id;primaryKey;size:190;not null"`
	AnswerID         string     `gorm:"column:answer_id;size:190;not null;uniqueIndex:idx_answer_flags_answer_user,priority:1"`
	UserID           string     `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_answer_flags_answer_user,priority:2"`
	Reason           FlagReason `gorm:"column:reason;size:32;not null"`
	Note             string     `gorm:"column:note;size:1000;not null;default:''"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64      `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Flag) TableName() string {
	return "answer_flags"
}
